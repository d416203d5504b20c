package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"planline/internal/domain"
	"planline/internal/engine"
)

var mutationErrors = []int{
	http.StatusBadRequest,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
	http.StatusInternalServerError,
}

type mutationOutput struct {
	Body engine.MutationResult `json:"body"`
}

func mutationResponse(res engine.MutationResult) (*mutationOutput, error) {
	if !res.Success {
		return nil, handleError(res.Error)
	}
	return &mutationOutput{Body: res}, nil
}

func registerHierarchy(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "attach-item",
		Method:      http.MethodPost,
		Path:        "/items/{item_id}/attach",
		Summary:     "Attach a root item under a parent",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ItemID string        `path:"item_id"`
		Body   AttachRequest `json:"body"`
	}) (*mutationOutput, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return mutationResponse(e.AttachChildItem(ctx, engine.AttachInput{
			ChildItemID:  input.ItemID,
			ParentItemID: input.Body.ParentItemID,
			ActorID:      actorID,
		}))
	})

	huma.Register(api, huma.Operation{
		OperationID: "detach-item",
		Method:      http.MethodPost,
		Path:        "/items/{item_id}/detach",
		Summary:     "Detach an item from its parent",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *itemPath) (*mutationOutput, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return mutationResponse(e.DetachChildItem(ctx, engine.DetachInput{ChildItemID: input.ItemID, ActorID: actorID}))
	})

	huma.Register(api, huma.Operation{
		OperationID: "move-item",
		Method:      http.MethodPost,
		Path:        "/items/{item_id}/move",
		Summary:     "Move an item under a new parent",
		Description: "Omitting new_parent_id detaches the item. A failed move leaves the item where it was.",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ItemID string      `path:"item_id"`
		Body   MoveRequest `json:"body"`
	}) (*mutationOutput, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return mutationResponse(e.MoveItemToNewParent(ctx, engine.MoveInput{
			ItemID:      input.ItemID,
			NewParentID: input.Body.NewParentID,
			ActorID:     actorID,
		}))
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-item-path",
		Method:      http.MethodGet,
		Path:        "/items/{item_id}/path",
		Summary:     "Ancestor chain, root first",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *itemPath) (*struct {
		Body []domain.PathEntry `json:"body"`
	}, error) {
		path, err := e.GetItemPath(ctx, input.ItemID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.PathEntry `json:"body"`
		}{Body: path}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-item-root",
		Method:      http.MethodGet,
		Path:        "/items/{item_id}/root",
		Summary:     "Topmost ancestor",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *itemPath) (*struct {
		Body domain.Item `json:"body"`
	}, error) {
		root, err := e.GetRoot(ctx, input.ItemID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Item `json:"body"`
		}{Body: root}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-item-parent",
		Method:      http.MethodGet,
		Path:        "/items/{item_id}/parent",
		Summary:     "Parent item",
		Description: "Responds 404 with code no_parent for roots.",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *itemPath) (*struct {
		Body domain.Item `json:"body"`
	}, error) {
		parent, err := e.GetParent(ctx, input.ItemID)
		if err != nil {
			return nil, handleError(err)
		}
		if parent == nil {
			return nil, newAPIError(http.StatusNotFound, "no_parent", "item "+input.ItemID+" is a root", map[string]any{"item_id": input.ItemID})
		}
		return &struct {
			Body domain.Item `json:"body"`
		}{Body: *parent}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-item-children",
		Method:      http.MethodGet,
		Path:        "/items/{item_id}/children",
		Summary:     "Direct children",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *itemPath) (*struct {
		Body itemList `json:"body"`
	}, error) {
		children, err := e.GetChildren(ctx, input.ItemID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body itemList `json:"body"`
		}{Body: itemList{Items: itemsOrEmpty(children)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-item-descendants",
		Method:      http.MethodGet,
		Path:        "/items/{item_id}/descendants",
		Summary:     "All descendants, breadth first",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *itemPath) (*struct {
		Body itemList `json:"body"`
	}, error) {
		items, err := e.GetAllDescendants(ctx, input.ItemID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body itemList `json:"body"`
		}{Body: itemList{Items: itemsOrEmpty(items)}}, nil
	})
}

func registerTree(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-tree",
		Method:      http.MethodGet,
		Path:        "/tree",
		Summary:     "Roadmap tree",
		Description: "item_id wins over section_id, which wins over project_id. Archived subtrees are skipped unless include_archived is set.",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID       string `query:"project_id"`
		SectionID       string `query:"section_id"`
		ItemID          string `query:"item_id"`
		IncludeArchived bool   `query:"include_archived"`
	}) (*struct {
		Body []*domain.TreeNode `json:"body"`
	}, error) {
		if input.ProjectID == "" && input.SectionID == "" && input.ItemID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "one of project_id, section_id or item_id is required", nil)
		}
		forest, err := e.GetRoadmapItemTree(ctx, domain.TreeFilter{
			ProjectID:       input.ProjectID,
			SectionID:       input.SectionID,
			ItemID:          input.ItemID,
			IncludeArchived: input.IncludeArchived,
		})
		if err != nil {
			return nil, handleError(err)
		}
		if forest == nil {
			forest = []*domain.TreeNode{}
		}
		return &struct {
			Body []*domain.TreeNode `json:"body"`
		}{Body: forest}, nil
	})
}
