package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"planline/internal/domain"
	"planline/internal/engine"
	"planline/internal/repo"
)

type itemPath struct {
	ItemID string `path:"item_id"`
}

func registerItems(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-item",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/items",
		Summary:       "Create item",
		Description:   "New items are roots of their section; place them with attach.",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ProjectID string            `path:"project_id"`
		Body      CreateItemRequest `json:"body"`
	}) (*struct {
		Body domain.Item `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		start, err := parseDate("start_date", input.Body.StartDate)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		end, err := parseDate("end_date", input.Body.EndDate)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		it, err := e.CreateItem(ctx, engine.ItemCreateOptions{
			ID:          stringOrEmpty(input.Body.ID),
			ProjectID:   input.ProjectID,
			SectionID:   input.Body.SectionID,
			Type:        input.Body.Type,
			Title:       input.Body.Title,
			Description: stringOrEmpty(input.Body.Description),
			StartDate:   start,
			EndDate:     end,
			Status:      domain.ItemStatus(stringOrEmpty(input.Body.Status)),
			Metadata:    input.Body.Metadata,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Item `json:"body"`
		}{Body: it}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-items",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/items",
		Summary:     "List items",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		SectionID string `query:"section_id"`
		ParentID  string `query:"parent_id"`
		Type      string `query:"type"`
		Status    string `query:"status"`
		Limit     int    `query:"limit" default:"200"`
	}) (*struct {
		Body itemList `json:"body"`
	}, error) {
		items, err := e.ListItems(ctx, repo.ItemFilters{
			ProjectID: input.ProjectID,
			SectionID: input.SectionID,
			ParentID:  input.ParentID,
			Type:      domain.ItemType(input.Type),
			Status:    domain.ItemStatus(input.Status),
			Limit:     input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body itemList `json:"body"`
		}{Body: itemList{Items: itemsOrEmpty(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-item",
		Method:      http.MethodGet,
		Path:        "/items/{item_id}",
		Summary:     "Get item",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *itemPath) (*struct {
		Body domain.Item `json:"body"`
	}, error) {
		it, err := e.GetItem(ctx, input.ItemID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Item `json:"body"`
		}{Body: it}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-item",
		Method:      http.MethodDelete,
		Path:        "/items/{item_id}",
		Summary:     "Delete item",
		Description: "Direct children are detached and become roots of their own subtrees.",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *itemPath) (*struct {
		Body DeleteItemResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteItem(ctx, input.ItemID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DeleteItemResponse `json:"body"`
		}{Body: DeleteItemResponse{Deleted: input.ItemID}}, nil
	})
}
