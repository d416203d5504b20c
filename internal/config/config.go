package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"planline/internal/domain"
	"planline/internal/hierarchy"
)

// Config models planline.yml.
type Config struct {
	Project struct {
		ID   string `yaml:"id" json:"id"`
		Name string `yaml:"name,omitempty" json:"name,omitempty"`
	} `yaml:"project" json:"project"`
	Items struct {
		DefaultStatus domain.ItemStatus `yaml:"default_status" json:"default_status"`
	} `yaml:"items" json:"items"`
	Hierarchy hierarchy.Policy `yaml:"hierarchy" json:"hierarchy"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with pl config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Project.ID == "" {
		return fmt.Errorf("config.project.id is required")
	}
	if c.Items.DefaultStatus != "" && !c.Items.DefaultStatus.Valid() {
		return fmt.Errorf("config.items.default_status %q is not a known status", c.Items.DefaultStatus)
	}
	if err := c.Hierarchy.Validate(); err != nil {
		return fmt.Errorf("config.hierarchy: %w", err)
	}
	return nil
}

// RuleTable compiles the hierarchy policy.
func (c *Config) RuleTable() (*hierarchy.RuleTable, error) {
	return hierarchy.NewRuleTable(c.Hierarchy)
}

// DefaultItemStatus is the status given to new items that do not name one.
func (c *Config) DefaultItemStatus() domain.ItemStatus {
	if c.Items.DefaultStatus == "" {
		return domain.StatusNotStarted
	}
	return c.Items.DefaultStatus
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "planline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(projectID string) string {
	return fmt.Sprintf(defaultTemplate, projectID)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the config seeded into new projects.
func Default(projectID string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault(projectID))).Decode(&cfg)
	cfg.Project.ID = projectID
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// ToYAML renders cfg for `pl config show`.
func ToYAML(cfg *Config) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

const defaultTemplate = `project:
  id: %s

items:
  default_status: not_started

hierarchy:
  # deepest allowed item_depth; roots sit at 0
  max_depth: 5
  # extra hops read traversals tolerate before reporting corrupt data
  traversal_margin: 2
  composition:
    - parent: goal
      children: [goal, milestone, task, habit, note, document, review]
      envelope_exempt: [habit, note, document]
    - parent: milestone
      children: [task, event, review, note, document]
      envelope_exempt: [note, document]
    - parent: task
      children: [task, note, document, review]
      envelope_exempt: [note, document]
    - parent: event
      children: [task, note, document]
      envelope_exempt: [note, document]
    - parent: habit
      children: [note]
      max_depth: 4
      envelope_exempt: [note]
    - parent: review
      children: [note, document]
      envelope_exempt: [note, document]
    - parent: document
      children: [note]
      envelope_exempt: [note]
`
