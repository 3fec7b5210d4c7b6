package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"campusworks/internal/lifecycle"
)

// Config models campusworks.yml.
type Config struct {
	Escrow struct {
		Scale           int32            `yaml:"scale"`
		DefaultSchedule string           `yaml:"default_schedule"`
		Schedules       map[string][]int `yaml:"schedules"`
	} `yaml:"escrow"`
	Review struct {
		RevisionWindow     time.Duration   `yaml:"revision_window"`
		MilestoneChecklist []ChecklistItem `yaml:"milestone_checklist"`
		FinalChecklist     []ChecklistItem `yaml:"final_checklist"`
	} `yaml:"review"`
	Applications struct {
		DefaultRank string `yaml:"default_rank"`
	} `yaml:"applications"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type ChecklistItem struct {
	ID    string `yaml:"id"`
	Label string `yaml:"label"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

var rankCriteria = map[string]bool{
	"rating":        true,
	"past_projects": true,
	"reliability":   true,
	"submitted_at":  true,
}

// Load reads and validates config from workspace, falling back to defaults
// when no file exists.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Escrow.Scale < 0 || c.Escrow.Scale > 8 {
		return fmt.Errorf("config.escrow.scale must be between 0 and 8")
	}
	if len(c.Escrow.Schedules) == 0 {
		return fmt.Errorf("config.escrow.schedules is required")
	}
	for name, schedule := range c.Escrow.Schedules {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("config.escrow.schedules contains empty name")
		}
		if err := lifecycle.ValidateSchedule(schedule); err != nil {
			return fmt.Errorf("config.escrow.schedules.%s: %w", name, err)
		}
	}
	if _, ok := c.Escrow.Schedules[c.Escrow.DefaultSchedule]; !ok {
		return fmt.Errorf("config.escrow.default_schedule %q not defined", c.Escrow.DefaultSchedule)
	}
	if c.Review.RevisionWindow < 0 {
		return fmt.Errorf("config.review.revision_window must not be negative")
	}
	if err := validateChecklist("milestone_checklist", c.Review.MilestoneChecklist); err != nil {
		return err
	}
	if err := validateChecklist("final_checklist", c.Review.FinalChecklist); err != nil {
		return err
	}
	if c.Applications.DefaultRank != "" && !rankCriteria[c.Applications.DefaultRank] {
		return fmt.Errorf("config.applications.default_rank %q unknown", c.Applications.DefaultRank)
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	return nil
}

func validateChecklist(name string, items []ChecklistItem) error {
	seen := map[string]bool{}
	for _, it := range items {
		if strings.TrimSpace(it.ID) == "" {
			return fmt.Errorf("config.review.%s has empty item id", name)
		}
		if seen[it.ID] {
			return fmt.Errorf("config.review.%s has duplicate item %s", name, it.ID)
		}
		seen[it.ID] = true
	}
	return nil
}

// Schedule returns the named release schedule, or the default one when name is empty.
func (c *Config) Schedule(name string) ([]int, error) {
	if name == "" {
		name = c.Escrow.DefaultSchedule
	}
	s, ok := c.Escrow.Schedules[name]
	if !ok {
		return nil, fmt.Errorf("schedule %q not defined", name)
	}
	return append([]int(nil), s...), nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "campusworks.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys missing
// from data keep their default values; escrow.schedules, when present,
// replaces the built-in schedules instead of merging with them.
func FromYAML(data []byte) (*Config, error) {
	var overrides struct {
		Escrow struct {
			Schedules map[string][]int `yaml:"schedules"`
		} `yaml:"escrow"`
	}
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	cfg := Default()
	if overrides.Escrow.Schedules != nil {
		cfg.Escrow.Schedules = nil
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `escrow:
  scale: 2
  default_schedule: standard
  # Listing schedules replaces this whole set; default_schedule must name one of them.
  schedules:
    standard: [25, 75]
    thirds: [33, 33, 34]
    staged: [20, 20, 20, 20, 20]

review:
  revision_window: 48h
  milestone_checklist:
    - id: deliverables
      label: "Deliverables uploaded"
    - id: requirements
      label: "Requirements for this milestone met"
    - id: reviewed
      label: "Work reviewed by the business"
  final_checklist:
    - id: handover
      label: "Final files and credentials handed over"
    - id: acceptance
      label: "Acceptance criteria validated"

applications:
  default_rank: rating
`
