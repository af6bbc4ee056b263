package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"signoff/internal/domain"
	"signoff/internal/identity"
)

const DefaultReminderCooldown = time.Hour

// Config models signoff.yml.
type Config struct {
	Organization struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"organization"`
	Directory struct {
		People      []domain.Identity     `yaml:"people"`
		Departments []identity.Department `yaml:"departments"`
	} `yaml:"directory"`
	Chains struct {
		Default []string            `yaml:"default"`
		Types   map[string][]string `yaml:"types"`
	} `yaml:"chains"`
	Views struct {
		AllRoles []string `yaml:"all_roles"`
	} `yaml:"views"`
	Reminders struct {
		Cooldown string `yaml:"cooldown"`
	} `yaml:"reminders"`
	Notifications NotificationConfig `yaml:"notifications"`
	Storage       StorageConfig      `yaml:"storage"`
	Server        struct {
		Addr           string `yaml:"addr"`
		BasePath       string `yaml:"base_path"`
		AllowDevHeader bool   `yaml:"allow_dev_header"`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

type NotificationConfig struct {
	Sink           string `yaml:"sink"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	NATS           struct {
		URL     string `yaml:"url"`
		Subject string `yaml:"subject"`
	} `yaml:"nats"`
	Webhook struct {
		URL    string `yaml:"url"`
		Secret string `yaml:"secret"`
	} `yaml:"webhook"`
}

type StorageConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// ReminderCooldown parses reminders.cooldown; empty means the default, "0" disables.
func (c *Config) ReminderCooldown() (time.Duration, error) {
	raw := strings.TrimSpace(c.Reminders.Cooldown)
	if raw == "" {
		return DefaultReminderCooldown, nil
	}
	if raw == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("reminders.cooldown: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("reminders.cooldown must not be negative")
	}
	return d, nil
}

// NotifyTimeout is the per-delivery deadline for notification sinks.
func (c *Config) NotifyTimeout() time.Duration {
	if c.Notifications.TimeoutSeconds > 0 {
		return time.Duration(c.Notifications.TimeoutSeconds) * time.Second
	}
	return 5 * time.Second
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Organization.ID == "" {
		return fmt.Errorf("config.organization.id is required")
	}
	people := map[string]bool{}
	for _, p := range c.Directory.People {
		if strings.TrimSpace(p.ID) == "" {
			return fmt.Errorf("config.directory.people contains an entry without id")
		}
		if people[p.ID] {
			return fmt.Errorf("config.directory.people has duplicate id %s", p.ID)
		}
		if p.Role == "" {
			return fmt.Errorf("person %s has no role", p.ID)
		}
		people[p.ID] = true
	}
	for _, p := range c.Directory.People {
		if p.ManagerID != "" && !people[p.ManagerID] {
			return fmt.Errorf("person %s references unknown manager %s", p.ID, p.ManagerID)
		}
	}
	for _, dep := range c.Directory.Departments {
		if dep.ID == "" {
			return fmt.Errorf("config.directory.departments contains an entry without id")
		}
		if dep.Head != "" && !people[dep.Head] {
			return fmt.Errorf("department %s references unknown head %s", dep.ID, dep.Head)
		}
	}
	if len(c.Chains.Default) == 0 && len(c.Chains.Types) == 0 {
		return fmt.Errorf("config.chains needs a default chain or at least one typed chain")
	}
	if err := validateStages("default", c.Chains.Default, people); err != nil {
		return err
	}
	for t, stages := range c.Chains.Types {
		if t == "" {
			return fmt.Errorf("config.chains.types has an empty request type")
		}
		if len(stages) == 0 {
			return fmt.Errorf("chain for type %s is empty", t)
		}
		if err := validateStages(t, stages, people); err != nil {
			return err
		}
	}
	if _, err := c.ReminderCooldown(); err != nil {
		return err
	}
	switch c.Notifications.Sink {
	case "", "log", "none":
	case "nats":
		if c.Notifications.NATS.URL == "" {
			return fmt.Errorf("config.notifications.nats.url is required for the nats sink")
		}
	case "webhook":
		if c.Notifications.Webhook.URL == "" {
			return fmt.Errorf("config.notifications.webhook.url is required for the webhook sink")
		}
	default:
		return fmt.Errorf("config.notifications.sink must be one of log, nats, webhook, none")
	}
	switch c.Storage.Driver {
	case "", "sqlite", "memory":
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("config.storage.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("config.storage.driver must be one of sqlite, postgres, memory")
	}
	switch c.Log.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("config.log.format must be console or json")
	}
	return nil
}

// CustomTypes returns the chain request types that are not built in, sorted.
func (c *Config) CustomTypes() []string {
	var out []string
	for t := range c.Chains.Types {
		if !slices.Contains(domain.KnownTypes, domain.RequestType(t)) {
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out
}

func validateStages(chain string, stages []string, people map[string]bool) error {
	for _, stage := range stages {
		kind, arg := SplitStage(stage)
		switch kind {
		case "manager", "department_head":
			if arg != "" {
				return fmt.Errorf("chain %s: stage %q takes no argument", chain, stage)
			}
		case "role":
			if arg == "" {
				return fmt.Errorf("chain %s: stage %q needs a role", chain, stage)
			}
		case "person":
			if !people[arg] {
				return fmt.Errorf("chain %s: stage %q references unknown person", chain, stage)
			}
		default:
			return fmt.Errorf("chain %s: unknown stage %q", chain, stage)
		}
	}
	return nil
}

// SplitStage splits "role:hr" into ("role", "hr").
func SplitStage(stage string) (string, string) {
	kind, arg, _ := strings.Cut(strings.TrimSpace(stage), ":")
	return strings.TrimSpace(kind), strings.TrimSpace(arg)
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "signoff.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with signoff config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOrDefault falls back to the built-in sample organization when the
// workspace has no config file.
func LoadOrDefault(workspace string) (*Config, error) {
	if _, err := os.Stat(Path(workspace)); os.IsNotExist(err) {
		return Default(), nil
	}
	return Load(workspace)
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
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

const defaultTemplate = `organization:
  id: acme
  name: Acme Corp

directory:
  departments:
    - id: engineering
      name: Engineering
      head: mgr-1
    - id: people
      name: People Operations
      head: hr-1
    - id: operations
      name: Operations
      head: adm-1
  people:
    - id: adm-1
      name: Alex Admin
      role: admin
      department: operations
    - id: hr-1
      name: Harper Reyes
      role: hr
      department: people
      manager: adm-1
    - id: mgr-1
      name: Morgan Lee
      role: manager
      department: engineering
      manager: adm-1
    - id: emp-1
      name: Jamie Chen
      role: employee
      department: engineering
      manager: mgr-1
    - id: emp-2
      name: Sam Patel
      role: employee
      department: engineering
      manager: mgr-1

chains:
  default: [manager]
  types:
    leave_request: [manager, role:hr]
    time_off: [manager]
    expense_reimbursement: [manager, role:admin]
    equipment_request: [manager]
    policy_exception: [manager, role:hr, role:admin]
    promotion_request: [manager, department_head, role:hr]
    transfer_request: [manager, role:hr]

views:
  all_roles: [admin, hr]

reminders:
  cooldown: 1h

notifications:
  sink: log
  timeout_seconds: 5
  nats:
    subject: signoff.reminders

storage:
  driver: sqlite

server:
  addr: 127.0.0.1:8080
  base_path: /v1

log:
  level: info
  format: console
`
