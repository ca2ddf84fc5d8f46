package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"masterplan/internal/domain"
)

// Config models masterplan.yml.
type Config struct {
	Calendar struct {
		Timezone  string `yaml:"timezone"`
		StartHour int    `yaml:"start_hour"`
		EndHour   int    `yaml:"end_hour"`
	} `yaml:"calendar"`
	Resources struct {
		Machines map[domain.ProcessKind][]string `yaml:"machines"`
		Lines    []string                        `yaml:"lines"`
	} `yaml:"resources"`
	Schedule struct {
		StrictDependencies bool `yaml:"strict_dependencies"`
	} `yaml:"schedule"`
	Sync   SyncConfig   `yaml:"sync"`
	Server ServerConfig `yaml:"server"`
}

type SyncConfig struct {
	Remote         string        `yaml:"remote"`
	Interval       time.Duration `yaml:"interval"`
	Cooldown       time.Duration `yaml:"cooldown"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	Mode           string        `yaml:"mode"`
	CacheFile      string        `yaml:"cache_file"`
}

type ServerConfig struct {
	Addr     string `yaml:"addr"`
	BasePath string `yaml:"base_path"`
}

// Location resolves the calendar timezone. Empty or "Local" means the host zone.
func (c *Config) Location() (*time.Location, error) {
	tz := strings.TrimSpace(c.Calendar.Timezone)
	if tz == "" || strings.EqualFold(tz, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("calendar.timezone %q: %w", tz, err)
	}
	return loc, nil
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Calendar.StartHour < 0 || c.Calendar.StartHour > 23 {
		return fmt.Errorf("calendar.start_hour must be within 0..23")
	}
	if c.Calendar.EndHour <= c.Calendar.StartHour || c.Calendar.EndHour > 24 {
		return fmt.Errorf("calendar.end_hour must be after start_hour and at most 24")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	for kind, machines := range c.Resources.Machines {
		if !kind.Valid() || kind == domain.ProcessAssembly {
			return fmt.Errorf("resources.machines has unknown process kind %s", kind)
		}
		if len(machines) == 0 {
			return fmt.Errorf("resources.machines.%s is empty", kind)
		}
		for _, m := range machines {
			if strings.TrimSpace(m) == "" {
				return fmt.Errorf("resources.machines.%s contains an empty machine id", kind)
			}
		}
	}
	if len(c.Resources.Lines) == 0 {
		return fmt.Errorf("resources.lines is required")
	}
	for _, l := range c.Resources.Lines {
		if strings.TrimSpace(l) == "" {
			return fmt.Errorf("resources.lines contains an empty line id")
		}
	}
	if c.Sync.Interval <= 0 {
		return fmt.Errorf("sync.interval must be positive")
	}
	if c.Sync.Cooldown < 0 {
		return fmt.Errorf("sync.cooldown must not be negative")
	}
	switch c.Sync.Mode {
	case "merge", "replace":
	default:
		return fmt.Errorf("sync.mode must be 'merge' or 'replace'")
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("server.base_path must start with /")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "masterplan.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with mp config init", path)
		}
		return nil, err
	}
	return FromFile(path)
}

// LoadOptional returns the default config if the workspace has no config file.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromFile(path)
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("default config template: %v", err))
	}
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys omitted from
// data keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
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

const defaultTemplate = `calendar:
  timezone: Local
  start_hour: 8
  end_hour: 18

resources:
  machines:
    sheet-prep: [RESMADO_01]
    print: [IMPRESION_01, IMPRESION_02, IMPRESION_03]
    varnish: [BARNIZ_01, BARNIZ_02]
    laminate: [LAMINADO_01, LAMINADO_02]
    foil-stamp: [ESTAMPADO_01]
    emboss: [REALZADO_01]
    die-cut: [TROQUELADO_01, TROQUELADO_02]
  lines: [MOEX, YOBEL, MELISSA, CAJA 1, CAJA 2, CAJA 3]

schedule:
  strict_dependencies: false

sync:
  remote: http://127.0.0.1:8080
  interval: 5s
  cooldown: 2s
  request_timeout: 10s
  mode: merge
  cache_file: .masterplan/events.json

server:
  addr: 127.0.0.1:8080
  base_path: /api
`
