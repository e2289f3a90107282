// Package config provides configuration loading for the rlsdemo CLI.
//
// Precedence, lowest first: built-in defaults, config file, environment, flags.
// The service URL and anonymous key are read from SERVICE_URL and
// SERVICE_ANON_KEY; they are never compiled in.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/canonica-labs/rlsdemo/internal/errors"
	"github.com/canonica-labs/rlsdemo/pkg/api"
	"github.com/canonica-labs/rlsdemo/pkg/models"
)

// Environment variable names bound explicitly (without the RLSDEMO_ prefix).
const (
	EnvServiceURL   = "SERVICE_URL"
	EnvAnonKey      = "SERVICE_ANON_KEY"
	EnvDemoPassword = "DEMO_PASSWORD"
)

// demoPassword is the password the seeded demo accounts share. Override with
// DEMO_PASSWORD or per-user passwords in the config file.
const demoPassword = "testtest"

// Config holds the application configuration.
type Config struct {
	// Service describes the hosted platform project.
	Service ServiceConfig `mapstructure:"service"`

	// Users is the ordered list of demo credentials.
	Users []models.Credential `mapstructure:"users"`

	// Demo holds settings shared by all demo users.
	Demo DemoConfig `mapstructure:"demo"`

	// Tables names the two tables the demo reads.
	Tables TablesConfig `mapstructure:"tables"`

	// Logging configuration
	Logging LoggingConfig `mapstructure:"logging"`

	// Audit configuration
	Audit AuditConfig `mapstructure:"audit"`
}

// ServiceConfig holds the platform endpoint and key.
type ServiceConfig struct {
	URL     string        `mapstructure:"url"`
	AnonKey string        `mapstructure:"anon_key"`
	Schema  string        `mapstructure:"schema"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// DemoConfig holds settings shared by all demo users.
type DemoConfig struct {
	// Password is used for every user that has none of its own.
	Password string `mapstructure:"password"`
}

// TablesConfig holds the table names.
type TablesConfig struct {
	Documents string `mapstructure:"documents"`
	Sections  string `mapstructure:"sections"`
}

// LoggingConfig holds diagnostic logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// AuditConfig holds the visibility audit sinks.
type AuditConfig struct {
	// JSONPath appends JSON lines to this file. "-" writes to stderr.
	JSONPath string `mapstructure:"json_path"`

	// Driver enables the SQL sink: "sqlite" or "postgres".
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// DefaultUsers returns the demo's user list, in demo order.
func DefaultUsers() []models.Credential {
	return []models.Credential{
		{Email: "alice@companya.com"},
		{Email: "bob@companya.com"},
		{Email: "charlie@companyb.com"},
		{Email: "david@companyb.com"},
	}
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	cfg := &Config{
		Service: ServiceConfig{
			Schema:  api.DefaultSchema,
			Timeout: 30 * time.Second,
		},
		Users: DefaultUsers(),
		Demo: DemoConfig{
			Password: demoPassword,
		},
		Tables: TablesConfig{
			Documents: "documents",
			Sections:  "document_sections",
		},
		Logging: LoggingConfig{
			Level:  "warn",
			Format: "console",
		},
	}
	cfg.normalize()
	return cfg
}

// Load loads configuration from file and environment.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".rlsdemo"))
		}
		v.AddConfigPath(".")
		v.SetConfigName("rlsdemo")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("RLSDEMO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// The service coordinates use their well-known names, not the prefix.
	_ = v.BindEnv("service.url", EnvServiceURL, "RLSDEMO_SERVICE_URL")
	_ = v.BindEnv("service.anon_key", EnvAnonKey, "RLSDEMO_SERVICE_ANON_KEY")
	_ = v.BindEnv("demo.password", EnvDemoPassword, "RLSDEMO_DEMO_PASSWORD")

	if err := v.ReadInConfig(); err != nil {
		// Config file is optional
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}
	cfg.normalize()

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	users := make([]map[string]interface{}, 0, 4)
	for _, u := range DefaultUsers() {
		users = append(users, map[string]interface{}{"email": u.Email})
	}

	v.SetDefault("service.url", "")
	v.SetDefault("service.anon_key", "")
	v.SetDefault("service.schema", api.DefaultSchema)
	v.SetDefault("service.timeout", "30s")
	v.SetDefault("users", users)
	v.SetDefault("demo.password", demoPassword)
	v.SetDefault("tables.documents", "documents")
	v.SetDefault("tables.sections", "document_sections")
	v.SetDefault("logging.level", "warn")
	v.SetDefault("logging.format", "console")
	v.SetDefault("audit.json_path", "")
	v.SetDefault("audit.driver", "")
	v.SetDefault("audit.dsn", "")
}

// normalize trims values and fills per-user passwords and groups.
func (c *Config) normalize() {
	c.Service.URL = strings.TrimRight(strings.TrimSpace(c.Service.URL), "/")
	c.Service.AnonKey = strings.TrimSpace(c.Service.AnonKey)
	c.Audit.Driver = strings.ToLower(strings.TrimSpace(c.Audit.Driver))
	for i := range c.Users {
		u := &c.Users[i]
		u.Email = strings.TrimSpace(u.Email)
		if u.Password == "" {
			u.Password = c.Demo.Password
		}
		if u.Group == "" {
			u.Group = GroupOf(u.Email)
		}
	}
}

// GroupOf derives a tenant group from an email address: its domain.
func GroupOf(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return strings.ToLower(email[at+1:])
}

// Validate checks that the configuration is usable for talking to the service.
func (c *Config) Validate() error {
	if c.Service.URL == "" {
		return errors.NewInvalidConfig("service.url", "required (set "+EnvServiceURL+")")
	}
	u, err := url.Parse(c.Service.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.NewInvalidConfig("service.url", fmt.Sprintf("%q is not an http(s) URL", c.Service.URL))
	}
	if c.Service.AnonKey == "" {
		return errors.NewInvalidConfig("service.anon_key", "required (set "+EnvAnonKey+")")
	}
	if c.Service.Timeout < 0 {
		return errors.NewInvalidConfig("service.timeout", "must not be negative")
	}
	if c.Tables.Documents == "" {
		return errors.NewInvalidConfig("tables.documents", "required")
	}
	if c.Tables.Sections == "" {
		return errors.NewInvalidConfig("tables.sections", "required")
	}
	if err := c.ValidateUsers(); err != nil {
		return err
	}
	switch c.Audit.Driver {
	case "", "sqlite", "postgres":
	default:
		return errors.NewInvalidConfig("audit.driver", fmt.Sprintf("unknown driver %q (want sqlite or postgres)", c.Audit.Driver))
	}
	if c.Audit.Driver != "" && c.Audit.DSN == "" {
		return errors.NewInvalidConfig("audit.dsn", "required when audit.driver is set")
	}
	return nil
}

// ValidateUsers checks the demo user list.
func (c *Config) ValidateUsers() error {
	if len(c.Users) == 0 {
		return errors.NewInvalidConfig("users", "at least one user is required")
	}
	seen := make(map[string]bool, len(c.Users))
	for i, u := range c.Users {
		field := fmt.Sprintf("users[%d].email", i)
		if u.Email == "" {
			return errors.NewInvalidConfig(field, "required")
		}
		if !strings.Contains(u.Email, "@") {
			return errors.NewInvalidConfig(field, fmt.Sprintf("%q is not an email address", u.Email))
		}
		key := strings.ToLower(u.Email)
		if seen[key] {
			return errors.NewInvalidConfig(field, fmt.Sprintf("duplicate user %s", u.Email))
		}
		seen[key] = true
	}
	return nil
}

// FilterUsers keeps the users whose email is in emails, preserving the
// configured order. An empty filter keeps everyone.
func (c *Config) FilterUsers(emails []string) ([]models.Credential, error) {
	if len(emails) == 0 {
		return c.Users, nil
	}
	want := make(map[string]bool, len(emails))
	for _, e := range emails {
		want[strings.ToLower(strings.TrimSpace(e))] = true
	}
	var out []models.Credential
	for _, u := range c.Users {
		if want[strings.ToLower(u.Email)] {
			out = append(out, u)
			delete(want, strings.ToLower(u.Email))
		}
	}
	if len(want) > 0 {
		missing := make([]string, 0, len(want))
		for e := range want {
			missing = append(missing, e)
		}
		sort.Strings(missing)
		return nil, errors.NewInvalidConfig("users", fmt.Sprintf("not configured: %s", strings.Join(missing, ", ")))
	}
	return out, nil
}

// Override applies command-line values on top of the loaded configuration.
// Empty values leave the loaded ones in place.
func (c *Config) Override(serviceURL, anonKey string) {
	if serviceURL != "" {
		c.Service.URL = serviceURL
	}
	if anonKey != "" {
		c.Service.AnonKey = anonKey
	}
	c.normalize()
}
