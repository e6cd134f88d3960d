package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPath = "config.yaml"

	DefaultGraceMinutes = 15
)

var unresolved = regexp.MustCompile(`\$\{[A-Za-z_][A-Za-z0-9_]*\}`)

type DiscordConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Token       string `yaml:"token" env:"DISCORD_TOKEN"`
	ClientID    string `yaml:"client_id" env:"DISCORD_CLIENT_ID"`
	Permissions int64  `yaml:"-"`
}

type DatabaseConfig struct {
	Driver     string `yaml:"driver" env:"DB_DRIVER"`
	URL        string `yaml:"url" env:"DATABASE_URL"`
	Host       string `yaml:"host" env:"DB_HOST"`
	Port       int    `yaml:"port" env:"DB_PORT"`
	User       string `yaml:"user" env:"DB_USER"`
	Password   string `yaml:"password" env:"DB_PASSWORD"`
	DBName     string `yaml:"dbname" env:"DB_NAME"`
	SSLMode    string `yaml:"sslmode" env:"DB_SSLMODE"`
	MaxConns   int32  `yaml:"max_conns"`
	MinConns   int32  `yaml:"min_conns"`
	SQLitePath string `yaml:"sqlite_path" env:"DB_SQLITE_PATH"`
}

// DSN is the PostgreSQL connection string. A configured URL wins over the
// individual fields.
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type HTTPConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Addr           string        `yaml:"addr" env:"HTTP_ADDR"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET"`
}

type AttendanceConfig struct {
	// GraceMinutes is nil when unset; 0 disables the grace window
	GraceMinutes     *int   `yaml:"grace_minutes"`
	BatchConcurrency int    `yaml:"batch_concurrency"`
	DefaultTimezone  string `yaml:"default_timezone"`
}

func (a AttendanceConfig) Grace() time.Duration {
	if a.GraceMinutes == nil {
		return DefaultGraceMinutes * time.Minute
	}
	return time.Duration(*a.GraceMinutes) * time.Minute
}

type Config struct {
	Discord    DiscordConfig    `yaml:"discord"`
	Database   DatabaseConfig   `yaml:"database"`
	HTTP       HTTPConfig       `yaml:"http"`
	Auth       AuthConfig       `yaml:"auth"`
	Attendance AttendanceConfig `yaml:"attendance"`
}

func Load() (*Config, error) {
	path := DefaultPath
	if p := os.Getenv("TIMECLOCK_CONFIG"); p != "" {
		path = p
	}
	return LoadFile(path)
}

func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML after replacing ${VAR} placeholders with environment
// values, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	content := string(data)
	for _, env := range os.Environ() {
		pair := strings.SplitN(env, "=", 2)
		if len(pair) != 2 {
			continue
		}
		placeholder := "${" + pair[0] + "}"
		content = strings.ReplaceAll(content, placeholder, pair[1])
	}
	// Unset variables become empty so required-field checks catch them
	content = unresolved.ReplaceAllString(content, "")

	var cfg Config
	if err := yaml.Unmarshal([]byte(content), &cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	// DB_PORT arrives as a string when it comes from the environment
	if portStr := os.Getenv("DB_PORT"); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("invalid DB_PORT value: %w", err)
		}
		cfg.Database.Port = port
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Database.MaxConns == 0 {
		c.Database.MaxConns = 10
	}
	if c.Database.MinConns == 0 {
		c.Database.MinConns = 2
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":3000"
	}
	if c.HTTP.RequestTimeout == 0 {
		c.HTTP.RequestTimeout = 5 * time.Second
	}
	if c.Attendance.GraceMinutes == nil {
		grace := DefaultGraceMinutes
		c.Attendance.GraceMinutes = &grace
	}
	if c.Attendance.BatchConcurrency == 0 {
		c.Attendance.BatchConcurrency = 4
	}
	if c.Attendance.DefaultTimezone == "" {
		c.Attendance.DefaultTimezone = "UTC"
	}
}

func (c *Config) Validate() error {
	var missing []string
	switch c.Database.Driver {
	case "postgres":
		if c.Database.URL != "" {
			break
		}
		if c.Database.Host == "" {
			missing = append(missing, "database.host")
		}
		if c.Database.Port == 0 {
			missing = append(missing, "database.port")
		}
		if c.Database.User == "" {
			missing = append(missing, "database.user")
		}
		if c.Database.DBName == "" {
			missing = append(missing, "database.dbname")
		}
	case "sqlite":
		if c.Database.SQLitePath == "" {
			missing = append(missing, "database.sqlite_path")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Discord.Enabled {
		if c.Discord.Token == "" {
			missing = append(missing, "discord.token")
		}
		if c.Discord.ClientID == "" {
			missing = append(missing, "discord.client_id")
		}
	}
	if c.HTTP.Enabled && c.Auth.JWTSecret == "" {
		missing = append(missing, "auth.jwt_secret")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required config values: %s", strings.Join(missing, ", "))
	}
	if c.Attendance.GraceMinutes != nil && *c.Attendance.GraceMinutes < 0 {
		return fmt.Errorf("attendance.grace_minutes must not be negative")
	}
	if _, err := time.LoadLocation(c.Attendance.DefaultTimezone); err != nil {
		return fmt.Errorf("invalid attendance.default_timezone: %w", err)
	}
	return nil
}
