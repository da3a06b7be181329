package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

type Database struct {
	Name     string `yaml:"name" toml:"name"`
	Driver   string `yaml:"driver" toml:"driver"`
	Host     string `yaml:"host" toml:"host"`
	Port     string `yaml:"port" toml:"port"`
	User     string `yaml:"user" toml:"user"`
	Password string `yaml:"password" toml:"password"`
	Database string `yaml:"database" toml:"database"`
	Schema   string `yaml:"schema" toml:"schema"`
	// Path is the file of a sqlite database.
	Path     string `yaml:"path" toml:"path"`
	MaxConns int    `yaml:"max_conns" toml:"max_conns"`
	Default  bool   `yaml:"default" toml:"default"`
}

// DSN builds the driver connection string.
func (d Database) DSN() string {
	if d.DriverName() == "sqlite" {
		return d.Path
	}
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		d.Host, d.Port, d.User, d.Password, d.Database)
	if d.Schema != "" {
		dsn += fmt.Sprintf(" search_path=%s,public", d.Schema)
	}
	return dsn
}

func (d Database) DriverName() string {
	if d.Driver == "" {
		return "postgres"
	}
	return d.Driver
}

type Config struct {
	Application struct {
		Name    string `yaml:"name" toml:"name"`
		Version string `yaml:"version" toml:"version"`
		Lang    string `yaml:"lang" toml:"lang"`
	} `yaml:"application" toml:"application"`

	Server struct {
		Port string `yaml:"port" toml:"port"`
	} `yaml:"server" toml:"server"`

	Database []Database `yaml:"database" toml:"database"`

	Catalog struct {
		Path string `yaml:"path" toml:"path"`
	} `yaml:"catalog" toml:"catalog"`

	Table struct {
		AutoReload string `yaml:"auto_reload" toml:"auto_reload"`
		Debounce   string `yaml:"debounce" toml:"debounce"`
		// ViewStore is "memory", "files:<dir>" or "sql".
		ViewStore string  `yaml:"view_store" toml:"view_store"`
		RateLimit float64 `yaml:"rate_limit" toml:"rate_limit"`
	} `yaml:"table" toml:"table"`

	CursorPool struct {
		Enabled     bool   `yaml:"enabled" toml:"enabled"`
		MaxCursors  int    `yaml:"max_cursors" toml:"max_cursors"`
		IdleTimeout string `yaml:"idle_timeout" toml:"idle_timeout"`
		AbsTimeout  string `yaml:"abs_timeout" toml:"abs_timeout"`
	} `yaml:"cursorpool" toml:"cursorpool"`

	Logging struct {
		Level  string `yaml:"level" toml:"level"`
		SeqURL string `yaml:"seq_url" toml:"seq_url"`
	} `yaml:"logging" toml:"logging"`
}

// Load reads a YAML or TOML config, chosen by extension, after loading a
// .env file from the working directory. ${VAR} references are expanded.
func Load(path string) (*Config, error) {
	_ = godotenv.Load() // optional outside development

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal([]byte(expanded), &cfg)
	case ".yaml", ".yml", "":
		err = yaml.Unmarshal([]byte(expanded), &cfg)
	default:
		return nil, fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if cfg.Server.Port == "" {
		cfg.Server.Port = "8080"
	}
	if cfg.Application.Lang == "" {
		cfg.Application.Lang = "en"
	}
	if cfg.Table.ViewStore == "" {
		cfg.Table.ViewStore = "memory"
	}
	return &cfg, nil
}

// DefaultDatabase returns the database marked default, or the first one.
func (c *Config) DefaultDatabase() (Database, error) {
	if len(c.Database) == 0 {
		return Database{}, errors.New("no database configured")
	}
	for _, d := range c.Database {
		if d.Default {
			return d, nil
		}
	}
	return c.Database[0], nil
}

// Duration parses s, returning def when s is empty.
func Duration(s string, def time.Duration) (time.Duration, error) {
	if strings.TrimSpace(s) == "" {
		return def, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", s, err)
	}
	return d, nil
}
