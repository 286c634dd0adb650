package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// CLIConfig captures CLI-provided overrides.
type CLIConfig struct {
	Addr       string
	DataDir    string
	ConfigPath string
}

// ParseFlags reads CLI parameters.
func ParseFlags() CLIConfig {
	addr := flag.String("addr", "", "HTTP listen address (optional override)")
	dataDir := flag.String("data-dir", "", "Data directory (optional override)")
	configPath := flag.String("config", "", "Path to YAML config file")

	flag.Parse()

	return CLIConfig{
		Addr:       *addr,
		DataDir:    *dataDir,
		ConfigPath: strings.TrimSpace(*configPath),
	}
}

// Config models the YAML configuration file.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Data     DataConfig     `yaml:"data"`
	Account  AccountConfig  `yaml:"account"`
	Remote   RemoteConfig   `yaml:"remote"`
	NATS     NATSConfig     `yaml:"nats"`
	Calendar CalendarConfig `yaml:"calendar"`
}

// ServerConfig contains control-API settings.
type ServerConfig struct {
	Addr    string `yaml:"addr"`
	JWKSURL string `yaml:"jwksUrl"`
}

// DataConfig locates the archive database, state file, and vault.
type DataConfig struct {
	Dir string `yaml:"dir"`
}

// AccountConfig names the destination mailbox account.
type AccountConfig struct {
	Email string `yaml:"email"`
}

// RemoteConfig describes how to reach the remote mail system. When Command
// is set the session runs over a child process speaking the protocol on its
// stdio pipes; otherwise it dials Addr.
type RemoteConfig struct {
	Addr              string        `yaml:"addr"`
	TLS               bool          `yaml:"tls"`
	Command           string        `yaml:"command"`
	Args              []string      `yaml:"args"`
	DialTimeout       time.Duration `yaml:"dialTimeout"`
	AckIdleTimeout    time.Duration `yaml:"ackIdleTimeout"`
	MessagesContainer string        `yaml:"messagesContainer"`
	CallsContainer    string        `yaml:"callsContainer"`
}

// NATSConfig configures the optional event publisher.
type NATSConfig struct {
	URL string `yaml:"url"`
}

// CalendarConfig configures the optional calendar mirror.
type CalendarConfig struct {
	Provider   string        `yaml:"provider"` // "google" or "microsoft"
	TokenURL   string        `yaml:"tokenUrl"`
	Bearer     string        `yaml:"bearer"`
	CalendarID string        `yaml:"calendarId"`
	Delay      time.Duration `yaml:"delay"`
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{Addr: ":8080"},
		Data:   DataConfig{Dir: "data"},
		Remote: RemoteConfig{
			DialTimeout:       15 * time.Second,
			AckIdleTimeout:    2 * time.Minute,
			MessagesContainer: "SMS",
			CallsContainer:    "Calls",
		},
	}
}

// Load reads the YAML config, applying defaults and CLI overrides.
func Load(cli CLIConfig) (*Config, error) {
	cfg := defaults()

	if cli.ConfigPath != "" {
		raw, err := os.ReadFile(cli.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if cli.Addr != "" {
		cfg.Server.Addr = cli.Addr
	}
	if cli.DataDir != "" {
		cfg.Data.Dir = cli.DataDir
	}

	if cfg.Remote.Addr == "" && cfg.Remote.Command == "" {
		return nil, fmt.Errorf("remote: either addr or command must be set")
	}
	return cfg, nil
}
