// Package config loads client and server settings from the environment and
// an optional YAML file. Command-line flags are applied by the commands on
// top of the result.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Client configures the quickroom client.
type Client struct {
	Server               string        `env:"QUICKROOM_SERVER"                 envDefault:"http://localhost:8000" yaml:"server"`
	Nickname             string        `env:"QUICKROOM_NICKNAME"                                                  yaml:"nickname"`
	Reconnect            bool          `env:"QUICKROOM_RECONNECT"              envDefault:"false"                 yaml:"reconnect"`
	ReconnectMaxAttempts int           `env:"QUICKROOM_RECONNECT_MAX_ATTEMPTS" envDefault:"0"                     yaml:"reconnect_max_attempts"`
	TypingIdle           time.Duration `env:"QUICKROOM_TYPING_IDLE"            envDefault:"2s"                    yaml:"typing_idle"`
	DialTimeout          time.Duration `env:"QUICKROOM_DIAL_TIMEOUT"           envDefault:"10s"                   yaml:"dial_timeout"`
	LogLevel             string        `env:"QUICKROOM_LOG_LEVEL"              envDefault:"warn"                  yaml:"log_level"`
}

// Server configures quickroomd.
type Server struct {
	Addr            string        `env:"QUICKROOM_ADDR"             envDefault:":8000" yaml:"addr"`
	RedisAddr       string        `env:"QUICKROOM_REDIS_ADDR"                          yaml:"redis_addr"`
	CreateLimit     int           `env:"QUICKROOM_CREATE_LIMIT"     envDefault:"10"    yaml:"create_limit"`
	CreateWindow    time.Duration `env:"QUICKROOM_CREATE_WINDOW"    envDefault:"1m"    yaml:"create_window"`
	MaxConns        int           `env:"QUICKROOM_MAX_CONNS"        envDefault:"0"     yaml:"max_conns"`
	IdleTimeout     time.Duration `env:"QUICKROOM_IDLE_TIMEOUT"     envDefault:"0s"    yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `env:"QUICKROOM_SHUTDOWN_TIMEOUT" envDefault:"10s"   yaml:"shutdown_timeout"`
	LogLevel        string        `env:"QUICKROOM_LOG_LEVEL"        envDefault:"info"  yaml:"log_level"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// LoadFile overlays the YAML file at path onto target. Keys absent from the
// file leave target unchanged. An empty path is a no-op.
func LoadFile(path string, target any) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(target); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// LoadClient reads the environment, then the optional file.
func LoadClient(path string) (Client, error) {
	var cfg Client
	if err := ParseEnv(&cfg); err != nil {
		return Client{}, err
	}
	if err := LoadFile(path, &cfg); err != nil {
		return Client{}, err
	}
	return cfg, nil
}

// LoadServer reads the environment, then the optional file.
func LoadServer(path string) (Server, error) {
	var cfg Server
	if err := ParseEnv(&cfg); err != nil {
		return Server{}, err
	}
	if err := LoadFile(path, &cfg); err != nil {
		return Server{}, err
	}
	return cfg, nil
}

// WebSocketEndpoint derives the relay endpoint from the directory URL,
// mapping http to ws and https to wss.
func (c Client) WebSocketEndpoint() (string, error) {
	u, err := url.Parse(c.Server)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("parse server url: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("parse server url: missing host in %q", c.Server)
	}
	u.Path = strings.TrimRight(u.Path, "/")
	return u.String(), nil
}

// DirectoryURL returns the HTTP base URL of the room directory.
func (c Client) DirectoryURL() string {
	s := strings.TrimRight(c.Server, "/")
	switch {
	case strings.HasPrefix(s, "ws://"):
		return "http://" + strings.TrimPrefix(s, "ws://")
	case strings.HasPrefix(s, "wss://"):
		return "https://" + strings.TrimPrefix(s, "wss://")
	}
	return s
}

// NewLogger returns a text logger writing to w at the named level.
func NewLogger(w io.Writer, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}
