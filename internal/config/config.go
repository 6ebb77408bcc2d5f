// Package config provides configuration management for rain using Viper
// for loading from files, environment variables, and command-line flags.
//
// The configuration covers the HTTP server, the component folder that is
// scanned for component metadata, the session store and its optional
// mothership replication, renderer defaults and localization. Environment
// variables use the RAIN_ prefix (RAIN_SERVER_PORT, RAIN_COMPONENTS_ROOT, ...).
package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Components ComponentsConfig `yaml:"components" mapstructure:"components"`
	Session    SessionConfig    `yaml:"session" mapstructure:"session"`
	Renderer   RendererConfig   `yaml:"renderer" mapstructure:"renderer"`
	Locale     LocaleConfig     `yaml:"locale" mapstructure:"locale"`
	Mothership MothershipConfig `yaml:"mothership" mapstructure:"mothership"`
}

type ServerConfig struct {
	Host           string        `yaml:"host" mapstructure:"host"`
	Port           int           `yaml:"port" mapstructure:"port"`
	ID             string        `yaml:"id" mapstructure:"id"`
	RequestTimeout time.Duration `yaml:"request_timeout" mapstructure:"request_timeout"`
}

type ComponentsConfig struct {
	Root      string `yaml:"root" mapstructure:"root"`
	URLPrefix string `yaml:"url_prefix" mapstructure:"url_prefix"`
	Watch     bool   `yaml:"watch" mapstructure:"watch"`
}

type SessionConfig struct {
	CookieName string        `yaml:"cookie_name" mapstructure:"cookie_name"`
	TTL        time.Duration `yaml:"ttl" mapstructure:"ttl"`
}

type RendererConfig struct {
	ClientRuntime string `yaml:"client_runtime" mapstructure:"client_runtime"`
	DefaultOutput string `yaml:"default_output" mapstructure:"default_output"`
}

type LocaleConfig struct {
	Default string `yaml:"default" mapstructure:"default"`
}

type MothershipConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	URL     string `yaml:"url" mapstructure:"url"`
}

// Output modes accepted by renderer.default_output and the rain.output query parameter.
var OutputModes = []string{"html", "json", "msgpack"}

func Load() (*Config, error) {
	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	if config.Server.Host == "" {
		config.Server.Host = "localhost"
	}
	if !viper.IsSet("server.port") {
		config.Server.Port = 8080
	}
	if config.Server.ID == "" {
		config.Server.ID = "rain"
	}
	if config.Server.RequestTimeout == 0 {
		config.Server.RequestTimeout = 30 * time.Second
	}

	if config.Components.Root == "" {
		config.Components.Root = "./components"
	}
	if config.Components.URLPrefix == "" {
		config.Components.URLPrefix = "/components"
	}
	if !viper.IsSet("components.watch") {
		config.Components.Watch = true
	}

	if config.Session.CookieName == "" {
		config.Session.CookieName = "rain_sid"
	}
	if config.Session.TTL == 0 {
		config.Session.TTL = 30 * time.Minute
	}

	if config.Renderer.ClientRuntime == "" {
		config.Renderer.ClientRuntime = "core-components/raintime/raintime"
	}
	if config.Renderer.DefaultOutput == "" {
		config.Renderer.DefaultOutput = "html"
	}

	if config.Locale.Default == "" {
		config.Locale.Default = "en"
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// validateConfig validates configuration values for security and correctness
func validateConfig(config *Config) error {
	if err := validateServerConfig(&config.Server); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := validatePath(config.Components.Root); err != nil {
		return fmt.Errorf("components config: invalid root '%s': %w", config.Components.Root, err)
	}
	if !strings.HasPrefix(config.Components.URLPrefix, "/") {
		return fmt.Errorf("components config: url_prefix must start with '/': %s", config.Components.URLPrefix)
	}

	if config.Session.TTL < 0 {
		return fmt.Errorf("session config: ttl must not be negative")
	}

	if err := validateRendererConfig(&config.Renderer); err != nil {
		return fmt.Errorf("renderer config: %w", err)
	}

	if config.Mothership.Enabled {
		u, err := url.Parse(config.Mothership.URL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			return fmt.Errorf("mothership config: url must be a ws:// or wss:// url: %q", config.Mothership.URL)
		}
	}

	return nil
}

// validateServerConfig validates server configuration values
func validateServerConfig(config *ServerConfig) error {
	// 0 lets the kernel pick a port, used in tests
	if config.Port < 0 || config.Port > 65535 {
		return fmt.Errorf("port %d is not in valid range 0-65535", config.Port)
	}

	if config.Host != "" {
		dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'", "\\"}
		for _, char := range dangerousChars {
			if strings.Contains(config.Host, char) {
				return fmt.Errorf("host contains dangerous character: %s", char)
			}
		}
	}

	if config.RequestTimeout < 0 {
		return fmt.Errorf("request_timeout must not be negative")
	}

	return nil
}

func validateRendererConfig(config *RendererConfig) error {
	for _, mode := range OutputModes {
		if config.DefaultOutput == mode {
			return nil
		}
	}

	return fmt.Errorf("default_output %q is not one of %s", config.DefaultOutput, strings.Join(OutputModes, ", "))
}

// validatePath validates a file path for security
func validatePath(path string) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}

	cleanPath := filepath.Clean(path)

	if strings.Contains(cleanPath, "..") {
		return fmt.Errorf("path contains traversal: %s", path)
	}

	dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'"}
	for _, char := range dangerousChars {
		if strings.Contains(cleanPath, char) {
			return fmt.Errorf("path contains dangerous character: %s", char)
		}
	}

	return nil
}
