package services

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/conneroisu/rain/internal/config"
	"github.com/conneroisu/rain/internal/errors"
)

// ConfigFile is the config file name rain init writes and rain looks for.
const ConfigFile = "rain.yml"

// InitService creates new rain projects.
type InitService struct{}

// NewInitService creates a new initialization service
func NewInitService() *InitService {
	return &InitService{}
}

// InitOptions contains options for project initialization
type InitOptions struct {
	ProjectDir string
	// Example adds a small weather component tree.
	Example bool
	// Force overwrites an existing config file.
	Force bool
}

// InitProject writes the config file and component folder of a new project.
func (s *InitService) InitProject(opts InitOptions) error {
	if err := os.MkdirAll(filepath.Join(opts.ProjectDir, "components"), 0o755); err != nil {
		return errors.NewIOError(errors.ErrCodeFileNotFound, "creating project directory "+opts.ProjectDir, err)
	}

	if err := s.createConfigFile(opts.ProjectDir, opts.Force); err != nil {
		return err
	}

	if opts.Example {
		if err := s.createExampleComponents(opts.ProjectDir); err != nil {
			return err
		}
	}
	return nil
}

// defaultConfig mirrors the defaults config.Load applies.
func defaultConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Host:           "localhost",
			Port:           8080,
			ID:             "rain",
			RequestTimeout: 30 * time.Second,
		},
		Components: config.ComponentsConfig{Root: "components", URLPrefix: "/components", Watch: true},
		Session:    config.SessionConfig{CookieName: "rain_sid", TTL: 30 * time.Minute},
		Renderer:   config.RendererConfig{ClientRuntime: "core-components/raintime/raintime", DefaultOutput: "html"},
		Locale:     config.LocaleConfig{Default: "en"},
	}
}

func (s *InitService) createConfigFile(projectDir string, force bool) error {
	path := filepath.Join(projectDir, ConfigFile)
	if _, err := os.Stat(path); err == nil && !force {
		return errors.NewValidationError(errors.ErrCodeValidationFailed,
			fmt.Sprintf("%s already exists, use --force to overwrite it", path))
	}

	data, err := yaml.Marshal(defaultConfig())
	if err != nil {
		return errors.NewInternalError(errors.ErrCodeInternalError, "encoding default config", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.NewIOError(errors.ErrCodeFileNotFound, "writing "+path, err)
	}
	return nil
}

// exampleFiles is a weather view that nests a temperature component and
// translates its heading.
var exampleFiles = map[string]string{
	"weather/meta.yaml": `id: weather
version: "1.0"
views:
  - view: htdocs/main.html
    controller: js/main.js
taglib:
  - namespace: app
    tag: temperature
    module: temperature;1.0
locales:
  en: locales/en.yaml
  de: locales/de.yaml
`,
	"weather/htdocs/main.html": `<rain:css path="css/weather.css"/>
<section class="weather">
  <h1>{{t.title}}</h1>
  <app:temperature city="Berlin"/>
</section>
`,
	"weather/css/weather.css": `.weather { font-family: sans-serif; }
`,
	"weather/js/main.js": `define(function () {
  function Weather() {}
  Weather.prototype.start = function () {};
  return Weather;
});
`,
	"weather/locales/en.yaml": `title: Weather
`,
	"weather/locales/de.yaml": `title: Wetter
`,
	"temperature/meta.yaml": `id: temperature
version: "1.0"
`,
	"temperature/htdocs/main.html": `<span class="temperature" data-city="{{attr_city}}">21&deg;C</span>
`,
}

func (s *InitService) createExampleComponents(projectDir string) error {
	root := filepath.Join(projectDir, "components")
	for name, content := range exampleFiles {
		path := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return errors.NewIOError(errors.ErrCodeFileNotFound, "creating "+filepath.Dir(path), err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return errors.NewIOError(errors.ErrCodeFileNotFound, "writing "+path, err)
		}
	}
	return nil
}
