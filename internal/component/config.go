package component

import (
	"fmt"
	"strings"

	"github.com/conneroisu/rain/internal/errors"
)

// DefaultView is rendered when a request or tag names no view.
const DefaultView = "main.html"

// Protocol is the url scheme that addresses a file of another component.
const Protocol = "webcomponent://"

// Config describes one component, as read from its meta file.
type Config struct {
	ID      string `yaml:"id" json:"id"`
	Version string `yaml:"version" json:"version"`
	// URL is where the component's files are served, e.g. /components/weather.
	URL string `yaml:"url" json:"url"`
	// Path overrides URL for request path matching.
	Path    string            `yaml:"path,omitempty" json:"path,omitempty"`
	Views   []ViewConfig      `yaml:"views,omitempty" json:"views,omitempty"`
	Taglib  []TagEntry        `yaml:"taglib,omitempty" json:"taglib,omitempty"`
	Locales map[string]string `yaml:"locales,omitempty" json:"locales,omitempty"`

	// Dir is the folder the config was scanned from.
	Dir string `yaml:"-" json:"-"`
}

// ViewConfig binds a view template to its client-side controller.
type ViewConfig struct {
	ID         string `yaml:"id,omitempty" json:"id,omitempty"`
	View       string `yaml:"view" json:"view"`
	Controller string `yaml:"controller,omitempty" json:"controller,omitempty"`
}

// TagEntry maps a tag to the component view it instantiates.
type TagEntry struct {
	Namespace string `yaml:"namespace,omitempty" json:"namespace,omitempty"`
	Tag       string `yaml:"tag" json:"tag"`
	Module    string `yaml:"module" json:"module"`
	View      string `yaml:"view,omitempty" json:"view,omitempty"`
}

// Name returns the tag name as it appears in markup.
func (e TagEntry) Name() string {
	if e.Namespace == "" {
		return strings.ToLower(e.Tag)
	}
	return strings.ToLower(e.Namespace + ":" + e.Tag)
}

// ModuleID returns "<id>;<version>".
func (c *Config) ModuleID() string {
	return c.ID + ";" + c.Version
}

// Validate checks the fields the container depends on.
func (c *Config) Validate() error {
	switch {
	case c.ID == "":
		return errors.NewValidationError(errors.ErrCodeValidationFailed, "component id is required")
	case strings.ContainsAny(c.ID, ";/ "):
		return errors.NewValidationError(errors.ErrCodeValidationFailed,
			fmt.Sprintf("component id %q must not contain ';', '/' or spaces", c.ID))
	case c.Version == "":
		return errors.NewValidationError(errors.ErrCodeValidationFailed,
			fmt.Sprintf("component %s has no version", c.ID))
	case c.URL == "":
		return errors.NewValidationError(errors.ErrCodeValidationFailed,
			fmt.Sprintf("component %s has no url", c.ModuleID()))
	}
	for _, e := range c.Taglib {
		if e.Tag == "" || e.Module == "" {
			return errors.NewValidationError(errors.ErrCodeValidationFailed,
				fmt.Sprintf("component %s has a taglib entry without tag or module", c.ModuleID()))
		}
	}
	return nil
}

// IsRemote reports whether the component is served by another host.
func (c *Config) IsRemote() bool {
	return strings.HasPrefix(c.URL, "http://") || strings.HasPrefix(c.URL, "https://")
}
