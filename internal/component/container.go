// Package component keeps the registry of known components and resolves
// module ids, request paths and component urls against it.
package component

import (
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/conneroisu/rain/internal/errors"
	"github.com/conneroisu/rain/internal/parser"
)

// Container manages all registered components
type Container struct {
	components map[string]*Config
	tags       map[string]*TagManager
	mutex      sync.RWMutex
	watchers   []chan Event
}

// Event represents a change in the container
type Event struct {
	Type      EventType
	Component *Config
	Timestamp time.Time
}

// EventType represents the type of component event
type EventType int

const (
	EventTypeAdded EventType = iota
	EventTypeUpdated
	EventTypeRemoved
)

func (e EventType) String() string {
	switch e {
	case EventTypeAdded:
		return "added"
	case EventTypeUpdated:
		return "updated"
	case EventTypeRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// NewContainer creates an empty container
func NewContainer() *Container {
	return &Container{
		components: make(map[string]*Config),
		tags:       make(map[string]*TagManager),
	}
}

// Register adds or updates a component, keyed by its module id
func (c *Container) Register(cfg *Config) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	id := cfg.ModuleID()
	eventType := EventTypeAdded
	if _, exists := c.components[id]; exists {
		eventType = EventTypeUpdated
	}

	c.components[id] = cfg
	c.tags[id] = NewTagManager(cfg.Taglib)

	c.notify(Event{Type: eventType, Component: cfg, Timestamp: time.Now()})
}

// Get retrieves a component by module id
func (c *Container) Get(moduleID string) (*Config, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	cfg, exists := c.components[moduleID]
	return cfg, exists
}

// GetAll returns all registered components sorted by module id
func (c *Container) GetAll() []*Config {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	result := make([]*Config, 0, len(c.components))
	for _, cfg := range c.components {
		result = append(result, cfg)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ModuleID() < result[j].ModuleID() })
	return result
}

// Remove removes a component
func (c *Container) Remove(moduleID string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	cfg, exists := c.components[moduleID]
	if !exists {
		return
	}

	delete(c.components, moduleID)
	delete(c.tags, moduleID)

	c.notify(Event{Type: EventTypeRemoved, Component: cfg, Timestamp: time.Now()})
}

// notify must be called with the mutex held.
func (c *Container) notify(event Event) {
	for _, watcher := range c.watchers {
		select {
		case watcher <- event:
		default:
		}
	}
}

// Watch returns a channel that receives component events
func (c *Container) Watch() <-chan Event {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	ch := make(chan Event, 100)
	c.watchers = append(c.watchers, ch)
	return ch
}

// UnWatch removes a watcher channel and closes it
func (c *Container) UnWatch(ch <-chan Event) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	for i, watcher := range c.watchers {
		if watcher == ch {
			close(watcher)
			c.watchers = append(c.watchers[:i], c.watchers[i+1:]...)
			break
		}
	}
}

// Count returns the number of registered components
func (c *Container) Count() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return len(c.components)
}

// Resolve returns the component for a "<id>;<version>" module id.
func (c *Container) Resolve(moduleID string) (*Config, error) {
	if cfg, ok := c.Get(moduleID); ok {
		return cfg, nil
	}
	return nil, errors.NewResolutionError(errors.ErrCodeComponentNotFound,
		fmt.Sprintf("component %s not found", moduleID)).WithContext("module", moduleID)
}

// TagManager returns the component mapping built from cfg's taglib.
func (c *Container) TagManager(cfg *Config) parser.ComponentMapper {
	c.mutex.RLock()
	tm, ok := c.tags[cfg.ModuleID()]
	c.mutex.RUnlock()
	if ok {
		return tm
	}
	return NewTagManager(cfg.Taglib)
}

// ResolveFromRequestPath finds the component whose path (or url) prefixes p.
// The longest match wins.
func (c *Container) ResolveFromRequestPath(p string) (*Config, error) {
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}

	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var match *Config
	var matchLen int
	for _, cfg := range c.components {
		u := cfg.Path
		if u == "" {
			u = cfg.URL
		}
		if !strings.HasSuffix(u, "/") {
			u += "/"
		}
		if strings.HasPrefix(p, u) && len(u) > matchLen {
			match, matchLen = cfg, len(u)
		}
	}
	if match == nil {
		return nil, errors.NewResolutionError(errors.ErrCodeComponentNotFound,
			"no component serves "+strings.TrimSuffix(p, "/")).WithContext("path", p)
	}
	return match, nil
}

// ViewURL returns the url of a view template of cfg.
func (c *Container) ViewURL(cfg *Config, view string) string {
	if view == "" {
		view = DefaultView
	}
	if cfg.IsRemote() {
		return cfg.URL
	}
	return path.Join(cfg.URL, "htdocs", view)
}

// LocalPath maps a request path below cfg.Path to the same path below
// cfg.URL. For remote components it is the part after cfg.Path.
func (c *Container) LocalPath(cfg *Config, p string) string {
	if cfg.Path == "" {
		return p
	}
	rest := strings.TrimPrefix(p, strings.TrimSuffix(cfg.Path, "/"))
	if cfg.IsRemote() {
		return rest
	}
	return path.Join(cfg.URL, rest)
}

// RequestViewURL is the template a request path addresses. A path naming
// the component itself gets the default view.
func (c *Container) RequestViewURL(cfg *Config, p string) string {
	if path.Ext(p) == "" || cfg.IsRemote() {
		return c.ViewURL(cfg, "")
	}
	return c.LocalPath(cfg, p)
}

// ViewConfig returns the view entry of cfg whose template is url.
func (c *Container) ViewConfig(cfg *Config, url string) *ViewConfig {
	for i := range cfg.Views {
		v := &cfg.Views[i]
		if strings.HasSuffix(url, path.Join(cfg.URL, v.View)) {
			return v
		}
	}
	return nil
}

// ResolveURL turns a url found in cfg's view into one the client can load:
// absolute paths and remote urls are kept, webcomponent:// urls point into
// the named component and anything else is relative to cfg's url.
func (c *Container) ResolveURL(cfg *Config, uri string) (string, error) {
	switch {
	case uri == "":
		return "", nil
	case strings.HasPrefix(uri, Protocol):
		rest := strings.TrimPrefix(uri, Protocol)
		moduleID, file, _ := strings.Cut(rest, "/")
		target, err := c.Resolve(moduleID)
		if err != nil {
			return "", err
		}
		if target.IsRemote() {
			return strings.TrimSuffix(target.URL, "/") + "/" + file, nil
		}
		return path.Join(target.URL, file), nil
	case strings.HasPrefix(uri, "/"),
		strings.HasPrefix(uri, "http://"),
		strings.HasPrefix(uri, "https://"):
		return uri, nil
	default:
		return path.Join(cfg.URL, uri), nil
	}
}
