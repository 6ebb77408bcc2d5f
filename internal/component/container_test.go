package component

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/rain/internal/errors"
	"github.com/conneroisu/rain/internal/parser"
)

func weather() *Config {
	return &Config{
		ID:      "weather",
		Version: "1.0",
		URL:     "/components/weather",
		Views:   []ViewConfig{{ID: "main", View: "htdocs/main.html", Controller: "js/main.js"}},
		Taglib:  []TagEntry{{Namespace: "comp", Tag: "clock", Module: "clock;2.1"}},
	}
}

func TestContainerRegisterAndEvents(t *testing.T) {
	c := NewContainer()
	events := c.Watch()

	c.Register(weather())
	c.Register(weather())
	c.Remove("weather;1.0")
	c.Remove("weather;1.0")

	assert.Equal(t, EventTypeAdded, (<-events).Type)
	assert.Equal(t, EventTypeUpdated, (<-events).Type)
	removed := <-events
	assert.Equal(t, EventTypeRemoved, removed.Type)
	assert.Equal(t, "weather;1.0", removed.Component.ModuleID())
	assert.Len(t, events, 0)
	assert.Equal(t, 0, c.Count())

	c.UnWatch(events)
	_, open := <-events
	assert.False(t, open)
}

func TestContainerResolve(t *testing.T) {
	c := NewContainer()
	c.Register(weather())

	cfg, err := c.Resolve("weather;1.0")
	require.NoError(t, err)
	assert.Equal(t, "weather", cfg.ID)

	_, err = c.Resolve("weather;9.9")
	require.Error(t, err)
	assert.True(t, errors.IsResolution(err))
	assert.Equal(t, "weather;9.9", errors.GetContext(err)["module"])
}

func TestContainerResolveFromRequestPath(t *testing.T) {
	c := NewContainer()
	c.Register(weather())
	c.Register(&Config{ID: "weatherstation", Version: "1", URL: "/components/weatherstation"})
	c.Register(&Config{ID: "app", Version: "1", URL: "/components/app", Path: "/"})

	cfg, err := c.ResolveFromRequestPath("/components/weather/htdocs/main.html")
	require.NoError(t, err)
	assert.Equal(t, "weather", cfg.ID)

	cfg, err = c.ResolveFromRequestPath("/components/weatherstation/htdocs/main.html")
	require.NoError(t, err)
	assert.Equal(t, "weatherstation", cfg.ID)

	cfg, err = c.ResolveFromRequestPath("/anything")
	require.NoError(t, err)
	assert.Equal(t, "app", cfg.ID)

	c.Remove("app;1")
	_, err = c.ResolveFromRequestPath("/anything")
	assert.True(t, errors.IsResolution(err))
}

func TestContainerViews(t *testing.T) {
	c := NewContainer()
	cfg := weather()

	assert.Equal(t, "/components/weather/htdocs/main.html", c.ViewURL(cfg, ""))
	assert.Equal(t, "/components/weather/htdocs/small.html", c.ViewURL(cfg, "small.html"))
	assert.Equal(t, "http://remote/x", c.ViewURL(&Config{URL: "http://remote/x"}, "main.html"))

	view := c.ViewConfig(cfg, "/components/weather/htdocs/main.html")
	require.NotNil(t, view)
	assert.Equal(t, "js/main.js", view.Controller)
	assert.Nil(t, c.ViewConfig(cfg, "/components/weather/htdocs/other.html"))
}

func TestContainerResolveURL(t *testing.T) {
	c := NewContainer()
	c.Register(weather())
	c.Register(&Config{ID: "remote", Version: "1", URL: "http://cdn.example.com/remote/"})
	cfg := weather()

	testCases := []struct {
		in       string
		expected string
		wantErr  bool
	}{
		{"", "", false},
		{"/static/site.css", "/static/site.css", false},
		{"http://x/y.js", "http://x/y.js", false},
		{"css/index.css", "/components/weather/css/index.css", false},
		{"webcomponent://weather;1.0/js/lib.js", "/components/weather/js/lib.js", false},
		{"webcomponent://remote;1/js/lib.js", "http://cdn.example.com/remote/js/lib.js", false},
		{"webcomponent://missing;1/x.js", "", true},
	}

	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := c.ResolveURL(cfg, tc.in)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, got)
		})
	}
}

func TestTagManager(t *testing.T) {
	tm := NewTagManager([]TagEntry{
		{Namespace: "comp", Tag: "Weather", Module: "weather;1.0", View: "small.html"},
		{Tag: "clock", Module: "clock;2.1"},
	})

	d, ok := tm.Lookup("comp:weather", nil)
	require.True(t, ok)
	assert.Equal(t, &parser.TagDescriptor{Module: "weather;1.0", View: "small.html"}, d)

	d, ok = tm.Lookup("clock", nil)
	require.True(t, ok)
	assert.Equal(t, "clock;2.1", d.Module)

	_, ok = tm.Lookup("x:clock", nil)
	assert.True(t, ok)

	_, ok = tm.Lookup("div", nil)
	assert.False(t, ok)
}

func TestChain(t *testing.T) {
	own := NewTagManager([]TagEntry{{Tag: "a", Module: "own;1"}})
	parent := NewTagManager([]TagEntry{{Tag: "a", Module: "parent;1"}, {Tag: "b", Module: "parent;1"}})

	m := Chain(own, nil, parent)

	d, ok := m.Lookup("a", nil)
	require.True(t, ok)
	assert.Equal(t, "own;1", d.Module)

	d, ok = m.Lookup("b", nil)
	require.True(t, ok)
	assert.Equal(t, "parent;1", d.Module)

	_, ok = m.Lookup("c", nil)
	assert.False(t, ok)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, weather().Validate())
	assert.Error(t, (&Config{Version: "1", URL: "/x"}).Validate())
	assert.Error(t, (&Config{ID: "a;b", Version: "1", URL: "/x"}).Validate())
	assert.Error(t, (&Config{ID: "a", URL: "/x"}).Validate())
	assert.Error(t, (&Config{ID: "a", Version: "1"}).Validate())
	assert.Error(t, (&Config{ID: "a", Version: "1", URL: "/x", Taglib: []TagEntry{{Tag: "t"}}}).Validate())
}

func TestScanner(t *testing.T) {
	root := t.TempDir()
	write := func(rel, content string) {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}

	write("weather/meta.yaml", `
version: "1.0"
views:
  - view: htdocs/main.html
    controller: js/main.js
taglib:
  - namespace: comp
    tag: clock
    module: clock;2.1
locales:
  en: locale/en.yaml
`)
	write("clock/meta.json", `{"id": "clock", "version": "2.1", "url": "/components/clock"}`)
	write("_private/meta.yaml", `id: hidden
version: "1"`)
	write("broken/meta.yaml", "id: [unclosed")
	write("empty/readme.txt", "no meta here")

	c := NewContainer()
	s := NewScanner(c, root, "/components/", nil)

	n, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	cfg, ok := c.Get("weather;1.0")
	require.True(t, ok)
	assert.Equal(t, "/components/weather", cfg.URL)
	assert.Equal(t, filepath.Join(root, "weather"), cfg.Dir)
	assert.Equal(t, "locale/en.yaml", cfg.Locales["en"])

	d, ok := c.TagManager(cfg).Lookup("comp:clock", nil)
	require.True(t, ok)
	assert.Equal(t, "clock;2.1", d.Module)

	_, ok = c.Get("clock;2.1")
	assert.True(t, ok)

	_, err = NewScanner(c, filepath.Join(root, "nope"), "/components", nil).Scan(context.Background())
	assert.Error(t, err)
}

func TestScannerReload(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "weather")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	meta := filepath.Join(dir, "meta.yaml")
	require.NoError(t, os.WriteFile(meta, []byte("version: \"1.0\"\n"), 0o644))

	c := NewContainer()
	s := NewScanner(c, root, "/components", nil)
	require.NoError(t, s.Reload(context.Background(), meta))
	assert.Equal(t, 1, c.Count())

	require.NoError(t, os.Remove(meta))
	require.NoError(t, s.Reload(context.Background(), meta))
	assert.Equal(t, 0, c.Count())
}
