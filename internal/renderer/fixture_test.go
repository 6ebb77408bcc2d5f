package renderer

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/conneroisu/rain/internal/component"
	"github.com/conneroisu/rain/internal/logging"
	"github.com/conneroisu/rain/internal/resource"
	"github.com/conneroisu/rain/internal/taglib"
)

// gatedSource serves templates from memory. A gated url blocks until released.
type gatedSource struct {
	mu    sync.Mutex
	files map[string]string
	gates map[string]chan struct{}
}

func newSource(files map[string]string) *gatedSource {
	return &gatedSource{files: files, gates: make(map[string]chan struct{})}
}

func (s *gatedSource) gate(urls ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range urls {
		s.gates[u] = make(chan struct{})
	}
}

func (s *gatedSource) release(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g, ok := s.gates[url]; ok {
		close(g)
		delete(s.gates, url)
	}
}

func (s *gatedSource) releaseAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for u, g := range s.gates {
		close(g)
		delete(s.gates, u)
	}
}

func (s *gatedSource) read(_ context.Context, url string) ([]byte, error) {
	s.mu.Lock()
	g := s.gates[url]
	s.mu.Unlock()
	if g != nil {
		<-g
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[url]
	if !ok {
		return nil, fmt.Errorf("no template at %s", url)
	}
	return []byte(data), nil
}

type fixture struct {
	container *component.Container
	source    *gatedSource
	env       *Env
}

func newFixture(t testing.TB, files map[string]string, configs ...*component.Config) *fixture {
	c := component.NewContainer()
	for _, cfg := range configs {
		c.Register(cfg)
	}
	src := newSource(files)
	if t != nil {
		t.Cleanup(src.releaseAll)
	}

	var ids atomic.Uint64
	return &fixture{
		container: c,
		source:    src,
		env: &Env{
			Components: c,
			Resources:  resource.NewManager("/components", "", resource.WithSource(src.read)),
			Tags:       taglib.NewDefault(nil, nil),
			ServerID:   "test-server",
			NewID:      func() string { return strconv.FormatUint(ids.Add(1), 10) },
			Logger:     logging.NewNop(),
		},
	}
}

// start begins a root render of module's default view.
func (f *fixture) start(module string, mode Mode, req *Request) (*Renderer, error) {
	cfg, err := f.container.Resolve(module)
	if err != nil {
		return nil, err
	}
	return New(context.Background(), f.env, Options{Component: cfg, Mode: mode, Request: req})
}

// render runs a root render to completion.
func (f *fixture) render(module string, mode Mode, req *Request) (*Renderer, *Result, error) {
	r, err := f.start(module, mode, req)
	if err != nil {
		return nil, nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := r.Wait(ctx)
	return r, res, err
}

func comp(id, version string, tags ...component.TagEntry) *component.Config {
	return &component.Config{ID: id, Version: version, URL: "/components/" + id, Taglib: tags}
}

func withController(cfg *component.Config, controller string) *component.Config {
	cfg.Views = append(cfg.Views, component.ViewConfig{View: "htdocs/main.html", Controller: controller})
	return cfg
}

func tag(name, module string) component.TagEntry {
	return component.TagEntry{Namespace: "comp", Tag: name, Module: module}
}

func viewTag(name, module, view string) component.TagEntry {
	return component.TagEntry{Namespace: "comp", Tag: name, Module: module, View: view}
}

func mainView(id string) string {
	return "/components/" + id + "/htdocs/main.html"
}

func waitState(r *Renderer, s State, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if r.State() >= s {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return r.State() >= s
}

// walk visits r and its descendants depth first.
func walk(r *Renderer, fn func(*Renderer)) {
	fn(r)
	for _, c := range r.Children() {
		walk(c, fn)
	}
}
