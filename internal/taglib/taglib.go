// Package taglib provides the custom tags a view template may use. Each
// tag is either immediate (its output is known when the start tag is
// seen) or deferred (it needs its whole body and resolves later).
package taglib

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"golang.org/x/net/html"

	"github.com/conneroisu/rain/internal/errors"
	"github.com/conneroisu/rain/internal/logging"
	"github.com/conneroisu/rain/internal/parser"
)

// Namespace prefixes the built-in tags.
const Namespace = "rain"

// ImmediateFunc handles a tag without a body.
type ImmediateFunc func(ctx context.Context, t parser.Tag) (parser.Output, error)

// DeferredFunc handles a tag with its body.
type DeferredFunc func(ctx context.Context, t parser.Tag, b parser.Body) *parser.Future

// Fetcher loads the resource behind a url.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Library is a registry of tag handlers. It implements parser.TagLibrary.
type Library struct {
	mu        sync.RWMutex
	immediate map[string]ImmediateFunc
	deferred  map[string]DeferredFunc
	logger    logging.Logger
}

var _ parser.TagLibrary = (*Library)(nil)

// New returns an empty library.
func New(logger logging.Logger) *Library {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Library{
		immediate: make(map[string]ImmediateFunc),
		deferred:  make(map[string]DeferredFunc),
		logger:    logger.WithComponent("taglib"),
	}
}

// NewDefault returns a library with the built-in rain: tags.
func NewDefault(fetcher Fetcher, logger logging.Logger) *Library {
	l := New(logger)
	l.RegisterImmediate(Namespace+":css", dependencyTag(func(o *parser.Output, p string) { o.CSS = append(o.CSS, p) }))
	l.RegisterImmediate(Namespace+":script", dependencyTag(func(o *parser.Output, p string) { o.Script = append(o.Script, p) }))
	l.RegisterImmediate(Namespace+":locale", dependencyTag(func(o *parser.Output, p string) { o.Locale = append(o.Locale, p) }))
	l.RegisterImmediate(Namespace+":controller", dependencyTag(func(o *parser.Output, p string) { o.Controller = p }))
	l.RegisterDeferred(Namespace+":include", l.include(fetcher))
	return l
}

// RegisterImmediate adds or replaces an immediate handler.
func (l *Library) RegisterImmediate(name string, fn ImmediateFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.deferred, name)
	l.immediate[name] = fn
}

// RegisterDeferred adds or replaces a deferred handler.
func (l *Library) RegisterDeferred(name string, fn DeferredFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.immediate, name)
	l.deferred[name] = fn
}

// Names lists the registered tags.
func (l *Library) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	names := make([]string, 0, len(l.immediate)+len(l.deferred))
	for n := range l.immediate {
		names = append(names, n)
	}
	for n := range l.deferred {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Supports reports whether name has an immediate or a body handler.
func (l *Library) Supports(name string, _ []html.Attribute) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.immediate[name]
	if !ok {
		_, ok = l.deferred[name]
	}
	return ok
}

// BodyExpected reports whether name is handled after its body is captured.
func (l *Library) BodyExpected(name string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.deferred[name]
	return ok
}

// Handle runs the immediate handler registered for t.
func (l *Library) Handle(ctx context.Context, t parser.Tag) (parser.Output, error) {
	l.mu.RLock()
	fn, ok := l.immediate[t.Name]
	l.mu.RUnlock()
	if !ok {
		return parser.Output{}, errors.NewInternalError(errors.ErrCodeInternalError, "no immediate handler for "+t.Name, nil)
	}
	return fn(ctx, t)
}

// HandleBody runs the body handler registered for t. An unknown tag yields
// a failed future.
func (l *Library) HandleBody(ctx context.Context, t parser.Tag, b parser.Body) *parser.Future {
	l.mu.RLock()
	fn, ok := l.deferred[t.Name]
	l.mu.RUnlock()
	if !ok {
		return parser.Failed(errors.NewInternalError(errors.ErrCodeInternalError, "no body handler for "+t.Name, nil))
	}
	return fn(ctx, t, b)
}

func dependencyTag(add func(*parser.Output, string)) ImmediateFunc {
	return func(_ context.Context, t parser.Tag) (parser.Output, error) {
		p, ok := t.Attr("path")
		if !ok || strings.TrimSpace(p) == "" {
			return parser.Output{}, errors.NewValidationError(errors.ErrCodeValidationFailed,
				fmt.Sprintf("<%s> requires a path attribute", t.Name))
		}
		var out parser.Output
		add(&out, p)
		return out, nil
	}
}

// include splices another resource into the view. The body is used as
// fallback markup when the resource cannot be loaded.
func (l *Library) include(fetcher Fetcher) DeferredFunc {
	return func(ctx context.Context, t parser.Tag, b parser.Body) *parser.Future {
		src, ok := t.Attr("src")
		if !ok || src == "" || fetcher == nil {
			return parser.Resolved(parser.Output{Markup: b.Text})
		}

		url := ResolveRelative(t.BaseURL, src)
		future := parser.NewFuture()
		go func() {
			data, err := fetcher.Fetch(ctx, url)
			if err != nil {
				l.logger.Warn(ctx, err, "Include failed, using fallback body", "src", url, "view", t.BaseURL)
				future.Resolve(parser.Output{Markup: b.Text})
				return
			}
			future.Resolve(parser.Output{Markup: string(data)})
		}()
		return future
	}
}

// ResolveRelative resolves ref against the directory of base unless ref is
// absolute or carries a scheme.
func ResolveRelative(base, ref string) string {
	if strings.HasPrefix(ref, "/") || strings.Contains(ref, "://") {
		return ref
	}
	return path.Join(path.Dir(base), ref)
}
