// Package resource loads templates and locale files by url. Loads are
// asynchronous and cached per url; a resource reaches a terminal state
// exactly once.
package resource

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/conneroisu/rain/internal/errors"
	"github.com/conneroisu/rain/internal/logging"
)

// State is the load state of a Resource.
type State int32

const (
	StateInit State = iota
	StateLoading
	StateComplete
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateLoading:
		return "loading"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// maxRemoteSize bounds how much of a remote resource is read.
const maxRemoteSize = 4 << 20

// Resource is one loadable url.
type Resource struct {
	url   string
	mgr   *Manager
	once  sync.Once
	state atomic.Int32
	done  chan struct{}
	data  []byte
	err   error
}

// URL returns the url the resource was requested with.
func (r *Resource) URL() string { return r.url }

// State returns the current load state.
func (r *Resource) State() State { return State(r.state.Load()) }

// Done is closed once the resource reached StateComplete or StateFailed.
func (r *Resource) Done() <-chan struct{} { return r.done }

// Data returns the loaded bytes. It is nil until Done is closed.
func (r *Resource) Data() []byte {
	if r.State() != StateComplete {
		return nil
	}
	return r.data
}

// Err returns the load error of a failed resource.
func (r *Resource) Err() error {
	if r.State() != StateFailed {
		return nil
	}
	return r.err
}

// Load starts loading the resource if that has not happened yet and
// returns immediately. The load is not bound to ctx cancellation since
// other requests may share the cached resource.
func (r *Resource) Load(ctx context.Context) *Resource {
	r.once.Do(func() {
		r.state.Store(int32(StateLoading))
		go r.fetch(context.WithoutCancel(ctx))
	})
	return r
}

// Wait loads the resource and blocks until it is available or ctx is done.
func (r *Resource) Wait(ctx context.Context) ([]byte, error) {
	r.Load(ctx)
	select {
	case <-r.done:
		if err := r.Err(); err != nil {
			return nil, err
		}
		return r.data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Resource) fetch(ctx context.Context) {
	perf := logging.StartOperation(r.mgr.logger, "resource.load")
	data, err := r.mgr.read(ctx, r.url)

	r.data, r.err = data, err
	if err != nil {
		r.state.Store(int32(StateFailed))
		r.mgr.evict(r)
		perf.EndWithError(ctx, err, "Resource load failed", "url", r.url)
	} else {
		r.state.Store(int32(StateComplete))
		perf.End(ctx, "Resource loaded", "url", r.url, "bytes", len(data))
	}
	close(r.done)
}

// Manager caches resources per url.
type Manager struct {
	prefix string
	root   string
	client *http.Client
	source SourceFunc
	logger logging.Logger

	mu    sync.Mutex
	cache map[string]*Resource
}

// Option configures a Manager.
type Option func(*Manager)

// WithHTTPClient sets the client used for http(s) urls.
func WithHTTPClient(c *http.Client) Option {
	return func(m *Manager) { m.client = c }
}

// SourceFunc reads the bytes behind a url.
type SourceFunc func(ctx context.Context, url string) ([]byte, error)

// WithSource replaces the file and http lookup with fn.
func WithSource(fn SourceFunc) Option {
	return func(m *Manager) { m.source = fn }
}

// WithLogger sets the manager's logger.
func WithLogger(l logging.Logger) Option {
	return func(m *Manager) { m.logger = l.WithComponent("resource") }
}

// NewManager serves urls below prefix from the root directory.
func NewManager(prefix, root string, opts ...Option) *Manager {
	m := &Manager{
		prefix: strings.TrimSuffix(prefix, "/"),
		root:   root,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logging.NewNop(),
		cache:  make(map[string]*Resource),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get returns the cached resource for url, creating it in StateInit.
func (m *Manager) Get(url string) *Resource {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r, ok := m.cache[url]; ok {
		return r
	}
	r := &Resource{url: url, mgr: m, done: make(chan struct{})}
	m.cache[url] = r
	return r
}

// Fetch loads url and waits for its data.
func (m *Manager) Fetch(ctx context.Context, url string) ([]byte, error) {
	return m.Get(url).Wait(ctx)
}

// Invalidate drops url from the cache. Renderers holding the old resource keep it.
func (m *Manager) Invalidate(url string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cache, url)
}

// InvalidatePath drops the resource backed by the file at p.
func (m *Manager) InvalidatePath(p string) bool {
	url, ok := m.URLForPath(p)
	if !ok {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, cached := m.cache[url]
	delete(m.cache, url)
	return cached
}

// Len returns the number of cached resources.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.cache)
}

// URLForPath maps a file below the root back to its url.
func (m *Manager) URLForPath(p string) (string, bool) {
	absRoot, err := filepath.Abs(m.root)
	if err != nil {
		return "", false
	}
	absPath, err := filepath.Abs(p)
	if err != nil {
		return "", false
	}
	rel, err := filepath.Rel(absRoot, absPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return m.prefix + "/" + filepath.ToSlash(rel), true
}

// FilePath maps a url below the prefix to a file below the root.
func (m *Manager) FilePath(url string) (string, error) {
	rest, ok := strings.CutPrefix(url, m.prefix+"/")
	if !ok {
		return "", errors.NewResolutionError(errors.ErrCodeFileNotFound, fmt.Sprintf("url %s is outside %s", url, m.prefix))
	}
	for _, seg := range strings.Split(rest, "/") {
		if seg == ".." {
			return "", errors.NewSecurityError(errors.ErrCodePathTraversal, "url contains traversal: "+url)
		}
	}
	return filepath.Join(m.root, filepath.FromSlash(path.Clean("/"+rest))), nil
}

func (m *Manager) evict(r *Resource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cache[r.url] == r {
		delete(m.cache, r.url)
	}
}

func (m *Manager) read(ctx context.Context, url string) ([]byte, error) {
	if m.source != nil {
		return m.source(ctx, url)
	}
	if strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
		return m.readRemote(ctx, url)
	}

	file, err := m.FilePath(url)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, errors.NewIOError(errors.ErrCodeResourceLoad, "reading "+url, err)
	}
	return data, nil
}

func (m *Manager) readRemote(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.NewValidationError(errors.ErrCodeInvalidPath, "invalid url "+url)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, errors.NewIOError(errors.ErrCodeResourceLoad, "fetching "+url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.NewIOError(errors.ErrCodeResourceLoad, fmt.Sprintf("fetching %s: status %d", url, resp.StatusCode), nil)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxRemoteSize+1))
	if err != nil {
		return nil, errors.NewIOError(errors.ErrCodeResourceLoad, "reading "+url, err)
	}
	if len(data) > maxRemoteSize {
		return nil, errors.NewIOError(errors.ErrCodeResourceLoad, fmt.Sprintf("fetching %s: larger than %d bytes", url, maxRemoteSize), nil)
	}
	return data, nil
}
