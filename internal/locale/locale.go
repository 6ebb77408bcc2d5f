// Package locale translates component views. Each component declares one
// message file per language; a Localizer loads the best match for the
// requested language and exposes its messages to templates as {{t.<key>}}.
package locale

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cbroglie/mustache"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/rain/internal/component"
	"github.com/conneroisu/rain/internal/errors"
	"github.com/conneroisu/rain/internal/logging"
)

// State is the load state of a Localizer.
type State int32

const (
	StateNoLocales State = iota
	StateLoading
	StateLoaded
)

func (s State) String() string {
	switch s {
	case StateNoLocales:
		return "no-locales"
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	default:
		return "unknown"
	}
}

// TranslationKey is the data key templates read translations from.
const TranslationKey = "t"

// Fetcher loads a locale file by url.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Localizer holds the messages of one component in one language.
type Localizer struct {
	module string
	tag    language.Tag
	state  atomic.Int32
	ready  chan struct{}

	keys    []string
	printer *message.Printer
}

// NoLocales returns a localizer for components without message files.
func NoLocales() *Localizer {
	l := &Localizer{ready: make(chan struct{})}
	l.state.Store(int32(StateNoLocales))
	close(l.ready)
	return l
}

// State returns the current load state.
func (l *Localizer) State() State { return State(l.state.Load()) }

// Ready is closed once the localizer left StateLoading.
func (l *Localizer) Ready() <-chan struct{} { return l.ready }

// Language returns the language the localizer serves.
func (l *Localizer) Language() language.Tag { return l.tag }

// Translate returns the message for key, or key itself when it is unknown.
func (l *Localizer) Translate(key string) string {
	if l.State() != StateLoaded {
		return key
	}
	return l.printer.Sprintf(key)
}

// Messages returns every translated message keyed by its id.
func (l *Localizer) Messages() map[string]string {
	out := make(map[string]string, len(l.keys))
	if l.State() != StateLoaded {
		return out
	}
	for _, k := range l.keys {
		out[k] = l.printer.Sprintf(k)
	}
	return out
}

// ApplyTemplate renders doc as a mustache template with data plus the
// translations under "t". data is not modified.
func (l *Localizer) ApplyTemplate(doc string, data map[string]interface{}) (string, error) {
	merged := make(map[string]interface{}, len(data)+1)
	for k, v := range data {
		merged[k] = v
	}
	merged[TranslationKey] = l.Messages()

	out, err := mustache.Render(doc, merged)
	if err != nil {
		return "", errors.NewParseError(errors.ErrCodeTemplate, fmt.Sprintf("applying %s template: %v", l.tag, err))
	}
	return out, nil
}

func (l *Localizer) load(ctx context.Context, fetcher Fetcher, url string, logger logging.Logger) {
	defer close(l.ready)

	data, err := fetcher.Fetch(ctx, url)
	if err != nil {
		logger.Warn(ctx, err, "Locale file unavailable, rendering untranslated", "module", l.module, "url", url)
		l.state.Store(int32(StateNoLocales))
		return
	}

	var messages map[string]string
	if err := yaml.Unmarshal(data, &messages); err != nil {
		logger.Warn(ctx, err, "Locale file is not a message map", "module", l.module, "url", url)
		l.state.Store(int32(StateNoLocales))
		return
	}

	b := catalog.NewBuilder(catalog.Fallback(l.tag))
	keys := make([]string, 0, len(messages))
	for k, msg := range messages {
		// Messages are plain text; the catalog treats them as printf formats.
		if err := b.SetString(l.tag, k, strings.ReplaceAll(msg, "%", "%%")); err != nil {
			logger.Warn(ctx, err, "Skipping locale message", "module", l.module, "key", k)
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	l.keys = keys
	l.printer = message.NewPrinter(l.tag, message.Catalog(b))
	l.state.Store(int32(StateLoaded))
	logger.Debug(ctx, "Locale loaded", "module", l.module, "lang", l.tag.String(), "messages", len(keys))
}

// Manager hands out localizers, one per component and matched language.
type Manager struct {
	fetcher  Fetcher
	fallback language.Tag
	logger   logging.Logger

	mu    sync.Mutex
	cache map[string]*Localizer
}

// NewManager creates a manager. defaultLang is used when a request names
// no language.
func NewManager(fetcher Fetcher, defaultLang string, logger logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	fallback, err := language.Parse(defaultLang)
	if err != nil {
		fallback = language.English
	}
	return &Manager{
		fetcher:  fetcher,
		fallback: fallback,
		logger:   logger.WithComponent("locale"),
		cache:    make(map[string]*Localizer),
	}
}

// For returns the localizer of cfg best matching lang. lang may be a
// single tag or an Accept-Language value. Loading starts in the background.
func (m *Manager) For(ctx context.Context, cfg *component.Config, lang string) *Localizer {
	if len(cfg.Locales) == 0 {
		return NoLocales()
	}

	tag, file := m.match(cfg, lang)
	key := cfg.ModuleID() + "|" + tag.String()

	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.cache[key]; ok {
		return l
	}

	l := &Localizer{module: cfg.ModuleID(), tag: tag, ready: make(chan struct{})}
	l.state.Store(int32(StateLoading))
	m.cache[key] = l
	go l.load(context.WithoutCancel(ctx), m.fetcher, path.Join(cfg.URL, file), m.logger)
	return l
}

// Invalidate forgets every localizer of a module so its files are reloaded.
func (m *Manager) Invalidate(moduleID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, l := range m.cache {
		if l.module == moduleID {
			delete(m.cache, key)
		}
	}
}

func (m *Manager) match(cfg *component.Config, lang string) (language.Tag, string) {
	names := make([]string, 0, len(cfg.Locales))
	for name := range cfg.Locales {
		names = append(names, name)
	}
	sort.Strings(names)

	tags := make([]language.Tag, 0, len(names))
	files := make([]string, 0, len(names))
	for _, name := range names {
		t, err := language.Parse(name)
		if err != nil {
			continue
		}
		tags = append(tags, t)
		files = append(files, cfg.Locales[name])
	}
	if len(tags) == 0 {
		return m.fallback, ""
	}

	wanted, _, err := language.ParseAcceptLanguage(lang)
	if err != nil || len(wanted) == 0 {
		wanted = []language.Tag{m.fallback}
	}
	matcher := language.NewMatcher(tags)
	_, idx, conf := matcher.Match(wanted...)
	if conf == language.No {
		if _, fi, fconf := matcher.Match(m.fallback); fconf != language.No {
			idx = fi
		}
	}
	return tags[idx], files[idx]
}
