// Package renderer composes a tree of component views into one output.
//
// A Renderer exists per component view instance. It loads its template,
// parses it, starts one child Renderer per component reference found in
// it, and renders once every child has rendered. States only move
// forward: INIT, PARSED, RENDERED.
package renderer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cbroglie/mustache"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/conneroisu/rain/internal/component"
	"github.com/conneroisu/rain/internal/errors"
	"github.com/conneroisu/rain/internal/locale"
	"github.com/conneroisu/rain/internal/logging"
	"github.com/conneroisu/rain/internal/parser"
	"github.com/conneroisu/rain/internal/resource"
	"github.com/conneroisu/rain/internal/session"
)

var tracer trace.Tracer = otel.Tracer("github.com/conneroisu/rain/internal/renderer")

// State is the lifecycle position of a Renderer.
type State int32

const (
	StateInit State = iota
	StateParsed
	StateRendered
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateParsed:
		return "parsed"
	case StateRendered:
		return "rendered"
	default:
		return "unknown"
	}
}

// Mode selects what the root renderer produces.
type Mode int

const (
	// ModeDocument produces a complete html page.
	ModeDocument Mode = iota
	// ModeData leaves the content as a fragment for structured output.
	ModeData
)

// ContentMarker is replaced by the markup the instantiating tag enclosed.
const ContentMarker = "<c:content/>"

// LangKey is the data key carrying the requested language.
const LangKey = "req_rain.lang"

// Resolver is the component lookup a renderer needs.
type Resolver interface {
	Resolve(moduleID string) (*component.Config, error)
	ResolveURL(cfg *component.Config, uri string) (string, error)
	ViewURL(cfg *component.Config, view string) string
	ViewConfig(cfg *component.Config, url string) *component.ViewConfig
	TagManager(cfg *component.Config) parser.ComponentMapper
}

// Loader hands out template resources by url.
type Loader interface {
	Get(url string) *resource.Resource
}

// Localizer applies a component's translations while templating.
type Localizer interface {
	State() locale.State
	Ready() <-chan struct{}
	ApplyTemplate(doc string, data map[string]interface{}) (string, error)
}

// Env holds the collaborators shared by every renderer of a server.
type Env struct {
	Components Resolver
	Resources  Loader
	Tags       parser.TagLibrary
	// Locales returns the localizer of a component. Nil disables localization.
	Locales func(ctx context.Context, cfg *component.Config, lang string) Localizer
	// ServerID identifies this process in instance ids.
	ServerID string
	// ClientRuntime is the module the client bootstrap scripts require.
	ClientRuntime string
	NewID         func() string
	Logger        logging.Logger
}

// Request is the state shared by all renderers of one root render.
type Request struct {
	// Session remembers instance ids across requests. It may be nil.
	Session *session.Session
	Lang    string

	domID atomic.Int64
}

// NewRequest creates the request context of one root render.
func NewRequest(sess *session.Session, lang string) *Request {
	return &Request{Session: sess, Lang: lang}
}

// SessionID returns the id of the request's session or "".
func (r *Request) SessionID() string {
	if r.Session == nil {
		return ""
	}
	return r.Session.ID()
}

func (r *Request) nextDomID() int64 {
	return r.domID.Add(1)
}

// Options describe a root render.
type Options struct {
	Component *component.Config
	// URL of the view template. Empty selects the component's default view.
	URL     string
	Mode    Mode
	Data    map[string]interface{}
	Request *Request
}

// Result is the output of a renderer. It does not change once produced.
type Result struct {
	Content      string              `json:"content" msgpack:"content"`
	Dependencies parser.Dependencies `json:"dependencies" msgpack:"dependencies"`
	Controller   string              `json:"clientcontroller,omitempty" msgpack:"clientcontroller,omitempty"`
	Identity     Identity            `json:"identity" msgpack:"identity"`
}

// StateListener is told about every state a renderer enters.
type StateListener func(r *Renderer, s State)

var rendererSeq atomic.Uint64

// Renderer drives one component view from template to rendered result.
type Renderer struct {
	seq     uint64
	env     *Env
	req     *Request
	cfg     *component.Config
	url     string
	mode    Mode
	data    map[string]interface{}
	parent  *Renderer
	element *parser.Element
	loc     Localizer
	logger  logging.Logger

	state atomic.Int32
	done  chan struct{}

	mu        sync.Mutex
	listeners []StateListener
	parsed    *parser.Result
	children  []*Renderer
	slots     map[string]*Renderer
	result    *Result

	identOnce  sync.Once
	identity   Identity
	renderOnce sync.Once
}

// New creates the root renderer of a request and starts it. Loading and
// parsing happen in the background; use Done, Wait or OnStateChange to
// observe completion.
func New(ctx context.Context, env *Env, opts Options) (*Renderer, error) {
	if opts.Component == nil {
		return nil, errors.NewValidationError(errors.ErrCodeValidationFailed, "renderer needs a component")
	}
	if opts.Request == nil {
		opts.Request = NewRequest(nil, "")
	}
	if env.Logger == nil {
		e := *env
		e.Logger = logging.NewNop()
		env = &e
	}
	if opts.URL == "" {
		opts.URL = env.Components.ViewURL(opts.Component, "")
	}
	data := make(map[string]interface{}, len(opts.Data)+1)
	for k, v := range opts.Data {
		data[k] = v
	}
	if _, ok := data[LangKey]; !ok && opts.Request.Lang != "" {
		data[LangKey] = opts.Request.Lang
	}

	r := newRenderer(ctx, env, opts.Request, opts.Component, opts.URL, opts.Mode, data)
	go r.run(ctx)
	return r, nil
}

func newRenderer(ctx context.Context, env *Env, req *Request, cfg *component.Config, url string, mode Mode, data map[string]interface{}) *Renderer {
	r := &Renderer{
		seq:  rendererSeq.Add(1),
		env:  env,
		req:  req,
		cfg:  cfg,
		url:  url,
		mode: mode,
		data: data,
		done: make(chan struct{}),
	}
	r.logger = env.Logger.WithComponent("renderer").With("renderer", r.seq, "module", cfg.ModuleID())
	if env.Locales != nil {
		r.loc = env.Locales(ctx, cfg, req.Lang)
	}
	return r
}

// State returns the current state.
func (r *Renderer) State() State { return State(r.state.Load()) }

// Done is closed when the renderer reached StateRendered.
func (r *Renderer) Done() <-chan struct{} { return r.done }

// URL returns the view template url.
func (r *Renderer) URL() string { return r.url }

// Component returns the component the view belongs to.
func (r *Renderer) Component() *component.Config { return r.cfg }

// Parent returns the renderer this one was discovered by, or nil at the root.
func (r *Renderer) Parent() *Renderer { return r.parent }

// Element returns the component reference this renderer was created for.
func (r *Renderer) Element() *parser.Element { return r.element }

// IsRoot reports whether r has no parent.
func (r *Renderer) IsRoot() bool { return r.parent == nil }

// Children returns the child renderers in registration order.
func (r *Renderer) Children() []*Renderer {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Renderer, len(r.children))
	copy(out, r.children)
	return out
}

// Result returns the render result, or nil before StateRendered.
func (r *Renderer) Result() *Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result
}

// Wait blocks until the renderer rendered or ctx is done.
func (r *Renderer) Wait(ctx context.Context) (*Result, error) {
	select {
	case <-r.done:
		return r.Result(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// OnStateChange subscribes fn to every later state transition.
func (r *Renderer) OnStateChange(fn StateListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

func (r *Renderer) setState(ctx context.Context, s State) {
	r.mu.Lock()
	if State(r.state.Load()) >= s {
		r.mu.Unlock()
		panic(fmt.Sprintf("renderer %d: state %s after %s", r.seq, s, r.State()))
	}
	r.state.Store(int32(s))
	listeners := make([]StateListener, len(r.listeners))
	copy(listeners, r.listeners)
	r.mu.Unlock()

	r.logger.Debug(ctx, "Renderer state changed", "state", s.String(), "url", r.url)
	if s == StateRendered {
		close(r.done)
	}
	for _, fn := range listeners {
		fn(r, s)
	}
}

// run loads and parses the template and fans out to the children.
func (r *Renderer) run(ctx context.Context) {
	ctx, span := tracer.Start(ctx, "renderer.parse", trace.WithAttributes(
		attribute.String("rain.module", r.cfg.ModuleID()),
		attribute.String("rain.view.url", r.url),
	))
	defer span.End()

	data, err := r.env.Resources.Get(r.url).Wait(ctx)
	if err != nil {
		if ctx.Err() != nil {
			r.logger.Debug(ctx, "Render abandoned while loading template", "url", r.url)
			return
		}
		span.RecordError(err)
		r.logger.Warn(ctx, err, "Template unavailable, rendering empty", "url", r.url)
	}

	tmpl := string(data)
	mapper := r.env.Components.TagManager(r.cfg)
	if r.parent != nil && r.element != nil && r.element.Content != "" {
		tmpl = strings.Replace(tmpl, ContentMarker, r.element.Content, 1)
		mapper = component.Chain(mapper, r.env.Components.TagManager(r.parent.cfg))
	}

	parsed := parser.Parse(ctx, tmpl, r.url, parser.Config{
		Tags:       r.env.Tags,
		Components: mapper,
		NewID:      r.env.NewID,
		Logger:     r.logger,
	})
	if ctx.Err() != nil {
		r.logger.Debug(ctx, "Render abandoned while parsing", "url", r.url)
		return
	}
	span.SetAttributes(attribute.Int("rain.view.elements", len(parsed.Elements)))

	r.mu.Lock()
	r.parsed = parsed
	r.slots = make(map[string]*Renderer, len(parsed.Elements))
	r.mu.Unlock()

	var children []*Renderer
	if len(parsed.Elements) > 0 {
		// Children derive their instance ids from ours.
		r.Identity()
		for _, el := range parsed.Elements {
			if child := r.addChild(ctx, el); child != nil {
				children = append(children, child)
			}
		}
	}

	r.setState(ctx, StateParsed)

	if len(children) == 0 {
		r.render(ctx)
		return
	}
	for _, child := range children {
		go child.run(ctx)
	}
}

// addChild builds and registers the renderer of one discovered element.
// An element whose component cannot be resolved renders as nothing.
func (r *Renderer) addChild(ctx context.Context, el *parser.Element) *Renderer {
	cfg, err := r.env.Components.Resolve(el.Tag.Module)
	if err != nil {
		r.logger.Warn(ctx, err, "Dropping unresolvable component reference", "element", el.Name, "target", el.Tag.Module)
		return nil
	}

	data := map[string]interface{}{}
	if lang, ok := r.data[LangKey]; ok {
		data[LangKey] = lang
	}
	for _, a := range el.Attrs {
		data["attr_"+a.Key] = a.Val
	}

	child := newRenderer(ctx, r.env, r.req, cfg, r.env.Components.ViewURL(cfg, el.Tag.View), ModeData, data)
	child.parent = r
	child.element = el
	child.OnStateChange(func(c *Renderer, s State) {
		if s == StateRendered {
			r.childRendered(ctx)
		}
	})

	r.mu.Lock()
	r.children = append(r.children, child)
	r.slots[el.ID] = child
	r.mu.Unlock()

	child.Identity()
	return child
}

// childRendered re-evaluates the fan-in barrier.
func (r *Renderer) childRendered(ctx context.Context) {
	if r.State() < StateParsed {
		return
	}
	for _, c := range r.Children() {
		if c.State() < StateRendered {
			return
		}
	}
	r.render(ctx)
}

func (r *Renderer) render(ctx context.Context) {
	r.renderOnce.Do(func() { r.doRender(ctx) })
}

func (r *Renderer) doRender(ctx context.Context) {
	ctx, span := tracer.Start(ctx, "renderer.render", trace.WithAttributes(
		attribute.String("rain.module", r.cfg.ModuleID()),
		attribute.Bool("rain.root", r.IsRoot()),
	))
	defer span.End()

	r.mu.Lock()
	parsed, slots, children := r.parsed, r.slots, append([]*Renderer(nil), r.children...)
	r.mu.Unlock()

	doc := parsed.String()
	if !r.IsRoot() {
		doc = ViewBody(doc)
	}

	data := make(map[string]interface{}, len(r.data)+3*len(parsed.Elements))
	for k, v := range r.data {
		data[k] = v
	}
	for _, el := range parsed.Elements {
		open, content, closing := "", "", ""
		if child, ok := slots[el.ID]; ok {
			open, closing = child.openFragment(ctx), child.closeFragment(ctx)
			if res := child.Result(); res != nil {
				content = res.Content
			}
		}
		data[parser.MarkerKey(parser.PhaseOpen, el.ID)] = open
		data[parser.MarkerKey(parser.PhaseContent, el.ID)] = content
		data[parser.MarkerKey(parser.PhaseClose, el.ID)] = closing
	}

	content, err := r.applyTemplate(ctx, doc, data)
	if err != nil {
		if ctx.Err() != nil {
			r.logger.Debug(ctx, "Render abandoned while waiting for locales", "url", r.url)
			return
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "template failed")
		r.logger.Error(ctx, err, "View template failed, rendering empty", "url", r.url)
		content = ""
	}

	result := &Result{
		Content:      content,
		Dependencies: r.resolveDependencies(ctx, parsed.Dependencies),
		Controller:   r.controller(ctx, parsed.Controller),
	}
	for _, c := range children {
		if res := c.Result(); res != nil {
			result.Dependencies.Add(res.Dependencies)
		}
	}

	if r.IsRoot() {
		result.Dependencies = Unique(result.Dependencies)
		result.Content = r.wrapBody(ctx, result.Content)
		if r.mode == ModeDocument {
			page, err := RenderDocument(ctx, r.req.Lang, result)
			if err != nil {
				r.logger.Error(ctx, err, "Document shell failed", "url", r.url)
			} else {
				result.Content = page
			}
		}
	}
	result.Identity = r.Identity()

	r.mu.Lock()
	r.result = result
	r.mu.Unlock()

	r.setState(ctx, StateRendered)
}

// applyTemplate fills the placeholders, through the localizer once its
// messages are loaded.
func (r *Renderer) applyTemplate(ctx context.Context, doc string, data map[string]interface{}) (string, error) {
	if r.loc == nil {
		return applyMustache(doc, data)
	}
	switch r.loc.State() {
	case locale.StateNoLocales:
		return applyMustache(doc, data)
	case locale.StateLoaded:
		return r.loc.ApplyTemplate(doc, data)
	}

	select {
	case <-r.loc.Ready():
	case <-ctx.Done():
		return "", ctx.Err()
	}
	if r.loc.State() == locale.StateLoaded {
		return r.loc.ApplyTemplate(doc, data)
	}
	return applyMustache(doc, data)
}

func applyMustache(doc string, data map[string]interface{}) (string, error) {
	out, err := mustache.Render(doc, data)
	if err != nil {
		return "", errors.NewParseError(errors.ErrCodeTemplate, err.Error())
	}
	return out, nil
}

func (r *Renderer) resolveDependencies(ctx context.Context, own parser.Dependencies) parser.Dependencies {
	resolve := func(urls []string) []string {
		out := make([]string, 0, len(urls))
		for _, u := range urls {
			out = append(out, r.resolveURL(ctx, u))
		}
		return out
	}
	return parser.Dependencies{
		CSS:    resolve(own.CSS),
		Script: resolve(own.Script),
		Locale: resolve(own.Locale),
	}
}

// controller prefers the view's configured controller over one declared in markup.
func (r *Renderer) controller(ctx context.Context, declared string) string {
	if vc := r.env.Components.ViewConfig(r.cfg, r.url); vc != nil && vc.Controller != "" {
		return r.resolveURL(ctx, vc.Controller)
	}
	return r.resolveURL(ctx, declared)
}

func (r *Renderer) resolveURL(ctx context.Context, u string) string {
	resolved, err := r.env.Components.ResolveURL(r.cfg, u)
	if err != nil {
		r.logger.Warn(ctx, err, "Keeping unresolvable url", "url", u)
		return u
	}
	return resolved
}

// Unique drops repeated urls, keeping first occurrences.
func Unique(d parser.Dependencies) parser.Dependencies {
	return parser.Dependencies{
		CSS:    unique(d.CSS),
		Script: unique(d.Script),
		Locale: unique(d.Locale),
	}
}

func unique(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// Tree describes the renderer tree for debugging.
func (r *Renderer) Tree() string {
	var b strings.Builder
	r.tree(&b, 0)
	return b.String()
}

func (r *Renderer) tree(b *strings.Builder, depth int) {
	fmt.Fprintf(b, "%s%s %s [%s]", strings.Repeat("  ", depth), r.cfg.ModuleID(), r.url, r.State())
	if r.element != nil {
		fmt.Fprintf(b, " element=%s", r.element.ID)
	}
	b.WriteByte('\n')
	for _, c := range r.Children() {
		c.tree(b, depth+1)
	}
}
