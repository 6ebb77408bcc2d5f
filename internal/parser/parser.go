// Package parser implements the view parser: a single forward pass over a
// component template that copies markup through untouched, expands custom
// tags through a TagLibrary, and replaces child component references with
// placeholder markers the renderer later fills in.
//
// The parser never fails. Malformed markup is logged and resolves to an
// empty Result so that one broken template only empties its own subtree.
package parser

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/net/html"
	a "golang.org/x/net/html/atom"

	"github.com/conneroisu/rain/internal/errors"
	"github.com/conneroisu/rain/internal/logging"
)

// StaticIDAttr is the attribute authors use to give a component instance a stable key.
const StaticIDAttr = "data-sid"

var tracer = otel.Tracer("github.com/conneroisu/rain/internal/parser")

// Config carries the collaborators of one parse pass. Tags and Components may be nil.
type Config struct {
	Tags       TagLibrary
	Components ComponentMapper
	// NewID generates element ids. Ids must not contain '.' or '}'.
	NewID  func() string
	Logger logging.Logger
}

var elementSeq atomic.Uint64

func defaultID() string {
	return strconv.FormatUint(elementSeq.Add(1), 10)
}

var voidElements = map[a.Atom]bool{
	a.Area: true, a.Base: true, a.Br: true, a.Col: true, a.Embed: true,
	a.Hr: true, a.Img: true, a.Input: true, a.Keygen: true, a.Link: true,
	a.Meta: true, a.Param: true, a.Source: true, a.Track: true, a.Wbr: true,
}

// IsVoid reports whether name is an element that never has an end tag.
func IsVoid(name string) bool {
	return voidElements[a.Lookup([]byte(name))]
}

type entryKind int

const (
	kindLiteral entryKind = iota
	kindDiscovered
	// kindDropped is a handled immediate tag; its end tag is dropped too.
	kindDropped
	kindBody
	// kindCaptured is a start tag swallowed by an enclosing body frame.
	kindCaptured
)

type openEntry struct {
	kind entryKind
	name string

	// kindDiscovered
	element *Element
	mark    int

	// kindBody
	frame *bodyFrame
}

type bodyFrame struct {
	tag  Tag
	body Body
	text strings.Builder
}

type pending struct {
	future  *Future
	slot    int
	contrib int
	name    string
}

// viewParser holds the state of one pass.
type viewParser struct {
	ctx     context.Context
	cfg     Config
	baseURL string
	z       *html.Tokenizer
	line    int

	doc      []Fragment
	elements []*Element
	// contribs keeps handler outputs in document order; deferred ones are filled at the end.
	contribs []Output
	pending  []pending

	oe []openEntry
	// discovered is the index in oe of the open discovered element, or -1.
	discovered int
	// frame is the index in oe of the outermost body frame, or -1.
	frame int
}

// Parse runs one pass over markup. baseURL identifies the template and is
// handed to tag handlers for resolving relative paths. Parse blocks until
// every deferred tag handler has completed or ctx is done.
func Parse(ctx context.Context, markup, baseURL string, cfg Config) *Result {
	if cfg.NewID == nil {
		cfg.NewID = defaultID
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}

	ctx, span := tracer.Start(ctx, "parser.Parse")
	defer span.End()
	span.SetAttributes(attribute.String("rain.view.url", baseURL))

	p := &viewParser{
		ctx:        ctx,
		cfg:        cfg,
		baseURL:    baseURL,
		z:          html.NewTokenizer(strings.NewReader(markup)),
		line:       1,
		discovered: -1,
		frame:      -1,
	}

	result, err := p.run()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "parse failed")
		fields := []interface{}{"url", baseURL, "line", p.line}
		for k, v := range errors.GetContext(err) {
			fields = append(fields, k, v)
		}
		cfg.Logger.Error(ctx, err, "View parse failed, resolving to an empty result", fields...)
		return Empty()
	}

	span.SetAttributes(attribute.Int("rain.view.elements", len(result.Elements)))
	return result
}

func (p *viewParser) run() (*Result, error) {
	for {
		tt := p.z.Next()
		raw := string(p.z.Raw())

		var err error
		switch tt {
		case html.ErrorToken:
			zerr := p.z.Err()
			if !stderrors.Is(zerr, io.EOF) {
				return nil, p.errorf(errors.ErrCodeTokenizer, "tokenizer: %v", zerr)
			}
			if raw != "" {
				return nil, p.errorf(errors.ErrCodeUnterminatedTag, "unterminated tag %q", truncate(raw))
			}
			return p.finish()
		case html.StartTagToken:
			err = p.startTag(raw, false)
		case html.SelfClosingTagToken:
			err = p.startTag(raw, true)
		case html.EndTagToken:
			err = p.endTag(raw)
		case html.TextToken:
			p.text(raw)
		case html.CommentToken, html.DoctypeToken:
			if p.frame < 0 {
				p.write(raw)
			}
		}
		if err != nil {
			return nil, err
		}
		p.line += strings.Count(raw, "\n")
	}
}

func (p *viewParser) startTag(raw string, selfClosing bool) error {
	tok := p.z.Token()
	name := tok.Data
	void := voidElements[tok.DataAtom]

	switch {
	case p.frame >= 0:
		frame := p.oe[p.frame].frame
		frame.body.Children = append(frame.body.Children, Child{Name: name, Attrs: tok.Attr})
		if !selfClosing && !void {
			p.push(openEntry{kind: kindCaptured, name: name})
		}
		return nil

	case p.discovered >= 0:
		p.write(raw)
		if !selfClosing && !void {
			p.push(openEntry{kind: kindLiteral, name: name})
		}
		return nil
	}

	t := Tag{Name: name, Prefix: prefix(name), Attrs: tok.Attr, BaseURL: p.baseURL}

	if p.cfg.Tags != nil && p.cfg.Tags.Supports(name, tok.Attr) {
		if p.cfg.Tags.BodyExpected(name) {
			frame := &bodyFrame{tag: t}
			if selfClosing || void {
				p.deferBody(frame)
				return nil
			}
			p.push(openEntry{kind: kindBody, name: name, frame: frame})
			p.frame = len(p.oe) - 1
			return nil
		}

		out, err := p.cfg.Tags.Handle(p.ctx, t)
		if err != nil {
			p.cfg.Logger.Warn(p.ctx, err, "Tag handler failed, dropping tag", "tag", name, "url", p.baseURL, "line", p.line)
		} else {
			p.contribute(out)
		}
		if !selfClosing && !void {
			p.push(openEntry{kind: kindDropped, name: name})
		}
		return nil
	}

	if p.cfg.Components != nil {
		if desc, ok := p.cfg.Components.Lookup(name, tok.Attr); ok {
			el := &Element{
				ID:        p.cfg.NewID(),
				Name:      name,
				Namespace: t.Prefix,
				Attrs:     tok.Attr,
				Tag:       desc,
			}
			el.StaticID, _ = el.Attr(StaticIDAttr)
			p.elements = append(p.elements, el)
			p.marker(PhaseOpen, el.ID)

			if selfClosing || void {
				p.marker(PhaseContent, el.ID)
				p.marker(PhaseClose, el.ID)
				return nil
			}
			p.push(openEntry{kind: kindDiscovered, name: name, element: el, mark: len(p.doc)})
			p.discovered = len(p.oe) - 1
			return nil
		}
	}

	p.write(raw)
	if !selfClosing && !void {
		p.push(openEntry{kind: kindLiteral, name: name})
	}
	return nil
}

func (p *viewParser) endTag(raw string) error {
	tok := p.z.Token()
	name := tok.Data

	if voidElements[tok.DataAtom] {
		return nil
	}

	i := p.lookup(name)
	if i < 0 {
		return p.errorf(errors.ErrCodeMismatchedTag, "unexpected end tag </%s>", name).WithContext("tag", name)
	}
	// Elements with omitted end tags are closed implicitly, as long as
	// no component reference or body frame is left open.
	for j := len(p.oe) - 1; j > i; j-- {
		if k := p.oe[j].kind; k == kindDiscovered || k == kindBody {
			return p.errorf(errors.ErrCodeMismatchedTag, "end tag </%s> closes unfinished <%s>", name, p.oe[j].name).
				WithContext("tag", name).WithContext("open", p.oe[j].name)
		}
	}

	entry := p.oe[i]
	p.oe = p.oe[:i]

	switch entry.kind {
	case kindLiteral:
		p.write(raw)
	case kindCaptured, kindDropped:
	case kindBody:
		p.frame = -1
		p.deferBody(entry.frame)
	case kindDiscovered:
		p.discovered = -1
		var content strings.Builder
		for _, f := range p.doc[entry.mark:] {
			content.WriteString(f.Text)
		}
		entry.element.Content = content.String()
		p.doc = p.doc[:entry.mark]
		p.marker(PhaseContent, entry.element.ID)
		p.marker(PhaseClose, entry.element.ID)
	}
	return nil
}

func (p *viewParser) text(raw string) {
	if p.frame >= 0 {
		frame := p.oe[p.frame].frame
		frame.text.WriteString(raw)
		return
	}
	p.write(raw)
}

// deferBody hands a completed body frame to its handler and reserves the
// output slot the handler's markup is spliced into.
func (p *viewParser) deferBody(frame *bodyFrame) {
	frame.body.Text = frame.text.String()
	future := p.cfg.Tags.HandleBody(p.ctx, frame.tag, frame.body)
	if future == nil {
		future = Resolved(Output{})
	}

	p.doc = append(p.doc, Fragment{})
	p.contribs = append(p.contribs, Output{})
	p.pending = append(p.pending, pending{
		future:  future,
		slot:    len(p.doc) - 1,
		contrib: len(p.contribs) - 1,
		name:    frame.tag.Name,
	})
}

func (p *viewParser) finish() (*Result, error) {
	if len(p.oe) > 0 {
		for _, e := range p.oe {
			if e.kind == kindDiscovered || e.kind == kindBody {
				return nil, p.errorf(errors.ErrCodeUnclosedElement, "unclosed element <%s>", e.name).WithContext("open", e.name)
			}
		}
	}

	for _, d := range p.pending {
		out, err := d.future.Wait(p.ctx)
		if err != nil {
			if p.ctx.Err() != nil {
				return nil, fmt.Errorf("waiting for <%s>: %w", d.name, err)
			}
			p.cfg.Logger.Warn(p.ctx, err, "Body tag handler failed, dropping tag", "tag", d.name, "url", p.baseURL)
			continue
		}
		p.doc[d.slot].Text = out.Markup
		p.contribs[d.contrib] = out
	}

	result := &Result{
		Document: compact(p.doc),
		Elements: p.elements,
	}
	for _, c := range p.contribs {
		result.Dependencies.Add(Dependencies{CSS: c.CSS, Script: c.Script, Locale: c.Locale})
		if c.Controller != "" {
			result.Controller = c.Controller
		}
	}
	return result, nil
}

func (p *viewParser) contribute(out Output) {
	if out.Markup != "" {
		p.write(out.Markup)
	}
	p.contribs = append(p.contribs, out)
}

func (p *viewParser) write(s string) {
	if s == "" {
		return
	}
	p.doc = append(p.doc, Fragment{Text: s})
}

func (p *viewParser) marker(phase Phase, id string) {
	p.doc = append(p.doc, Fragment{Marker: &Marker{Phase: phase, ElementID: id}})
}

func (p *viewParser) push(e openEntry) {
	p.oe = append(p.oe, e)
}

// lookup finds the innermost open entry named name that the current
// state allows closing.
func (p *viewParser) lookup(name string) int {
	floor := 0
	if p.frame >= 0 {
		floor = p.frame
	} else if p.discovered >= 0 {
		floor = p.discovered
	}
	for i := len(p.oe) - 1; i >= floor; i-- {
		if p.oe[i].name == name {
			return i
		}
	}
	return -1
}

func (p *viewParser) errorf(code, format string, args ...interface{}) *errors.RainError {
	return errors.NewParseError(code, fmt.Sprintf(format, args...)).WithLocation(p.baseURL, p.line, 0)
}

// compact merges adjacent literal fragments.
func compact(doc []Fragment) []Fragment {
	out := make([]Fragment, 0, len(doc))
	for _, f := range doc {
		if f.Marker == nil {
			if f.Text == "" {
				continue
			}
			if n := len(out); n > 0 && out[n-1].Marker == nil {
				out[n-1].Text += f.Text
				continue
			}
		}
		out = append(out, f)
	}
	return out
}

func prefix(name string) string {
	if i := strings.IndexByte(name, ':'); i > 0 {
		return name[:i]
	}
	return ""
}

func truncate(s string) string {
	const max = 40
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
