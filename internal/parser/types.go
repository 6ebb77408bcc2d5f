package parser

import (
	"context"
	"strings"

	"golang.org/x/net/html"
)

// Tag is a start tag handed to a tag library handler.
type Tag struct {
	Name    string
	Prefix  string
	Attrs   []html.Attribute
	BaseURL string
}

// Attr returns the value of the named attribute.
func (t Tag) Attr(key string) (string, bool) {
	return attr(t.Attrs, key)
}

// Child is a start tag captured inside the body of a body-expected tag.
type Child struct {
	Name  string
	Attrs []html.Attribute
}

// Body is everything a body-expected tag enclosed.
type Body struct {
	Children []Child
	Text     string
}

// Output is what a tag handler contributes to a parse.
type Output struct {
	Markup     string
	CSS        []string
	Script     []string
	Locale     []string
	Controller string
}

// TagLibrary recognizes custom tags and produces their output. BodyExpected
// selects which of the two handler methods the parser calls.
type TagLibrary interface {
	Supports(name string, attrs []html.Attribute) bool
	BodyExpected(name string) bool
	Handle(ctx context.Context, t Tag) (Output, error)
	HandleBody(ctx context.Context, t Tag, b Body) *Future
}

// TagDescriptor names the component module and view a tag instantiates.
type TagDescriptor struct {
	Module string
	View   string
}

// ComponentMapper maps a tag to a child component reference.
type ComponentMapper interface {
	Lookup(name string, attrs []html.Attribute) (*TagDescriptor, bool)
}

// Element is a child component reference discovered while parsing.
type Element struct {
	ID        string
	Name      string
	Namespace string
	Attrs     []html.Attribute
	// StaticID is the author supplied data-sid value, if any.
	StaticID string
	Tag      *TagDescriptor
	// Content is the markup the element enclosed in the source template.
	Content string
}

// Attr returns the value of the named source attribute.
func (e *Element) Attr(key string) (string, bool) {
	return attr(e.Attrs, key)
}

// Dependencies are the client resources a view declares, in declaration order.
type Dependencies struct {
	CSS    []string `json:"css" msgpack:"css" yaml:"css"`
	Script []string `json:"script" msgpack:"script" yaml:"script"`
	Locale []string `json:"locale" msgpack:"locale" yaml:"locale"`
}

// Add appends other after d.
func (d *Dependencies) Add(other Dependencies) {
	d.CSS = append(d.CSS, other.CSS...)
	d.Script = append(d.Script, other.Script...)
	d.Locale = append(d.Locale, other.Locale...)
}

// Len counts every entry.
func (d Dependencies) Len() int {
	return len(d.CSS) + len(d.Script) + len(d.Locale)
}

// Fragment is either literal markup or a placeholder marker.
type Fragment struct {
	Text   string
	Marker *Marker
}

// Result is the outcome of one parse pass. It is not modified after Parse returns.
type Result struct {
	Document     []Fragment
	Elements     []*Element
	Dependencies Dependencies
	Controller   string
}

// Empty returns the result a failed parse resolves to.
func Empty() *Result {
	return &Result{}
}

// String serializes the document with placeholders in their mustache form.
func (r *Result) String() string {
	var b strings.Builder
	for _, f := range r.Document {
		if f.Marker != nil {
			b.WriteString(f.Marker.String())
			continue
		}
		b.WriteString(f.Text)
	}
	return b.String()
}

// IsEmpty reports whether r carries nothing at all.
func (r *Result) IsEmpty() bool {
	return len(r.Document) == 0 && len(r.Elements) == 0 && r.Dependencies.Len() == 0 && r.Controller == ""
}

func attr(attrs []html.Attribute, key string) (string, bool) {
	for _, a := range attrs {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}
