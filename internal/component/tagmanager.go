package component

import (
	"strings"

	"golang.org/x/net/html"

	"github.com/conneroisu/rain/internal/parser"
)

// TagManager maps the tags of one component's taglib to component views.
type TagManager struct {
	entries map[string]TagEntry
}

// NewTagManager indexes entries by tag name. Later entries override earlier ones.
func NewTagManager(entries []TagEntry) *TagManager {
	tm := &TagManager{entries: make(map[string]TagEntry, len(entries))}
	for _, e := range entries {
		tm.entries[e.Name()] = e
	}
	return tm
}

// Lookup finds the component a tag instantiates. A namespaced tag also
// matches an entry declared without namespace.
func (tm *TagManager) Lookup(name string, _ []html.Attribute) (*parser.TagDescriptor, bool) {
	name = strings.ToLower(name)
	e, ok := tm.entries[name]
	if !ok {
		if _, local, found := strings.Cut(name, ":"); found {
			e, ok = tm.entries[local]
		}
	}
	if !ok {
		return nil, false
	}
	return &parser.TagDescriptor{Module: e.Module, View: e.View}, true
}

// Len returns the number of mapped tags.
func (tm *TagManager) Len() int { return len(tm.entries) }

type chain []parser.ComponentMapper

func (c chain) Lookup(name string, attrs []html.Attribute) (*parser.TagDescriptor, bool) {
	for _, m := range c {
		if m == nil {
			continue
		}
		if d, ok := m.Lookup(name, attrs); ok {
			return d, true
		}
	}
	return nil, false
}

// Chain consults mappers in order and returns the first match.
func Chain(mappers ...parser.ComponentMapper) parser.ComponentMapper {
	return chain(mappers)
}
