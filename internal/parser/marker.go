package parser

import "regexp"

// Phase is the position of a placeholder relative to its element.
type Phase string

const (
	PhaseOpen    Phase = "open"
	PhaseContent Phase = "content"
	PhaseClose   Phase = "close"
)

// Marker stands in for computed markup of one discovered element.
type Marker struct {
	Phase     Phase
	ElementID string
}

// Key is the data binding key that fills the marker.
func (m Marker) Key() string {
	return MarkerKey(m.Phase, m.ElementID)
}

// String renders the unescaped mustache token for the marker.
func (m Marker) String() string {
	return Placeholder(m.Phase, m.ElementID)
}

// MarkerKey returns the data binding key for an element's phase.
func MarkerKey(phase Phase, elementID string) string {
	return "__marker_element_" + string(phase) + "_" + elementID
}

// Placeholder returns the token written into the document buffer.
func Placeholder(phase Phase, elementID string) string {
	return "{{{" + MarkerKey(phase, elementID) + "}}}"
}

var placeholderPattern = regexp.MustCompile(`\{\{\{__marker_element_(open|content|close)_([^}]+)\}\}\}`)

// FindMarkers lists the placeholders in s in the order they appear.
func FindMarkers(s string) []Marker {
	matches := placeholderPattern.FindAllStringSubmatch(s, -1)
	markers := make([]Marker, 0, len(matches))
	for _, m := range matches {
		markers = append(markers, Marker{Phase: Phase(m[1]), ElementID: m[2]})
	}
	return markers
}
