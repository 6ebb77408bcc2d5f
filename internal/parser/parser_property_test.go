//go:build property
// +build property

package parser

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

var literalNames = []string{"div", "span", "section", "p", "ul", "li", "em"}

// buildMarkup turns a random op sequence into balanced markup. It returns
// the markup, the markup with every component reference removed and the
// number of references it contains.
func buildMarkup(ops []int) (markup, literal string, refs int) {
	var full, lit strings.Builder
	var stack []string

	for i, op := range ops {
		switch op {
		case 0:
			name := literalNames[i%len(literalNames)]
			tag := fmt.Sprintf(`<%s class="c%d" data-i="%d">`, name, i, i)
			full.WriteString(tag)
			lit.WriteString(tag)
			stack = append(stack, name)
		case 1:
			if len(stack) == 0 {
				continue
			}
			end := "</" + stack[len(stack)-1] + ">"
			full.WriteString(end)
			lit.WriteString(end)
			stack = stack[:len(stack)-1]
		case 2:
			text := fmt.Sprintf("text %d &amp; more ", i)
			full.WriteString(text)
			lit.WriteString(text)
		case 3:
			fmt.Fprintf(&full, `<comp:w%d data-sid="s%d"/>`, i, i)
			refs++
		case 4:
			fmt.Fprintf(&full, `<comp:box title="t%d">inner <b>%d</b><comp:nested/></comp:box>`, i, i)
			refs++
		case 5:
			full.WriteString("<br>")
			lit.WriteString("<br>")
		}
	}
	for len(stack) > 0 {
		end := "</" + stack[len(stack)-1] + ">"
		full.WriteString(end)
		lit.WriteString(end)
		stack = stack[:len(stack)-1]
	}
	return full.String(), lit.String(), refs
}

func TestParserProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.Rng.Seed(1234)

	properties := gopter.NewProperties(parameters)
	ops := gen.SliceOfN(60, gen.IntRange(0, 5))

	properties.Property("untouched markup round trips", prop.ForAll(
		func(ops []int) bool {
			markup, _, _ := buildMarkup(ops)
			result := Parse(context.Background(), markup, "/view.html", Config{})
			return result.String() == markup
		},
		ops,
	))

	properties.Property("non reference markup survives next to references", prop.ForAll(
		func(ops []int) bool {
			markup, literal, _ := buildMarkup(ops)
			result := Parse(context.Background(), markup, "/view.html", testConfig(nil))
			stripped := placeholderPattern.ReplaceAllString(result.String(), "")
			return stripped == literal
		},
		ops,
	))

	properties.Property("one placeholder triple per element in document order", prop.ForAll(
		func(ops []int) bool {
			markup, _, refs := buildMarkup(ops)
			result := Parse(context.Background(), markup, "/view.html", testConfig(nil))
			if len(result.Elements) != refs {
				return false
			}

			markers := FindMarkers(result.String())
			if len(markers) != 3*len(result.Elements) {
				return false
			}
			for i, el := range result.Elements {
				triple := markers[3*i : 3*i+3]
				if triple[0] != (Marker{PhaseOpen, el.ID}) ||
					triple[1] != (Marker{PhaseContent, el.ID}) ||
					triple[2] != (Marker{PhaseClose, el.ID}) {
					return false
				}
			}
			return true
		},
		ops,
	))

	properties.TestingRun(t)
}
