package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
)

// choiceFlag is a string flag restricted to a fixed set of values.
type choiceFlag struct {
	value   string
	choices []string
}

var _ pflag.Value = (*choiceFlag)(nil)

func newChoiceFlag(def string, choices ...string) *choiceFlag {
	return &choiceFlag{value: def, choices: choices}
}

func (f *choiceFlag) String() string { return f.value }

func (f *choiceFlag) Set(v string) error {
	v = strings.ToLower(strings.TrimSpace(v))
	for _, c := range f.choices {
		if v == c {
			f.value = v
			return nil
		}
	}
	return fmt.Errorf("must be one of %s%s", strings.Join(f.choices, ", "), suggest(v, f.choices))
}

func (f *choiceFlag) Type() string { return "string" }

// suggest points at the choice sharing the longest prefix with v.
func suggest(v string, choices []string) string {
	best, bestLen := "", 0
	for _, c := range choices {
		n := 0
		for n < len(v) && n < len(c) && v[n] == c[n] {
			n++
		}
		if n > bestLen {
			best, bestLen = c, n
		}
	}
	if best == "" {
		return ""
	}
	return fmt.Sprintf(" (did you mean %q?)", best)
}

// keyValueFlag collects repeated key=value flags.
type keyValueFlag map[string]string

var _ pflag.Value = keyValueFlag(nil)

func (f keyValueFlag) String() string {
	parts := make([]string, 0, len(f))
	for k, v := range f {
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, ",")
}

func (f keyValueFlag) Set(v string) error {
	key, value, ok := strings.Cut(v, "=")
	if !ok || key == "" {
		return fmt.Errorf("expected key=value, got %q", v)
	}
	f[key] = value
	return nil
}

func (f keyValueFlag) Type() string { return "key=value" }
