package testutils

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/mcuadros/go-defaults"
)

// TestingT is the subset of *testing.T the asserters need.
type TestingT interface {
	Errorf(format string, args ...interface{})
}

type TextAssertOptions struct {
	TrimSpace                bool `default:"true"`
	IgnoreTrailingWhitespace bool `default:"true"`
	IgnoreEmptyLines         bool `default:"false"`
	EnableColors             bool `default:"false"`
}

type TextOption func(*TextAssertOptions)

func WithTrimSpace(v bool) TextOption {
	return func(o *TextAssertOptions) { o.TrimSpace = v }
}

func WithIgnoreTrailingWhitespace(v bool) TextOption {
	return func(o *TextAssertOptions) { o.IgnoreTrailingWhitespace = v }
}

func WithIgnoreEmptyLines(v bool) TextOption {
	return func(o *TextAssertOptions) { o.IgnoreEmptyLines = v }
}

func WithEnableColors(v bool) TextOption {
	return func(o *TextAssertOptions) { o.EnableColors = v }
}

// TextAsserter compares rendered CLI output and reports a unified diff.
type TextAsserter struct {
	t       TestingT
	options TextAssertOptions
}

func NewTextAsserter(t TestingT, opts ...TextOption) *TextAsserter {
	ta := &TextAsserter{t: t}
	defaults.SetDefaults(&ta.options)
	for _, opt := range opts {
		opt(&ta.options)
	}
	return ta
}

func (ta *TextAsserter) Options() TextAssertOptions { return ta.options }

// Assert reports a failure when actual differs from expected after
// normalization.
func (ta *TextAsserter) Assert(actual, expected string) bool {
	if d := ta.Diff(actual, expected); d != "" {
		ta.t.Errorf("Text assertion failed - unified diff:\n%s", d)
		return false
	}
	return true
}

// Diff returns the unified diff of the normalized texts, "" when equal.
func (ta *TextAsserter) Diff(actual, expected string) string {
	a, e := ta.normalize(actual), ta.normalize(expected)
	if a == e {
		return ""
	}
	edits := myers.ComputeEdits("", e, a)
	return ta.colorize(fmt.Sprint(gotextdiff.ToUnified("expected", "actual", e, edits)))
}

func (ta *TextAsserter) normalize(text string) string {
	text = stripANSI(text)
	if ta.options.TrimSpace {
		text = strings.TrimSpace(text)
	}
	lines := strings.Split(text, "\n")
	out := lines[:0]
	for _, line := range lines {
		if ta.options.IgnoreTrailingWhitespace {
			line = strings.TrimRight(line, " \t")
		}
		if ta.options.IgnoreEmptyLines && strings.TrimSpace(line) == "" {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

func (ta *TextAsserter) colorize(diff string) string {
	if !ta.options.EnableColors {
		return diff
	}
	red, green, cyan := color.New(color.FgRed), color.New(color.FgGreen), color.New(color.FgCyan)
	for _, c := range []*color.Color{red, green, cyan} {
		c.EnableColor()
	}

	lines := strings.Split(diff, "\n")
	for i, line := range lines {
		switch {
		case strings.HasPrefix(line, "---"), strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "@@"):
			lines[i] = cyan.Sprint(line)
		case strings.HasPrefix(line, "-"):
			lines[i] = red.Sprint(strings.ReplaceAll(line, " ", "·"))
		case strings.HasPrefix(line, "+"):
			lines[i] = green.Sprint(strings.ReplaceAll(line, " ", "·"))
		}
	}
	return strings.Join(lines, "\n")
}

// stripANSI removes SGR escape sequences so colored output compares as plain
// text.
func stripANSI(s string) string {
	if !strings.Contains(s, "\x1b[") {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == 0x1b && i+1 < len(s) && s[i+1] == '[' {
			j := i + 2
			for j < len(s) && s[j] != 'm' {
				j++
			}
			i = j
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
