package testutils

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
)

// TestingT is the subset of testing.T the asserters need.
type TestingT interface {
	Errorf(format string, args ...interface{})
}

// TextAsserter compares multi-line text and reports a unified diff.
type TextAsserter struct {
	t                TestingT
	trimSpace        bool
	ignoreTrailingWS bool
	colors           bool
}

func NewTextAsserter(t TestingT) *TextAsserter {
	return &TextAsserter{t: t}
}

// WithTrimSpace trims surrounding whitespace of the whole text and trailing whitespace of each line.
func (ta *TextAsserter) WithTrimSpace() *TextAsserter {
	ta.trimSpace = true
	ta.ignoreTrailingWS = true
	return ta
}

func (ta *TextAsserter) WithColors() *TextAsserter {
	ta.colors = true
	return ta
}

func (ta *TextAsserter) Assert(actual, expected string) {
	a, e := ta.normalize(actual), ta.normalize(expected)
	if a == e {
		return
	}

	edits := myers.ComputeEdits("", e, a)
	unified := fmt.Sprint(gotextdiff.ToUnified("expected", "actual", e, edits))
	ta.t.Errorf("Text assertion failed - unified diff:\n%s", ta.colorize(unified))
}

func (ta *TextAsserter) normalize(text string) string {
	if ta.trimSpace {
		text = strings.TrimSpace(text)
	}
	if !ta.ignoreTrailingWS {
		return text
	}
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t")
	}
	return strings.Join(lines, "\n")
}

func (ta *TextAsserter) colorize(diff string) string {
	if !ta.colors {
		return diff
	}

	red, green, cyan := color.New(color.FgRed), color.New(color.FgGreen), color.New(color.FgCyan)
	for _, c := range []*color.Color{red, green, cyan} {
		c.EnableColor()
	}

	lines := strings.Split(diff, "\n")
	for i, line := range lines {
		switch {
		case strings.HasPrefix(line, "---"), strings.HasPrefix(line, "+++"):
		case strings.HasPrefix(line, "@@"):
			lines[i] = cyan.Sprint(line)
		case strings.HasPrefix(line, "-"):
			lines[i] = red.Sprint(line)
		case strings.HasPrefix(line, "+"):
			lines[i] = green.Sprint(line)
		}
	}
	return strings.Join(lines, "\n")
}
