package sink

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/fatih/color"

	"github.com/armugharaj/full-stack-devops-automation/pkg/types"
)

// ConsoleSink writes events to the terminal with color.
type ConsoleSink struct{}

// NewConsoleSink creates a new console event sink.
func NewConsoleSink() *ConsoleSink {
	return &ConsoleSink{}
}

// Name returns the sink identifier.
func (s *ConsoleSink) Name() string { return "console" }

// Send writes a log line to the terminal with color-coded severity.
func (s *ConsoleSink) Send(_ context.Context, line types.LogLine) error {
	var prefix string
	switch line.Level {
	case types.LevelError:
		prefix = color.RedString("[ERROR]")
	case types.LevelWarning:
		prefix = color.YellowString("[WARN]")
	default:
		prefix = color.CyanString("[INFO]")
	}

	scope := line.Pipeline
	if line.Stage != "" {
		scope += "/" + line.Stage
	}
	if scope != "" {
		fmt.Printf("%s [%s] %s\n", prefix, scope, line.Message)
	} else {
		fmt.Printf("%s %s\n", prefix, line.Message)
	}
	return nil
}

// Observe writes a sample as a single metric line.
func (s *ConsoleSink) Observe(_ context.Context, sample types.Sample) error {
	var b strings.Builder
	b.WriteString(sample.Name)

	keys := make([]string, 0, len(sample.Labels))
	for k := range sample.Labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%s", k, sample.Labels[k])
	}

	fmt.Printf("%s %s %g\n", color.CyanString("[METRIC]"), b.String(), sample.Value)
	return nil
}
