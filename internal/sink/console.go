package sink

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/nmslite/ifstats/internal/extractor"
	"github.com/nmslite/ifstats/internal/model"
)

var separator = strings.Repeat("-", 50)

// Console prints each host's counters followed by a separator line.
type Console struct {
	w io.Writer
}

func NewConsole(w io.Writer) *Console {
	return &Console{w: w}
}

func (c *Console) Name() string { return "console" }

func (c *Console) Write(_ context.Context, key string, _ extractor.Schema, records []model.InterfaceCounterRecord) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Host: %s\n", key)
	if len(records) == 0 {
		b.WriteString("no matching interfaces\n")
	}
	for _, r := range records {
		fmt.Fprintf(&b, "Interface: %s\n", r.Interface)
		for _, counter := range r.Counters {
			fmt.Fprintf(&b, "  %s: %s\n", counter.Label, counter.Value)
		}
	}
	b.WriteString(separator)
	b.WriteByte('\n')

	if _, err := io.WriteString(c.w, b.String()); err != nil {
		return fmt.Errorf("failed to print counters for %s: %w", key, err)
	}
	return nil
}
