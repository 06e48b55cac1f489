package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/polywatch/polywatch/internal/models"
)

// ConsoleSink writes notifications to standard output.
type ConsoleSink struct {
	out io.Writer
}

// NewConsoleSink creates a console sink writing to stdout.
func NewConsoleSink() *ConsoleSink {
	return &ConsoleSink{out: os.Stdout}
}

func (s *ConsoleSink) Name() string {
	return "console"
}

func (s *ConsoleSink) Deliver(_ context.Context, ev models.ChangeEvent) error {
	_, err := fmt.Fprintf(s.out, "%s %s\n",
		ev.DetectedAt.Format(time.RFC3339), ev.Summary())
	return err
}

func (s *ConsoleSink) Post(_ context.Context, text string) error {
	_, err := fmt.Fprintf(s.out, "%s %s\n", time.Now().Format(time.RFC3339), text)
	return err
}
