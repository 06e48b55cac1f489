package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/polywatch/polywatch/internal/models"
)

// FileSink appends notifications as JSON lines to a file.
type FileSink struct {
	path string

	mu   sync.Mutex
	file *os.File
}

// NewFileSink creates a file sink appending to path, creating parent
// directories as needed.
func NewFileSink(path string) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("file sink: create directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("file sink: open %s: %w", path, err)
	}
	return &FileSink{path: path, file: f}, nil
}

func (s *FileSink) Name() string {
	return "file"
}

func (s *FileSink) Deliver(_ context.Context, ev models.ChangeEvent) error {
	return s.writeLine(webhookEvent{
		Type:  "change_event",
		Text:  ev.Summary(),
		Event: ev,
	})
}

func (s *FileSink) Post(_ context.Context, text string) error {
	return s.writeLine(map[string]string{
		"type": "notice",
		"text": text,
		"at":   time.Now().Format(time.RFC3339),
	})
}

func (s *FileSink) writeLine(payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("file sink: marshal: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("file sink: write: %w", err)
	}
	return nil
}

// Close closes the underlying file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
