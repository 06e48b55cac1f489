package notify

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/polywatch/polywatch/internal/models"
)

func testEvent(kind models.ChangeKind) models.ChangeEvent {
	ev := models.NewChangeEvent("m-1", "Will X happen?", kind, time.Now())
	if kind == models.KindPriceMove {
		ev.Outcome = "Yes"
		ev.OldValue = 0.40
		ev.NewValue = 0.45
		ev.Magnitude = 0.05
	}
	return ev
}

// failingSink always fails, standing in for an unreachable destination.
type failingSink struct{}

func (failingSink) Name() string                                    { return "failing" }
func (failingSink) Deliver(context.Context, models.ChangeEvent) error { return errors.New("unreachable") }
func (failingSink) Post(context.Context, string) error              { return errors.New("unreachable") }

func TestConsoleSink_Deliver(t *testing.T) {
	var buf bytes.Buffer
	sink := &ConsoleSink{out: &buf}

	if err := sink.Deliver(context.Background(), testEvent(models.KindPriceMove)); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"PRICE_MOVE", "Will X happen?", "40.0%", "45.0%"} {
		if !strings.Contains(out, want) {
			t.Errorf("console output %q missing %q", out, want)
		}
	}
}

func TestFileSink_AppendsJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events", "out.jsonl")
	sink, err := NewFileSink(path)
	if err != nil {
		t.Fatalf("NewFileSink: %v", err)
	}
	defer sink.Close()

	if err := sink.Deliver(context.Background(), testEvent(models.KindNewMarket)); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if err := sink.Post(context.Background(), "tracker started"); err != nil {
		t.Fatalf("Post: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer f.Close()

	var lines []map[string]any
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var record map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			t.Fatalf("line is not valid JSON: %v", err)
		}
		lines = append(lines, record)
	}
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	if lines[0]["type"] != "change_event" {
		t.Errorf("first line type = %v, want change_event", lines[0]["type"])
	}
	if lines[1]["type"] != "notice" || lines[1]["text"] != "tracker started" {
		t.Errorf("second line = %v, want the notice", lines[1])
	}
}

func TestWebhookSink_Deliver(t *testing.T) {
	var received webhookEvent
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content type = %q, want application/json", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL)
	ev := testEvent(models.KindPriceMove)
	if err := sink.Deliver(context.Background(), ev); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	if received.Type != "change_event" {
		t.Errorf("payload type = %q, want change_event", received.Type)
	}
	if received.Event.MarketID != "m-1" || received.Event.Kind != models.KindPriceMove {
		t.Errorf("payload event = %+v, want the delivered event", received.Event)
	}
	if received.Text == "" {
		t.Error("payload text rendering is empty")
	}
}

func TestWebhookSink_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL)
	if err := sink.Deliver(context.Background(), testEvent(models.KindNewMarket)); err == nil {
		t.Error("expected error for 500 response")
	}
}

func TestDispatcher_IndependentFanOut(t *testing.T) {
	// Unreachable webhook-like sink plus a working console sink: the
	// console delivery must still succeed and the report must mark only
	// the failing sink.
	var buf bytes.Buffer
	console := &ConsoleSink{out: &buf}
	d := NewDispatcher(failingSink{}, console)

	events := []models.ChangeEvent{
		testEvent(models.KindNewMarket),
		testEvent(models.KindPriceMove),
	}
	report := d.Dispatch(context.Background(), events)

	if report.Delivered != 2 {
		t.Errorf("delivered = %d, want 2 (console)", report.Delivered)
	}
	if report.Failed != 2 {
		t.Errorf("failed = %d, want 2 (failing sink)", report.Failed)
	}
	if len(report.Outcomes) != 4 {
		t.Errorf("outcomes = %d, want 4 (2 events × 2 sinks)", len(report.Outcomes))
	}
	for _, o := range report.Failures() {
		if o.Sink != "failing" {
			t.Errorf("failure attributed to %s, want failing", o.Sink)
		}
	}
	if buf.Len() == 0 {
		t.Error("console sink received nothing")
	}
}

func TestDispatcher_EmptyEvents(t *testing.T) {
	d := NewDispatcher(failingSink{})
	report := d.Dispatch(context.Background(), nil)
	if report.Delivered != 0 || report.Failed != 0 || len(report.Outcomes) != 0 {
		t.Errorf("empty dispatch produced %+v, want zero report", report)
	}
}
