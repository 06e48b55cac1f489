package models

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// ChangeKind classifies a detected change.
type ChangeKind string

const (
	KindNewMarket     ChangeKind = "NEW_MARKET"
	KindMarketRemoved ChangeKind = "MARKET_REMOVED"
	KindStatusChange  ChangeKind = "STATUS_CHANGE"
	KindPriceMove     ChangeKind = "PRICE_MOVE"
	KindVolumeJump    ChangeKind = "VOLUME_JUMP"
)

// ChangeEvent is a single discrete change between two observations of a
// market. Events are created only by the detector and are immutable
// once produced.
type ChangeEvent struct {
	ID             string     `json:"id"`
	MarketID       string     `json:"market_id"`
	MarketQuestion string     `json:"market_question,omitempty"`
	Kind           ChangeKind `json:"kind"`

	// Outcome is set for PRICE_MOVE events only.
	Outcome string `json:"outcome,omitempty"`

	// OldValue/NewValue hold the before/after price for PRICE_MOVE,
	// volume for VOLUME_JUMP, and are zero otherwise.
	OldValue float64 `json:"old_value,omitempty"`
	NewValue float64 `json:"new_value,omitempty"`

	// OldStatus/NewStatus are set for STATUS_CHANGE events.
	OldStatus       ResolutionStatus `json:"old_status,omitempty"`
	NewStatus       ResolutionStatus `json:"new_status,omitempty"`
	ResolvedOutcome string           `json:"resolved_outcome,omitempty"`

	// Magnitude is the absolute price delta for PRICE_MOVE and the
	// relative volume increase for VOLUME_JUMP.
	Magnitude float64 `json:"magnitude,omitempty"`

	DetectedAt time.Time `json:"detected_at"`
}

// NewChangeEvent constructs an event with a fresh unique ID.
func NewChangeEvent(marketID, question string, kind ChangeKind, detectedAt time.Time) ChangeEvent {
	return ChangeEvent{
		ID:             uuid.NewString(),
		MarketID:       marketID,
		MarketQuestion: question,
		Kind:           kind,
		DetectedAt:     detectedAt,
	}
}

// Validate checks event field constraints.
func (e *ChangeEvent) Validate() error {
	if e.ID == "" {
		return errors.New("event ID must not be empty")
	}
	if e.MarketID == "" {
		return errors.New("market ID must not be empty")
	}
	switch e.Kind {
	case KindNewMarket, KindMarketRemoved, KindStatusChange, KindPriceMove, KindVolumeJump:
	default:
		return fmt.Errorf("unknown change kind %q", e.Kind)
	}
	if e.Kind == KindPriceMove {
		if e.Outcome == "" {
			return errors.New("price move must name an outcome")
		}
		expected := math.Abs(e.NewValue - e.OldValue)
		if math.Abs(e.Magnitude-expected) > 0.001 {
			return errors.New("price move magnitude must equal |new - old|")
		}
	}
	if e.Magnitude < 0 {
		return errors.New("magnitude must not be negative")
	}
	if e.DetectedAt.IsZero() {
		return errors.New("detected at must be set")
	}
	return nil
}

// Summary renders the event for humans: market, kind, and before/after
// values. Sinks that need richer formatting build their own rendering.
func (e *ChangeEvent) Summary() string {
	subject := e.MarketQuestion
	if subject == "" {
		subject = e.MarketID
	}
	switch e.Kind {
	case KindNewMarket:
		return fmt.Sprintf("[NEW_MARKET] %s: now tracking", subject)
	case KindMarketRemoved:
		return fmt.Sprintf("[MARKET_REMOVED] %s: no longer listed", subject)
	case KindStatusChange:
		if e.NewStatus == StatusResolved && e.ResolvedOutcome != "" {
			return fmt.Sprintf("[STATUS_CHANGE] %s: %s → %s (outcome: %s)",
				subject, e.OldStatus, e.NewStatus, e.ResolvedOutcome)
		}
		return fmt.Sprintf("[STATUS_CHANGE] %s: %s → %s", subject, e.OldStatus, e.NewStatus)
	case KindPriceMove:
		return fmt.Sprintf("[PRICE_MOVE] %s: %q %.1f%% → %.1f%% (Δ%.1f%%)",
			subject, e.Outcome, e.OldValue*100, e.NewValue*100, e.Magnitude*100)
	case KindVolumeJump:
		return fmt.Sprintf("[VOLUME_JUMP] %s: volume %.0f → %.0f (+%.0f%%)",
			subject, e.OldValue, e.NewValue, e.Magnitude*100)
	default:
		return fmt.Sprintf("[%s] %s", e.Kind, subject)
	}
}
