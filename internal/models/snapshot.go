// Package models defines the core domain entities: market snapshots,
// change events, and watch-list entries.
package models

import (
	"errors"
	"fmt"
	"time"
)

// ResolutionStatus describes where a market is in its lifecycle.
// RESOLVED is terminal: a resolved market is never polled again.
type ResolutionStatus string

const (
	StatusOpen      ResolutionStatus = "OPEN"
	StatusResolving ResolutionStatus = "RESOLVING"
	StatusResolved  ResolutionStatus = "RESOLVED"
)

// probSumTolerance bounds how far outcome prices may drift from summing
// to 1.0 before the snapshot is considered malformed.
const probSumTolerance = 0.02

// MarketSnapshot is a point-in-time record of a market's observable state.
// One snapshot is produced per market per poll cycle; the identifier is
// stable across polls and uniquely determines the market.
type MarketSnapshot struct {
	ID              string             `json:"id"`
	Question        string             `json:"question"`
	Outcomes        map[string]float64 `json:"outcomes"`
	Volume          float64            `json:"volume"`
	Status          ResolutionStatus   `json:"status"`
	ResolvedOutcome string             `json:"resolved_outcome,omitempty"`
	ObservedAt      time.Time          `json:"observed_at"`
}

// Validate checks snapshot field constraints.
func (s *MarketSnapshot) Validate() error {
	if s.ID == "" {
		return errors.New("market ID must not be empty")
	}
	if len(s.Outcomes) == 0 {
		return errors.New("snapshot must have at least one outcome")
	}
	var sum float64
	for label, price := range s.Outcomes {
		if label == "" {
			return errors.New("outcome label must not be empty")
		}
		if price < 0.0 || price > 1.0 {
			return fmt.Errorf("outcome %q price must be between 0.0 and 1.0", label)
		}
		sum += price
	}
	if sum < 1.0-probSumTolerance || sum > 1.0+probSumTolerance {
		return fmt.Errorf("outcome prices must sum to approximately 1.0, got %.4f", sum)
	}
	if s.Volume < 0 {
		return errors.New("volume must not be negative")
	}
	switch s.Status {
	case StatusOpen, StatusResolving, StatusResolved:
	default:
		return fmt.Errorf("unknown resolution status %q", s.Status)
	}
	if s.Status == StatusResolved && s.ResolvedOutcome == "" {
		return errors.New("resolved market must carry a resolved outcome")
	}
	if s.ObservedAt.IsZero() {
		return errors.New("observed at must be set")
	}
	if s.ObservedAt.After(time.Now().Add(time.Minute)) {
		return errors.New("observed at must not be in the future")
	}
	return nil
}

// Resolved reports whether the market has reached its terminal state.
func (s *MarketSnapshot) Resolved() bool {
	return s.Status == StatusResolved
}

// Thresholds holds the minimum magnitudes of change required to emit an
// event. PriceMove is an absolute probability delta, VolumeJump a
// relative increase against the previous volume.
type Thresholds struct {
	PriceMove  float64
	VolumeJump float64
}

// DefaultThresholds returns the global fallback thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		PriceMove:  0.02,
		VolumeJump: 0.10,
	}
}

// WatchListEntry names a market to poll, with optional per-market
// threshold overrides. A zero override inherits the global default.
type WatchListEntry struct {
	ID              string  `json:"id"`
	Name            string  `json:"name,omitempty"`
	PriceThreshold  float64 `json:"price_threshold,omitempty"`
	VolumeThreshold float64 `json:"volume_threshold,omitempty"`
}

// Thresholds resolves the entry's effective thresholds against defaults.
func (w WatchListEntry) Thresholds(defaults Thresholds) Thresholds {
	t := defaults
	if w.PriceThreshold > 0 {
		t.PriceMove = w.PriceThreshold
	}
	if w.VolumeThreshold > 0 {
		t.VolumeJump = w.VolumeThreshold
	}
	return t
}
