// Package detector compares consecutive market snapshots and produces
// discrete change events.
package detector

import (
	"math"
	"sort"
	"time"

	"github.com/polywatch/polywatch/internal/models"
)

// epsilon guards the relative volume computation against division by zero.
const epsilon = 1e-9

// Detect compares the previous and current snapshots of one market and
// returns the changes that cross the given thresholds, in rule order:
//
//  1. no previous snapshot → NEW_MARKET, nothing else
//  2. no current snapshot  → MARKET_REMOVED, nothing else
//  3. resolution status differs → STATUS_CHANGE; terminal if RESOLVED
//  4. per outcome, |Δprice| ≥ threshold → PRICE_MOVE; the mirrored
//     legs of a binary market collapse into one event
//  5. relative volume increase ≥ threshold → VOLUME_JUMP
//
// Detection is a pure function of its inputs; movements below threshold
// are filtered by design.
func Detect(prev, cur *models.MarketSnapshot, th models.Thresholds) []models.ChangeEvent {
	if prev == nil && cur == nil {
		return nil
	}

	if prev == nil {
		ev := models.NewChangeEvent(cur.ID, cur.Question, models.KindNewMarket, cur.ObservedAt)
		return []models.ChangeEvent{ev}
	}

	if cur == nil {
		ev := models.NewChangeEvent(prev.ID, prev.Question, models.KindMarketRemoved, time.Now())
		return []models.ChangeEvent{ev}
	}

	var events []models.ChangeEvent

	if prev.Status != cur.Status {
		ev := models.NewChangeEvent(cur.ID, cur.Question, models.KindStatusChange, cur.ObservedAt)
		ev.OldStatus = prev.Status
		ev.NewStatus = cur.Status
		ev.ResolvedOutcome = cur.ResolvedOutcome
		events = append(events, ev)

		// RESOLVED is terminal: no further comparisons for this market.
		if cur.Status == models.StatusResolved {
			return events
		}
	}

	events = append(events, priceMoves(prev, cur, th.PriceMove)...)

	if ev, ok := volumeJump(prev, cur, th.VolumeJump); ok {
		events = append(events, ev)
	}

	return events
}

// priceMoves emits one PRICE_MOVE per outcome whose absolute delta
// meets the threshold. The union of both snapshots' labels is visited
// in sorted order, so a delisted outcome still reports its move to
// zero and the event sequence is deterministic. In a binary market the
// two legs mirror each other, so a single movement is reported once,
// on the leg whose price rose.
func priceMoves(prev, cur *models.MarketSnapshot, threshold float64) []models.ChangeEvent {
	labels := make([]string, 0, len(cur.Outcomes))
	for label := range cur.Outcomes {
		labels = append(labels, label)
	}
	for label := range prev.Outcomes {
		if _, ok := cur.Outcomes[label]; !ok {
			labels = append(labels, label)
		}
	}
	sort.Strings(labels)

	var events []models.ChangeEvent
	for _, label := range labels {
		oldPrice := prev.Outcomes[label] // absent outcome reads as 0
		newPrice := cur.Outcomes[label]
		delta := math.Abs(newPrice - oldPrice)
		if delta < threshold {
			continue
		}

		ev := models.NewChangeEvent(cur.ID, cur.Question, models.KindPriceMove, cur.ObservedAt)
		ev.Outcome = label
		ev.OldValue = oldPrice
		ev.NewValue = newPrice
		ev.Magnitude = delta
		events = append(events, ev)
	}

	if len(events) == 2 && sameBinaryLabels(prev, cur) {
		firstUp := events[0].NewValue > events[0].OldValue
		secondUp := events[1].NewValue > events[1].OldValue
		if firstUp != secondUp {
			if firstUp {
				return events[:1]
			}
			return events[1:]
		}
	}
	return events
}

// sameBinaryLabels reports whether both snapshots carry the same two
// outcome labels, i.e. the market is binary with no relisting.
func sameBinaryLabels(prev, cur *models.MarketSnapshot) bool {
	if len(prev.Outcomes) != 2 || len(cur.Outcomes) != 2 {
		return false
	}
	for label := range cur.Outcomes {
		if _, ok := prev.Outcomes[label]; !ok {
			return false
		}
	}
	return true
}

// volumeJump emits a VOLUME_JUMP when the relative volume increase
// meets the threshold. Only increases count; volume corrections
// downward are ignored.
func volumeJump(prev, cur *models.MarketSnapshot, threshold float64) (models.ChangeEvent, bool) {
	increase := (cur.Volume - prev.Volume) / math.Max(prev.Volume, epsilon)
	if increase < threshold {
		return models.ChangeEvent{}, false
	}

	ev := models.NewChangeEvent(cur.ID, cur.Question, models.KindVolumeJump, cur.ObservedAt)
	ev.OldValue = prev.Volume
	ev.NewValue = cur.Volume
	ev.Magnitude = increase
	return ev, true
}
