// Package polymarket provides a read-only client for the Polymarket
// Gamma data API.
package polymarket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/polywatch/polywatch/internal/models"
)

// Client fetches market snapshots from the Gamma API. It is stateless
// between calls.
type Client struct {
	gammaAPIURL    string
	httpClient     *http.Client
	backoff        Policy
	maxConcurrency int64
	sleep          func(ctx context.Context, d time.Duration) error
	now            func() time.Time
}

// ClientConfig tunes retry and concurrency behavior.
type ClientConfig struct {
	Backoff        Policy
	MaxConcurrency int
}

// NewClient creates a new Gamma API client.
func NewClient(gammaAPIURL string, timeout time.Duration, cfg ClientConfig) *Client {
	if cfg.Backoff.MaxAttempts <= 0 {
		cfg.Backoff = DefaultPolicy()
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 8
	}
	return &Client{
		gammaAPIURL:    gammaAPIURL,
		httpClient:     &http.Client{Timeout: timeout},
		backoff:        cfg.Backoff,
		maxConcurrency: int64(cfg.MaxConcurrency),
		sleep:          wait,
		now:            time.Now,
	}
}

// BatchResult carries the per-market outcome of one batch fetch. A
// market appears in exactly one of the two maps.
type BatchResult struct {
	Snapshots map[string]*models.MarketSnapshot
	Errors    map[string]*APIError
}

// gammaMarket mirrors the subset of the Gamma market schema the tracker
// needs. Unknown fields in the response are ignored; the string-encoded
// JSON arrays are the API's own quirk.
type gammaMarket struct {
	ID                  string  `json:"id"`
	Question            string  `json:"question"`
	Outcomes            string  `json:"outcomes"`      // JSON string: "[\"Yes\", \"No\"]"
	OutcomePrices       string  `json:"outcomePrices"` // JSON string: "[\"0.75\", \"0.25\"]"
	Volume              float64 `json:"volumeNum"`
	Active              bool    `json:"active"`
	Closed              bool    `json:"closed"`
	UMAResolutionStatus string  `json:"umaResolutionStatus"`
}

// FetchMarkets fetches a snapshot for every identifier in the batch.
// Per-market 4xx failures are reported in BatchResult.Errors without
// poisoning the rest of the batch; the returned error is non-nil only
// when the batch as a whole produced nothing but transient failures.
func (c *Client) FetchMarkets(ctx context.Context, ids []string) (*BatchResult, error) {
	if len(ids) == 0 {
		return nil, errors.New("polymarket: identifiers must be non-empty")
	}

	result := &BatchResult{
		Snapshots: make(map[string]*models.MarketSnapshot, len(ids)),
		Errors:    make(map[string]*APIError),
	}

	sem := semaphore.NewWeighted(c.maxConcurrency)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, id := range ids {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			defer sem.Release(1)

			snap, err := c.fetchOne(ctx, id)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				var apiErr *APIError
				if !errors.As(err, &apiErr) {
					apiErr = &APIError{Kind: KindUnavailable, MarketID: id, Err: err}
				}
				result.Errors[id] = apiErr
				return
			}
			result.Snapshots[id] = snap
		}(id)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// A batch with no snapshots and at least one transient failure is a
	// whole-cycle failure; batches of only NotFound or Malformed markets
	// still count as success since retrying cannot improve them.
	if len(result.Snapshots) == 0 {
		for _, apiErr := range result.Errors {
			if apiErr.Kind == KindUnavailable || apiErr.Kind == KindRateLimited {
				return nil, &APIError{Kind: KindUnavailable, Err: apiErr}
			}
		}
	}

	return result, nil
}

func (c *Client) fetchOne(ctx context.Context, id string) (*models.MarketSnapshot, error) {
	urlStr := fmt.Sprintf("%s/markets/%s", c.gammaAPIURL, id)

	var lastErr error
	for attempt := 0; attempt < c.backoff.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, c.backoff.Delay(attempt-1)); err != nil {
				return nil, err
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			snap, err := c.decodeSnapshot(resp.Body, id)
			resp.Body.Close()
			if err != nil {
				return nil, &APIError{Kind: KindMalformed, MarketID: id, Err: err}
			}
			return snap, nil

		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			io.Copy(io.Discard, io.LimitReader(resp.Body, 1024)) //nolint:errcheck
			resp.Body.Close()
			lastErr = &APIError{Kind: kindForStatus(resp.StatusCode), MarketID: id, Status: resp.StatusCode}
			continue

		default:
			// Other 4xx: the identifier itself is bad, retrying won't help.
			resp.Body.Close()
			return nil, &APIError{Kind: KindNotFound, MarketID: id, Status: resp.StatusCode}
		}
	}

	if apiErr, ok := lastErr.(*APIError); ok {
		return nil, apiErr
	}
	return nil, &APIError{Kind: KindUnavailable, MarketID: id, Err: lastErr}
}

func kindForStatus(status int) ErrorKind {
	if status == http.StatusTooManyRequests {
		return KindRateLimited
	}
	return KindUnavailable
}

// decodeSnapshot converts a Gamma market payload into a snapshot,
// failing loudly when required fields are missing.
func (c *Client) decodeSnapshot(body io.Reader, id string) (*models.MarketSnapshot, error) {
	var gm gammaMarket
	if err := json.NewDecoder(body).Decode(&gm); err != nil {
		return nil, fmt.Errorf("failed to decode market %s: %w", id, err)
	}
	if gm.ID == "" || gm.Outcomes == "" || gm.OutcomePrices == "" {
		return nil, fmt.Errorf("market %s response is missing required fields", id)
	}

	outcomes, err := parseOutcomes(gm.Outcomes, gm.OutcomePrices)
	if err != nil {
		return nil, fmt.Errorf("market %s: %w", id, err)
	}

	snap := &models.MarketSnapshot{
		ID:         gm.ID,
		Question:   gm.Question,
		Outcomes:   outcomes,
		Volume:     gm.Volume,
		Status:     deriveStatus(gm),
		ObservedAt: c.now(),
	}
	if snap.Status == models.StatusResolved {
		snap.ResolvedOutcome = winningOutcome(outcomes)
	}
	// A snapshot that would be rejected downstream is reported here as a
	// per-market failure instead of poisoning the detect/commit path.
	if err := snap.Validate(); err != nil {
		return nil, fmt.Errorf("market %s: %w", id, err)
	}
	return snap, nil
}

// parseOutcomes unpacks the Gamma API's string-encoded label and price
// arrays into a label → price mapping.
func parseOutcomes(outcomesJSON, pricesJSON string) (map[string]float64, error) {
	var labels []string
	if err := json.Unmarshal([]byte(outcomesJSON), &labels); err != nil {
		return nil, fmt.Errorf("failed to parse outcomes: %w", err)
	}
	var prices []string
	if err := json.Unmarshal([]byte(pricesJSON), &prices); err != nil {
		return nil, fmt.Errorf("failed to parse outcome prices: %w", err)
	}
	if len(labels) == 0 || len(labels) != len(prices) {
		return nil, fmt.Errorf("outcomes and prices mismatch: %d vs %d", len(labels), len(prices))
	}

	outcomes := make(map[string]float64, len(labels))
	for i, label := range labels {
		var price float64
		if _, err := fmt.Sscanf(prices[i], "%f", &price); err != nil {
			return nil, fmt.Errorf("failed to parse price %q for outcome %q: %w", prices[i], label, err)
		}
		outcomes[label] = price
	}
	return outcomes, nil
}

func deriveStatus(gm gammaMarket) models.ResolutionStatus {
	switch {
	case gm.UMAResolutionStatus == "resolved":
		return models.StatusResolved
	case gm.Closed || !gm.Active:
		return models.StatusResolving
	default:
		return models.StatusOpen
	}
}

// winningOutcome picks the outcome with the highest price; ties break
// alphabetically for determinism.
func winningOutcome(outcomes map[string]float64) string {
	labels := make([]string, 0, len(outcomes))
	for label := range outcomes {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	var best string
	var bestPrice float64
	for _, label := range labels {
		if outcomes[label] > bestPrice {
			best = label
			bestPrice = outcomes[label]
		}
	}
	return best
}
