// Package health probes HTTP endpoints to confirm deployed services are
// reachable. A connection failure is a normal "unreachable" outcome, not a
// fatal error; probes never crash the run.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/artpar/rampup/internal/core/plan"
)

// =============================================================================
// Checker
// =============================================================================

// CheckerConfig configures the health checker.
type CheckerConfig struct {
	// MaxConcurrent is the maximum number of targets probed concurrently.
	// Targets are independent, so probing in parallel is safe.
	// Default: 5.
	MaxConcurrent int
}

// DefaultCheckerConfig returns the default configuration.
func DefaultCheckerConfig() CheckerConfig {
	return CheckerConfig{
		MaxConcurrent: 5,
	}
}

// Checker probes health-check targets.
type Checker struct {
	client *http.Client
	config CheckerConfig
	logger *slog.Logger
}

// NewChecker creates a health checker. The per-target timeout comes from
// each target; the shared client carries no timeout of its own.
func NewChecker(config CheckerConfig, logger *slog.Logger) *Checker {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 5
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Checker{
		client: &http.Client{},
		config: config,
		logger: logger.With("component", "health_checker"),
	}
}

// CheckAll probes every target and returns one outcome per target, in input
// order. Probes run concurrently up to the configured cap; results are
// collected and merged before returning.
func (c *Checker) CheckAll(ctx context.Context, targets []plan.HealthTarget) []plan.ProbeOutcome {
	outcomes := make([]plan.ProbeOutcome, len(targets))

	// Use a semaphore to limit concurrent probes
	sem := make(chan struct{}, c.config.MaxConcurrent)
	var wg sync.WaitGroup

	for i := range targets {
		wg.Add(1)
		go func(idx int, target plan.HealthTarget) {
			defer wg.Done()

			select {
			case <-ctx.Done():
				outcomes[idx] = plan.ProbeOutcome{
					Name:       target.Name,
					URL:        target.URL,
					Required:   target.Required,
					Diagnostic: "probe cancelled: " + ctx.Err().Error(),
				}
				return
			case sem <- struct{}{}:
				defer func() { <-sem }()
			}

			outcomes[idx] = c.probe(ctx, target)
		}(i, targets[i])
	}

	wg.Wait()
	return outcomes
}

// probe issues one bounded-timeout GET against a target and classifies it.
func (c *Checker) probe(ctx context.Context, target plan.HealthTarget) plan.ProbeOutcome {
	outcome := plan.ProbeOutcome{
		Name:     target.Name,
		URL:      target.URL,
		Required: target.Required,
	}

	probeCtx, cancel := context.WithTimeout(ctx, target.EffectiveTimeout())
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, target.URL, nil)
	if err != nil {
		outcome.Diagnostic = "invalid URL: " + err.Error()
		return outcome
	}

	resp, err := c.client.Do(req)
	outcome.Duration = time.Since(start)

	if err != nil {
		if probeCtx.Err() == context.DeadlineExceeded {
			outcome.Diagnostic = fmt.Sprintf("timed out after %s", target.EffectiveTimeout())
		} else {
			outcome.Diagnostic = err.Error()
		}
		c.logger.Warn("target unreachable",
			"target", target.Name,
			"url", target.URL,
			"diagnostic", outcome.Diagnostic,
		)
		return outcome
	}
	defer resp.Body.Close()

	outcome.StatusCode = resp.StatusCode
	if target.Accepts(resp.StatusCode) {
		outcome.Reachable = true
		c.logger.Info("target reachable",
			"target", target.Name,
			"status", resp.StatusCode,
			"duration", outcome.Duration,
		)
		return outcome
	}

	min, max := target.StatusRange()
	outcome.Diagnostic = fmt.Sprintf("status %d outside acceptable range %d-%d", resp.StatusCode, min, max)
	c.logger.Warn("target unreachable",
		"target", target.Name,
		"url", target.URL,
		"diagnostic", outcome.Diagnostic,
	)
	return outcome
}

// RequiredFailures returns the names of required targets that were
// unreachable. A non-empty result fails the run.
func RequiredFailures(outcomes []plan.ProbeOutcome) []string {
	var failed []string
	for _, o := range outcomes {
		if o.Required && !o.Reachable {
			failed = append(failed, o.Name)
		}
	}
	return failed
}
