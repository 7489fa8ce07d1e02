// Package pipeline contains the delivery core of the service: the fan-out
// dispatcher and the Pub/Sub ingestion path feeding it.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tinywideclouds/go-push-service/pkg/dispatch"
	"github.com/tinywideclouds/go-push-service/pkg/push"
)

const (
	DefaultAdapterTimeout  = 5 * time.Second
	DefaultBulkConcurrency = 8
)

// Observer receives delivery events, typically for metrics.
type Observer interface {
	GatewaySent(res push.GatewayResult)
	TokensPruned(g push.Gateway, n int)
	Delivered(report *push.DeliveryReport, took time.Duration)
}

// Health tracks gateway availability.
type Health interface {
	Available(name string) bool
	RecordSuccess(name string)
	RecordFailure(name string, err error)
}

// Config tunes the dispatcher. Zero values take the defaults.
type Config struct {
	AdapterTimeout  time.Duration
	BulkConcurrency int
}

type Option func(*Dispatcher)

func WithObserver(o Observer) Option {
	return func(d *Dispatcher) { d.observer = o }
}

func WithHealth(h Health) Option {
	return func(d *Dispatcher) { d.health = h }
}

// Dispatcher fans a notification out to every gateway holding a token of the
// recipient and aggregates the outcomes into a DeliveryReport.
type Dispatcher struct {
	registry dispatch.Registry
	adapters map[push.Gateway]dispatch.Adapter
	cfg      Config
	observer Observer
	health   Health
	logger   *slog.Logger
}

// NewDispatcher keys adapters by gateway; a later adapter for the same
// gateway replaces an earlier one.
func NewDispatcher(registry dispatch.Registry, adapters []dispatch.Adapter, cfg Config, logger *slog.Logger, opts ...Option) *Dispatcher {
	if cfg.AdapterTimeout <= 0 {
		cfg.AdapterTimeout = DefaultAdapterTimeout
	}
	if cfg.BulkConcurrency <= 0 {
		cfg.BulkConcurrency = DefaultBulkConcurrency
	}
	d := &Dispatcher{
		registry: registry,
		adapters: make(map[push.Gateway]dispatch.Adapter, len(adapters)),
		cfg:      cfg,
		logger:   logger.With("component", "Dispatcher"),
	}
	for _, a := range adapters {
		if a == nil {
			continue
		}
		d.adapters[a.Gateway()] = a
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SendToUser delivers n to every registered device of userID. Only registry
// failures are returned as errors; gateway failures live in the report.
func (d *Dispatcher) SendToUser(ctx context.Context, userID string, n push.NotificationDescriptor) (*push.DeliveryReport, error) {
	start := time.Now()
	report := &push.DeliveryReport{
		UserID:           userID,
		Results:          []push.GatewayResult{},
		PlatformsInvoked: []push.Gateway{},
	}
	log := d.logger.With("user", userID)

	if len(d.adapters) == 0 {
		report.Status = push.StatusServiceUnavailable
		log.Warn("No gateway configured, dropping notification")
		d.finish(report, start)
		return report, nil
	}

	set, err := d.registry.List(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading tokens for %s: %w", userID, err)
	}
	if set.Empty() {
		report.Status = push.StatusNoTokensFound
		log.Info("No devices registered for user; dropping notification.")
		d.finish(report, start)
		return report, nil
	}

	type job struct {
		adapter dispatch.Adapter
		tokens  []string
	}
	var jobs []job
	for _, g := range push.Gateways {
		tokens := set.Tokens(g)
		if len(tokens) == 0 {
			continue
		}
		a, ok := d.adapters[g]
		if !ok {
			report.Skipped = append(report.Skipped, g)
			log.Debug("Gateway not configured, skipping", "gateway", g, "tokens", len(tokens))
			continue
		}
		jobs = append(jobs, job{adapter: a, tokens: tokens})
	}

	if len(jobs) == 0 {
		report.Status = push.StatusNoTokensFound
		log.Info("Every registered gateway is unconfigured", "skipped", report.Skipped)
		d.finish(report, start)
		return report, nil
	}

	results := make([]push.GatewayResult, len(jobs))
	var wg sync.WaitGroup
	for i, j := range jobs {
		wg.Add(1)
		go func(i int, a dispatch.Adapter, tokens []string) {
			defer wg.Done()
			results[i] = d.invoke(ctx, a, tokens, n)
		}(i, j.adapter, j.tokens)
	}
	wg.Wait()

	report.Results = results
	report.Aggregate()

	for _, res := range results {
		d.record(res)
		if res.Success {
			log.Info("Gateway dispatched", "gateway", res.Gateway, "message_id", res.MessageID)
		} else {
			log.Warn("Gateway dispatch failed", "gateway", res.Gateway, "err", res.Error)
		}
		d.prune(ctx, log, userID, res)
	}

	d.finish(report, start)
	return report, nil
}

// invoke runs one adapter under the per-adapter timeout. A hung or panicking
// adapter yields a failed result instead of stalling the fan-out.
func (d *Dispatcher) invoke(ctx context.Context, a dispatch.Adapter, tokens []string, n push.NotificationDescriptor) push.GatewayResult {
	g := a.Gateway()
	ctx, cancel := context.WithTimeout(ctx, d.cfg.AdapterTimeout)
	defer cancel()

	done := make(chan push.GatewayResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- push.Failed(g, fmt.Errorf("%w: %s adapter panic: %v", push.ErrGatewayRejected, g, r))
			}
		}()
		done <- a.Send(ctx, tokens, n)
	}()

	select {
	case res := <-done:
		res.Gateway = g
		return res
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return push.Failed(g, fmt.Errorf("%w: %s after %s", push.ErrTimeout, g, d.cfg.AdapterTimeout))
		}
		return push.Failed(g, fmt.Errorf("%w: %s: %w", push.ErrNetwork, g, ctx.Err()))
	}
}

func (d *Dispatcher) record(res push.GatewayResult) {
	if d.observer != nil {
		d.observer.GatewaySent(res)
	}
	if d.health == nil {
		return
	}
	if res.Success {
		d.health.RecordSuccess(string(res.Gateway))
		return
	}
	d.health.RecordFailure(string(res.Gateway), res.Cause)
}

// prune removes addresses the gateway reported as dead. Failures are logged
// and never change the report.
func (d *Dispatcher) prune(ctx context.Context, log *slog.Logger, userID string, res push.GatewayResult) {
	invalid := res.InvalidTokens()
	if len(invalid) == 0 {
		return
	}
	removed, err := d.registry.RemoveTokens(ctx, userID, res.Gateway, invalid)
	if err != nil {
		log.Warn("Failed to prune invalid tokens", "gateway", res.Gateway, "count", len(invalid), "err", err)
		return
	}
	log.Info("Cleaning up invalid tokens", "gateway", res.Gateway, "count", removed)
	if d.observer != nil && removed > 0 {
		d.observer.TokensPruned(res.Gateway, removed)
	}
}

func (d *Dispatcher) finish(report *push.DeliveryReport, start time.Time) {
	if d.observer != nil {
		d.observer.Delivered(report, time.Since(start))
	}
}

// SendBulk delivers every item independently with bounded concurrency.
// One user's failure never stops the others.
func (d *Dispatcher) SendBulk(ctx context.Context, items []push.BulkItem) *push.BulkReport {
	bulk := &push.BulkReport{
		Reports: make([]push.BulkUserReport, len(items)),
		Total:   len(items),
	}

	var g errgroup.Group
	g.SetLimit(d.cfg.BulkConcurrency)
	for i, item := range items {
		g.Go(func() error {
			out := push.BulkUserReport{UserID: item.UserID}
			report, err := d.SendToUser(ctx, item.UserID, item.Notification)
			if err != nil {
				out.Error = err.Error()
			} else {
				out.Report = report
			}
			bulk.Reports[i] = out
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range bulk.Reports {
		if r.Report != nil && r.Report.Success {
			bulk.Succeeded++
		}
	}
	bulk.Failed = bulk.Total - bulk.Succeeded
	return bulk
}

// Stats lists every gateway with whether it can currently be used.
func (d *Dispatcher) Stats() push.ServiceStats {
	stats := push.ServiceStats{
		ConfiguredGateways: len(d.adapters),
		Platforms:          make(map[push.Gateway]bool, len(push.Gateways)),
	}
	for _, g := range push.Gateways {
		_, configured := d.adapters[g]
		stats.Platforms[g] = configured && (d.health == nil || d.health.Available(string(g)))
	}
	return stats
}

// Gateways lists the configured gateways in stable order.
func (d *Dispatcher) Gateways() []push.Gateway {
	out := make([]push.Gateway, 0, len(d.adapters))
	for _, g := range push.Gateways {
		if _, ok := d.adapters[g]; ok {
			out = append(out, g)
		}
	}
	return out
}
