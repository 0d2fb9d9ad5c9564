package cmd

import (
	"context"
	"fmt"

	"github.com/novelcondense/novelcondense/internal/ailink"
	"github.com/novelcondense/novelcondense/internal/config"
	"github.com/novelcondense/novelcondense/internal/core/engine"
	"github.com/novelcondense/novelcondense/internal/core/store"
	"github.com/novelcondense/novelcondense/internal/metrics"
	"github.com/novelcondense/novelcondense/internal/observability"
)

// dispatchRuntime is everything a command needs to send text to providers.
type dispatchRuntime struct {
	registry   *ailink.Registry
	invoker    *ailink.Invoker
	tracker    *engine.RateTracker
	dispatcher *engine.Dispatcher
	metrics    *metrics.Registry
}

func newDispatchRuntime(cfg *config.Config, logger observability.Logger) (*dispatchRuntime, error) {
	registry, invoker, err := ailink.FromConfig(cfg, logger)
	if err != nil {
		return nil, err
	}

	tracker := engine.NewRateTracker(cfg.MaxRPM)
	tracker.ApplySafetyMargin(cfg.RateLimitMargin)

	reg := metrics.New()
	dispatcher := engine.NewDispatcher(registry, invoker, tracker, engine.NewAggregator(), engine.Options{
		Preferred:    cfg.Preferred(),
		MaxRetries:   cfg.Dispatch.MaxRetries,
		MaxWait:      cfg.Dispatch.MaxWait,
		FailureLimit: cfg.Dispatch.FailureLimit,
		Backoff: engine.BackoffPolicy{
			RateLimitedBase: cfg.Dispatch.Backoff.RateLimitedBase,
			TransientBase:   cfg.Dispatch.Backoff.TransientBase,
			MalformedBase:   cfg.Dispatch.Backoff.MalformedBase,
			Factor:          cfg.Dispatch.Backoff.Factor,
			Cap:             cfg.Dispatch.Backoff.Cap,
		},
		Ratio:          cfg.Ratio(),
		RatioTolerance: cfg.Condense.RatioTolerance,
		Logger:         logger,
		Observer:       reg.Dispatch,
	})
	if err := reg.Register(metrics.NewCredentialCollector(dispatcher, tracker, cfg.MaxRPM)); err != nil {
		return nil, fmt.Errorf("register credential metrics: %w", err)
	}

	return &dispatchRuntime{
		registry:   registry,
		invoker:    invoker,
		tracker:    tracker,
		dispatcher: dispatcher,
		metrics:    reg,
	}, nil
}

func openStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	return store.OpenMigrated(ctx, cfg.Store)
}
