// Package pipeline drives a batch of raw event records through parsing,
// identity stitching, persistence, and placement publishing. One bad
// record never sinks its batch: per-record failures are counted and
// reported, and processing continues.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"stitchd/internal/event"
	"stitchd/internal/identity"
	"stitchd/internal/placement"
	"stitchd/internal/platform/metrics"
	"stitchd/internal/stitch"
)

//go:generate mockgen -source=pipeline.go -destination=mocks/mocks.go -package=mocks Stitcher,EventStore,Calculator,Publisher

const defaultWorkers = 8

// Stitcher resolves an event's identifiers to a durable identity.
type Stitcher interface {
	Stitch(ctx context.Context, ev event.Event) (identity.Identity, event.Event, error)
}

// EventStore persists resolved events.
type EventStore interface {
	Save(ctx context.Context, ev event.Event) error
}

// Calculator decides placement eligibility and computes placements.
type Calculator interface {
	Eligible(ctx context.Context, uri string) (bool, error)
	Calculate(ctx context.Context, ident identity.Identity) (placement.Placement, error)
}

// Publisher pushes a computed placement to the global registry.
type Publisher interface {
	Publish(ctx context.Context, p placement.Placement) error
}

type Pipeline struct {
	stitcher  Stitcher
	events    EventStore
	calc      Calculator
	publisher Publisher
	reporter  Reporter
	retry     stitch.RetryPolicy
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	workers   int
	now       func() time.Time
}

type Option func(*Pipeline)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

func WithReporter(r Reporter) Option {
	return func(p *Pipeline) {
		p.reporter = r
	}
}

func WithRetryPolicy(rp stitch.RetryPolicy) Option {
	return func(p *Pipeline) {
		p.retry = rp
	}
}

func WithWorkers(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.workers = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

func New(stitcher Stitcher, events EventStore, calc Calculator, publisher Publisher, opts ...Option) (*Pipeline, error) {
	if stitcher == nil {
		return nil, fmt.Errorf("pipeline requires a stitcher")
	}
	if events == nil {
		return nil, fmt.Errorf("pipeline requires an event store")
	}
	if calc == nil {
		return nil, fmt.Errorf("pipeline requires a placement calculator")
	}
	if publisher == nil {
		return nil, fmt.Errorf("pipeline requires a registry publisher")
	}

	p := &Pipeline{
		stitcher:  stitcher,
		events:    events,
		calc:      calc,
		publisher: publisher,
		retry:     stitch.DefaultRetryPolicy(),
		workers:   defaultWorkers,
		now:       time.Now,
		tracer:    otel.Tracer("stitchd/pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.reporter == nil {
		p.reporter = NewLogReporter(p.logger)
	}
	if p.retry.OnRetry == nil && p.metrics != nil {
		retries := p.metrics.StitchRetries
		p.retry.OnRetry = func(int, error) {
			retries.Inc()
		}
	}

	return p, nil
}

// Process runs every record in the batch through the pipeline and
// returns how many were fully processed. It only returns an error when
// the context is done; everything else is absorbed per record.
func (p *Pipeline) Process(ctx context.Context, records [][]byte) (int, error) {
	var processed atomic.Int64

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for _, record := range records {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if p.processRecord(ctx, record) {
				processed.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(processed.Load()), err
	}
	return int(processed.Load()), nil
}

// processRecord reports whether the record was processed to completion.
// Skipped records (bots, malformed payloads) and failed records both
// return false; only the latter reach the error sink.
func (p *Pipeline) processRecord(ctx context.Context, record []byte) bool {
	ctx, span := p.tracer.Start(ctx, "pipeline.process_event")
	defer span.End()

	ev, err := event.FromRecord(record, p.now())
	switch {
	case errors.Is(err, event.ErrBot):
		p.skip(span, "bot")
		return false
	case errors.Is(err, event.ErrMalformed):
		p.skip(span, "malformed")
		p.reporter.Report(ctx, err, "stage", "parse")
		return false
	case err != nil:
		p.fail(ctx, span, "parse", err)
		return false
	}
	span.SetAttributes(attribute.String("event.id", ev.ID.String()))

	var ident identity.Identity
	err = p.retry.Do(ctx, func(ctx context.Context) error {
		resolvedIdent, resolvedEv, stitchErr := p.stitcher.Stitch(ctx, ev)
		if stitchErr != nil {
			return stitchErr
		}
		ident, ev = resolvedIdent, resolvedEv
		return nil
	})
	if err != nil {
		p.fail(ctx, span, "stitch", err, "event_id", ev.ID.String())
		return false
	}
	span.SetAttributes(attribute.Int64("identity.id", ident.ID))

	if err := p.events.Save(ctx, ev); err != nil {
		p.fail(ctx, span, "store", err, "event_id", ev.ID.String())
		return false
	}

	if p.metrics != nil {
		p.metrics.EventsProcessed.Inc()
	}

	// Placement is best effort: the event is already committed, so a
	// registry problem must not count as a failed record.
	p.publishPlacement(ctx, span, ident, ev)
	return true
}

func (p *Pipeline) publishPlacement(ctx context.Context, span trace.Span, ident identity.Identity, ev event.Event) {
	if !ident.HasMasterPersonID() {
		return
	}

	eligible, err := p.calc.Eligible(ctx, ev.URI)
	if err != nil {
		p.placementFailed(ctx, span, err, ev)
		return
	}
	if !eligible {
		return
	}

	pl, err := p.calc.Calculate(ctx, ident)
	if err != nil {
		p.placementFailed(ctx, span, err, ev)
		return
	}

	if err := p.publisher.Publish(ctx, pl); err != nil {
		p.placementFailed(ctx, span, err, ev)
		return
	}

	if p.metrics != nil {
		p.metrics.PlacementsSent.WithLabelValues("success").Inc()
	}
	p.logger.DebugContext(ctx, "placement published",
		"user_id", pl.UserID,
		"level", pl.Level.String(),
		"confidence", pl.Confidence,
	)
}

func (p *Pipeline) skip(span trace.Span, reason string) {
	span.SetAttributes(attribute.String("skip.reason", reason))
	if p.metrics != nil {
		p.metrics.EventsSkipped.WithLabelValues(reason).Inc()
	}
}

func (p *Pipeline) fail(ctx context.Context, span trace.Span, stage string, err error, keyvals ...any) {
	span.RecordError(err)
	span.SetStatus(codes.Error, stage)
	if p.metrics != nil {
		p.metrics.EventFailures.WithLabelValues(stage).Inc()
	}
	p.reporter.Report(ctx, err, append([]any{"stage", stage}, keyvals...)...)
}

func (p *Pipeline) placementFailed(ctx context.Context, span trace.Span, err error, ev event.Event) {
	span.RecordError(err)
	if p.metrics != nil {
		p.metrics.PlacementsSent.WithLabelValues("failure").Inc()
	}
	p.reporter.Report(ctx, err, "stage", "placement", "event_id", ev.ID.String())
}
