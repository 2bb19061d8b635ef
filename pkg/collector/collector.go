// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package collector ties the pieces together: a registry of live metrics, a
// scheduler goroutine that snapshots and serializes them on a fixed interval,
// and one send pipeline per configured endpoint.
package collector

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/stackship/metrics/pkg/endpoint"
	"github.com/stackship/metrics/pkg/metrics"
	"github.com/stackship/metrics/pkg/payload"
	"github.com/stackship/metrics/pkg/tagset"
	"github.com/stackship/metrics/pkg/util/backoff"
	"github.com/stackship/metrics/pkg/util/log"
)

// droppedPayloadsMetric counts payloads lost to send failures or pool
// exhaustion, tagged by endpoint. Registered like any user metric, so the
// name prefix applies.
const droppedPayloadsMetric = "stackship.dropped_payloads"

// Collector owns the metric registry and the background pipeline that
// snapshots, serializes and ships readings to the configured endpoints.
type Collector struct {
	opts       Options
	namePrefix string
	resolver   *tagset.Resolver
	clk        clock.Clock

	endpoints    []*endpoint.Endpoint
	dropCounters []*metrics.Counter

	mu       sync.RWMutex
	buckets  map[uint64][]*entry
	ordered  []*entry
	defs     map[string]*definitionRecord
	defOrder []string

	// draining rejects registrations once Shutdown begins; closed rejects
	// record operations once the final flush is done.
	draining atomic.Bool
	closed   atomic.Bool

	snapshotTicker *clock.Ticker
	metadataTicker *clock.Ticker
	stopCh         chan struct{}
	doneCh         chan struct{}

	shutdownOnce sync.Once
	shutdownErr  error
}

// New builds a collector and starts its scheduler goroutine. The caller must
// eventually call Shutdown to flush queued readings and release transports.
func New(opts Options) (*Collector, error) {
	opts.applyDefaults()
	if len(opts.Endpoints) == 0 {
		return nil, errors.New("at least one endpoint is required")
	}

	resolver, err := tagset.NewResolver(opts.DefaultTags, opts.PropertyToTagName, opts.TagValueConverter)
	if err != nil {
		return nil, errors.Wrap(err, "invalid default tags")
	}

	c := &Collector{
		opts:       opts,
		namePrefix: opts.MetricsNamePrefix,
		resolver:   resolver,
		clk:        opts.Clock,
		buckets:    make(map[uint64][]*entry),
		defs:       make(map[string]*definitionRecord),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}

	seen := make(map[string]bool, len(opts.Endpoints))
	for _, cfg := range opts.Endpoints {
		if cfg.Handler == nil {
			return nil, errors.Errorf("endpoint %q has no handler", cfg.Name)
		}
		if !tagset.ValidToken(cfg.Name) {
			return nil, errors.Errorf("endpoint name %q is not usable as a tag value", cfg.Name)
		}
		if seen[cfg.Name] {
			return nil, errors.Errorf("duplicate endpoint name %q", cfg.Name)
		}
		seen[cfg.Name] = true

		q := payload.NewQueue(opts.MaxPayloadCount, cfg.Handler.PayloadSize(opts.MaxPayloadSize), opts.MaxRetries)
		policy := backoff.NewExpBackoffPolicy(2,
			opts.DelayBetweenRetries.Seconds(), opts.SnapshotInterval.Seconds(), 2, false)
		c.endpoints = append(c.endpoints, endpoint.New(cfg.Name, cfg.Handler, q, policy))
	}

	drops := NewGroup(c, droppedPayloadsMetric, "payloads",
		"Payloads dropped after exhausting retries or overflowing the buffer pool",
		func(tags *tagset.TagSet) (*metrics.Counter, error) {
			return metrics.NewCounter(tags), nil
		})
	for _, ep := range c.endpoints {
		ctr, err := drops.Add(tagset.Tag{Key: "endpoint", Value: ep.Name})
		if err != nil {
			return nil, errors.Wrapf(err, "registering the drop counter for endpoint %s", ep.Name)
		}
		c.dropCounters = append(c.dropCounters, ctr)
	}

	c.snapshotTicker = c.clk.Ticker(opts.SnapshotInterval)
	c.metadataTicker = c.clk.Ticker(opts.MetadataInterval)
	go c.run()
	return c, nil
}

// run is the scheduler. Snapshots, metadata publication and shutdown all
// execute on this one goroutine, so cycles never overlap.
func (c *Collector) run() {
	defer close(c.doneCh)
	for {
		select {
		case <-c.stopCh:
			return
		case now := <-c.snapshotTicker.C:
			c.snapshot(context.Background(), now.UTC(), true)
		case <-c.metadataTicker.C:
			c.metadata(context.Background())
		}
	}
}

// snapshot runs one serialize and flush cycle. Endpoints serialize and flush
// concurrently; within an endpoint everything is sequential.
func (c *Collector) snapshot(ctx context.Context, now time.Time, retriesEnabled bool) {
	entries := c.snapshotEntries()

	c.guard("before serialization", c.opts.BeforeSerialization)

	for _, e := range entries {
		e.metric.PreSerialize()
	}

	var serialize errgroup.Group
	for _, ep := range c.endpoints {
		ep := ep
		serialize.Go(func() error {
			w := ep.Writer()
			w.BeginBatch()
			for _, e := range entries {
				if err := e.metric.Serialize(w, now); err != nil {
					c.exception(errors.Wrapf(err, "serializing %s for endpoint %s", e.fullName, ep.Name))
				}
			}
			w.EndBatch()
			if n := w.TakeEvictions(); n > 0 && c.opts.ThrowOnQueueFull {
				c.exception(&payload.QueueFullError{Dropped: n})
			}
			return nil
		})
	}
	_ = serialize.Wait()

	c.guard("after serialization", c.opts.AfterSerialization)

	var flush errgroup.Group
	for i, ep := range c.endpoints {
		i, ep := i, ep
		flush.Go(func() error {
			c.report(i, ep.Flush(ctx, now, retriesEnabled))
			return nil
		})
	}
	_ = flush.Wait()
}

// report fans a flush result out to the drop counter, the exception handler
// and the AfterSend hook. Gated and empty cycles report nothing.
func (c *Collector) report(i int, res endpoint.FlushResult) {
	for _, err := range res.Dropped {
		c.exception(err)
	}
	if !res.Attempted {
		return
	}
	if n := res.Info.DroppedPayloads; n > 0 {
		if err := c.dropCounters[i].Add(int64(n)); err != nil {
			log.Debugf("dropped payload accounting for %s failed: %v", res.Info.Endpoint, err)
		}
	}
	if c.opts.AfterSend != nil {
		info := res.Info
		c.guard("after send", func() { c.opts.AfterSend(info) })
	}
}

// metadata publishes the definition list to every endpoint.
func (c *Collector) metadata(ctx context.Context) {
	defs := c.definitions()
	if len(defs) == 0 {
		return
	}
	var g errgroup.Group
	for _, ep := range c.endpoints {
		ep := ep
		g.Go(func() error {
			if err := ep.SendMetadata(ctx, defs); err != nil {
				c.exception(errors.Wrapf(err, "publishing metadata to endpoint %s", ep.Name))
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Shutdown stops the scheduler, runs one final snapshot and flush with
// retries disabled, and closes the endpoint transports. Payloads still queued
// when the flush ends are dropped and reported in the returned error. When
// ctx carries no deadline each send gets one snapshot interval of grace.
// Shutdown is idempotent; later calls return the first call's result.
func (c *Collector) Shutdown(ctx context.Context) error {
	c.shutdownOnce.Do(func() { c.shutdownErr = c.doShutdown(ctx) })
	return c.shutdownErr
}

func (c *Collector) doShutdown(ctx context.Context) error {
	c.draining.Store(true)
	close(c.stopCh)
	<-c.doneCh
	c.snapshotTicker.Stop()
	c.metadataTicker.Stop()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.SnapshotInterval)
		defer cancel()
	}
	c.snapshot(ctx, c.clk.Now().UTC(), false)

	var errs *multierror.Error
	for _, ep := range c.endpoints {
		if n := ep.Queue().Clear(); n > 0 {
			errs = multierror.Append(errs, &ShutdownAbortedError{Endpoint: ep.Name, Dropped: n})
		}
	}

	c.closed.Store(true)

	for _, ep := range c.endpoints {
		if err := ep.Close(); err != nil {
			errs = multierror.Append(errs, errors.Wrapf(err, "closing endpoint %s", ep.Name))
		}
	}
	return errs.ErrorOrNil()
}

// exception reports an asynchronous error to the configured handler, or logs
// it when none is set. A panicking handler is contained and logged.
func (c *Collector) exception(err error) {
	if err == nil {
		return
	}
	if c.opts.ExceptionHandler == nil {
		log.Warnf("%v", err)
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("exception handler panicked on %v: %v", err, r)
		}
	}()
	c.opts.ExceptionHandler(err)
}

// guard runs a user hook, containing panics so a bad callback cannot kill
// the scheduler.
func (c *Collector) guard(name string, fn func()) {
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("%s hook panicked: %v", name, r)
		}
	}()
	fn()
}
