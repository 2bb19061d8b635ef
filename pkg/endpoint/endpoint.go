// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package endpoint ships serialized payloads to metric backends. A Handler
// owns one backend's wire format and transport; the Endpoint wrapper owns the
// payload queue, the writer, and the retry/backoff state driving each flush.
package endpoint

import (
	"context"
	"time"

	"github.com/stackship/metrics/pkg/metrics"
	"github.com/stackship/metrics/pkg/payload"
	"github.com/stackship/metrics/pkg/serializer"
	"github.com/stackship/metrics/pkg/util/backoff"
	"github.com/stackship/metrics/pkg/util/log"
)

// A Handler implements one backend: sizing, encoding, transport, metadata.
type Handler interface {
	// PayloadSize returns the payload buffer size for this backend given the
	// configured maximum. Datagram backends return their datagram cap.
	PayloadSize(configured int) int

	// CreateWriter returns the writer that encodes readings into q.
	CreateWriter(q *payload.Queue) serializer.BatchWriter

	// Send delivers one payload. A nil return releases the payload; a
	// TransportError decides between retry and drop.
	Send(ctx context.Context, p *payload.Payload) error

	// SendMetadata publishes metric definitions to backends that accept them.
	SendMetadata(ctx context.Context, defs []metrics.Definition) error

	// Close releases transport resources.
	Close() error
}

// AfterSendInfo describes one flush attempt against one endpoint.
type AfterSendInfo struct {
	Endpoint        string
	Duration        time.Duration
	BytesWritten    int
	MetricsWritten  int
	PayloadCount    int
	DroppedPayloads int
	Err             error
}

// FlushResult is what a flush cycle reports back to the collector. Attempted
// is false when the backoff gate deferred the cycle or nothing was queued.
type FlushResult struct {
	Attempted bool
	Info      AfterSendInfo

	// Dropped holds one error per payload discarded as unsendable.
	Dropped []error
}

// An Endpoint pairs a named handler with its queue, writer and retry state.
// Flush is only ever called from the collector's scheduler goroutine.
type Endpoint struct {
	Name string

	handler Handler
	queue   *payload.Queue
	writer  serializer.BatchWriter

	policy     backoff.Policy
	nbErrors   int
	retryAfter time.Time
}

// New wires an endpoint around its handler. The queue must have been sized
// with the handler's PayloadSize.
func New(name string, h Handler, q *payload.Queue, policy backoff.Policy) *Endpoint {
	return &Endpoint{
		Name:    name,
		handler: h,
		queue:   q,
		writer:  h.CreateWriter(q),
		policy:  policy,
	}
}

// Writer returns the endpoint's batch writer.
func (e *Endpoint) Writer() serializer.BatchWriter {
	return e.writer
}

// Queue returns the endpoint's payload queue.
func (e *Endpoint) Queue() *payload.Queue {
	return e.queue
}

// SendMetadata forwards metric definitions to the handler.
func (e *Endpoint) SendMetadata(ctx context.Context, defs []metrics.Definition) error {
	return e.handler.SendMetadata(ctx, defs)
}

// Close shuts down the handler's transport.
func (e *Endpoint) Close() error {
	return e.handler.Close()
}

// Flush drains the queue to the backend, oldest payload first. The first
// transient failure requeues the failed payload and everything behind it in
// order and ends the cycle; unsendable payloads are dropped and reported. With
// retries disabled the backoff gate is skipped and a failed payload goes back
// without being charged an attempt, leaving cleanup to the caller.
func (e *Endpoint) Flush(ctx context.Context, now time.Time, retriesEnabled bool) FlushResult {
	res := FlushResult{}
	if retriesEnabled && now.Before(e.retryAfter) {
		log.Debugf("endpoint %s: flush deferred until %s", e.Name, e.retryAfter.Format(time.RFC3339))
		return res
	}

	e.queue.MergeRetry()
	batch := e.queue.TakeForFlush()
	if len(batch) == 0 {
		return res
	}

	res.Attempted = true
	res.Info.Endpoint = e.Name
	start := time.Now()

	var sendErr error
	for i, p := range batch {
		bytes, count := p.Used, p.MetricsCount
		err := e.handler.Send(ctx, p)
		if err == nil {
			e.queue.Release(p)
			res.Info.BytesWritten += bytes
			res.Info.MetricsWritten += count
			res.Info.PayloadCount++
			continue
		}
		if IsTransient(err) {
			sendErr = err
			e.requeue(batch[i:], retriesEnabled)
			break
		}
		res.Dropped = append(res.Dropped, err)
		e.queue.Release(p)
		log.Errorf("endpoint %s: dropping payload of %d metrics: %v", e.Name, count, err)
	}

	res.Info.Err = sendErr
	res.Info.Duration = time.Since(start)
	res.Info.DroppedPayloads = e.queue.DroppedSinceLastSend() + len(res.Dropped)

	if retriesEnabled {
		if sendErr != nil {
			e.nbErrors = e.policy.IncError(e.nbErrors)
			e.retryAfter = now.Add(e.policy.GetBackoffDuration(e.nbErrors))
			log.Warnf("endpoint %s: send failed, backing off until %s: %v",
				e.Name, e.retryAfter.Format(time.RFC3339), sendErr)
		} else {
			e.nbErrors = e.policy.DecError(e.nbErrors)
			e.retryAfter = time.Time{}
		}
	}
	return res
}

// requeue returns the failed payload and the untried remainder to the queue
// in order. Only the payload that actually hit the wire is charged an
// attempt; Retry drops it once attempts are exhausted.
func (e *Endpoint) requeue(batch []*payload.Payload, retriesEnabled bool) {
	for i, p := range batch {
		if i == 0 && retriesEnabled {
			if !e.queue.Retry(p) {
				log.Warnf("endpoint %s: payload exhausted its retries, dropping", e.Name)
			}
			continue
		}
		e.queue.AddPending(p)
	}
}
