// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package serializer turns metric readings into framed wire payloads. The
// PayloadWriter owns the chunking: it streams encoded readings into pooled
// buffers, splits batches across payloads without ever splitting a reading,
// and keeps each finished payload independently sendable.
package serializer

import (
	"github.com/pkg/errors"

	"github.com/stackship/metrics/pkg/metrics"
	"github.com/stackship/metrics/pkg/payload"
)

// An Encoder defines one endpoint's framing: the bytes around a batch, the
// bytes between readings, and the encoding of a single reading. Encoders are
// stateful (timestamp caches and scratch space) and owned by one writer.
type Encoder interface {
	// OpenBatch returns the bytes that start every payload.
	OpenBatch() []byte

	// AppendReading appends the encoding of r to dst and returns it.
	AppendReading(dst []byte, r *metrics.Reading) ([]byte, error)

	// Separator returns the bytes written between consecutive readings.
	Separator() []byte

	// CloseBatch returns the bytes that replace the trailing separator when a
	// payload is finished.
	CloseBatch() []byte

	// CumulativeDeltas reports whether cumulative counters should encode
	// within-window deltas instead of running totals.
	CumulativeDeltas() bool
}

// smallChunkThreshold finalizes a payload early when less room than this
// remains, instead of discovering the overflow on the next reading.
const smallChunkThreshold = 150

// A BatchWriter is the writer an endpoint hands the collector for each
// snapshot: the metrics.Writer record surface plus the batch lifecycle.
type BatchWriter interface {
	metrics.Writer

	// BeginBatch starts a snapshot's batch.
	BeginBatch()

	// EndBatch finishes the batch, flushing any in-progress payload.
	EndBatch()

	// TakeEvictions returns and resets the number of queued payloads evicted
	// to make room while writing.
	TakeEvictions() int
}

// PayloadWriter implements metrics.Writer over a payload queue and an
// encoder. Batches open lazily on the first reading, so an empty window never
// claims a buffer. Single-goroutine by contract, like everything downstream
// of PreSerialize.
type PayloadWriter struct {
	queue   *payload.Queue
	encoder Encoder

	// reserve keeps finalization writable: closing bytes may be longer than
	// the separator they replace.
	reserve int

	scratch   []byte
	current   *payload.Payload
	readings  int
	evictions int
}

// NewPayloadWriter returns a writer streaming into q with enc's framing.
func NewPayloadWriter(q *payload.Queue, enc Encoder) *PayloadWriter {
	reserve := len(enc.CloseBatch()) - len(enc.Separator())
	if reserve < 0 {
		reserve = 0
	}
	return &PayloadWriter{queue: q, encoder: enc, reserve: reserve}
}

// BeginBatch starts a new batch. The previous batch must have ended.
func (w *PayloadWriter) BeginBatch() {
	w.readings = 0
}

// AddReading implements metrics.Writer.
func (w *PayloadWriter) AddReading(r *metrics.Reading) error {
	if err := metrics.CheckTimestamp(r.Timestamp); err != nil {
		return err
	}

	item, err := w.encoder.AppendReading(w.scratch[:0], r)
	if err != nil {
		return err
	}
	w.scratch = item
	sep := w.encoder.Separator()
	need := len(item) + len(sep)

	if need+len(w.encoder.OpenBatch())+w.reserve > w.queue.PayloadSize() {
		return errors.Errorf("reading %s of %d bytes cannot fit a %d byte payload",
			r.FullName(), len(item), w.queue.PayloadSize())
	}

	if w.current == nil {
		if err := w.acquire(); err != nil {
			return err
		}
	}
	if w.current.Room() < need+w.reserve {
		w.finalize()
		if err := w.acquire(); err != nil {
			return err
		}
	}

	w.current.Append(item)
	w.current.Append(sep)
	w.readings++

	if w.current.Room() < smallChunkThreshold {
		w.finalize()
	}
	return nil
}

// WantsCumulativeDeltas implements metrics.Writer.
func (w *PayloadWriter) WantsCumulativeDeltas() bool {
	return w.encoder.CumulativeDeltas()
}

// EndBatch finishes the batch, enqueueing the in-progress payload.
func (w *PayloadWriter) EndBatch() {
	w.finalize()
}

// TakeEvictions returns and resets the number of queued payloads evicted to
// satisfy this writer's buffer needs.
func (w *PayloadWriter) TakeEvictions() int {
	n := w.evictions
	w.evictions = 0
	return n
}

func (w *PayloadWriter) acquire() error {
	p, evicted := w.queue.GetFree()
	w.evictions += evicted
	if p == nil {
		return &payload.QueueFullError{Dropped: 0}
	}
	p.Append(w.encoder.OpenBatch())
	w.current = p
	w.readings = 0
	return nil
}

// finalize replaces the trailing separator with the closing bytes and hands
// the payload to the pending queue. A payload holding nothing but the opening
// bytes goes back to the pool instead.
func (w *PayloadWriter) finalize() {
	if w.current == nil {
		return
	}
	if w.readings == 0 {
		w.queue.Release(w.current)
		w.current = nil
		return
	}
	w.current.Used -= len(w.encoder.Separator())
	w.current.Append(w.encoder.CloseBatch())
	w.current.MetricsCount = w.readings
	w.queue.AddPending(w.current)
	w.current = nil
	w.readings = 0
}
