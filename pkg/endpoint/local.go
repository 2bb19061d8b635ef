// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package endpoint

import (
	"context"
	"sort"
	"sync"

	"github.com/stackship/metrics/pkg/metrics"
	"github.com/stackship/metrics/pkg/payload"
	"github.com/stackship/metrics/pkg/serializer"
)

// LocalHandler is an in-process sink: it keeps the most recent reading per
// metric name, suffix and tag set and dedupes metadata by name. Nothing
// leaves the process, so sending is a no-op. Useful in tests and for exposing
// the current values over a debug surface.
type LocalHandler struct {
	mu       sync.Mutex
	readings map[localKey]metrics.Reading
	defs     map[string]metrics.Definition
}

// localKey identifies one stored reading: full name plus the canonical tag
// form.
type localKey struct {
	name string
	tags string
}

// NewLocalHandler returns an empty sink.
func NewLocalHandler() *LocalHandler {
	return &LocalHandler{
		readings: make(map[localKey]metrics.Reading),
		defs:     make(map[string]metrics.Definition),
	}
}

// PayloadSize implements Handler.
func (h *LocalHandler) PayloadSize(configured int) int {
	return configured
}

// CreateWriter implements Handler. The writer stores readings directly, so
// the queue stays empty and Flush never has work.
func (h *LocalHandler) CreateWriter(q *payload.Queue) serializer.BatchWriter {
	return &localWriter{sink: h}
}

// Send implements Handler.
func (h *LocalHandler) Send(ctx context.Context, p *payload.Payload) error {
	return nil
}

// SendMetadata implements Handler.
func (h *LocalHandler) SendMetadata(ctx context.Context, defs []metrics.Definition) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, def := range defs {
		h.defs[def.FullName()] = def
	}
	return nil
}

// Close implements Handler.
func (h *LocalHandler) Close() error {
	return nil
}

// Get returns the most recent reading recorded under the full metric name.
// When several tag sets share the name, the one with the smallest canonical
// tag form is returned.
func (h *LocalHandler) Get(fullName string) (metrics.Reading, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var (
		best  localKey
		r     metrics.Reading
		found bool
	)
	for k, v := range h.readings {
		if k.name != fullName {
			continue
		}
		if !found || k.tags < best.tags {
			best, r, found = k, v, true
		}
	}
	return r, found
}

// Readings returns the most recent reading of every metric, sorted by name
// and tag set.
func (h *LocalHandler) Readings() []metrics.Reading {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]metrics.Reading, 0, len(h.readings))
	for _, r := range h.readings {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if a, b := out[i].FullName(), out[j].FullName(); a != b {
			return a < b
		}
		return out[i].Tags.String() < out[j].Tags.String()
	})
	return out
}

// Metadata returns the deduped metric definitions, sorted by name.
func (h *LocalHandler) Metadata() []metrics.Definition {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]metrics.Definition, 0, len(h.defs))
	for _, def := range h.defs {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].FullName() < out[j].FullName()
	})
	return out
}

func (h *LocalHandler) store(r *metrics.Reading) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readings[localKey{name: r.FullName(), tags: r.Tags.String()}] = *r
}

// localWriter writes readings straight into the sink.
type localWriter struct {
	sink *LocalHandler
}

func (w *localWriter) BeginBatch() {}

func (w *localWriter) AddReading(r *metrics.Reading) error {
	if err := metrics.CheckTimestamp(r.Timestamp); err != nil {
		return err
	}
	w.sink.store(r)
	return nil
}

func (w *localWriter) WantsCumulativeDeltas() bool {
	return false
}

func (w *localWriter) EndBatch() {}

func (w *localWriter) TakeEvictions() int {
	return 0
}
