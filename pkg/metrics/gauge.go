// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package metrics

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/stackship/metrics/pkg/tagset"
)

// SamplingGauge keeps the most recently recorded value. It emits one reading
// per window once anything has been recorded; until then it emits nothing.
// Recording a non-finite value is a no-op.
type SamplingGauge struct {
	Base
	bits atomic.Uint64

	// window state, collector goroutine only
	value    float64
	recorded bool
}

// NewSamplingGauge returns a sampling gauge declaring the given tags.
func NewSamplingGauge(tags *tagset.TagSet) *SamplingGauge {
	g := &SamplingGauge{Base: NewBase(tags)}
	g.bits.Store(math.Float64bits(math.NaN()))
	return g
}

// Record stores v as the current value. Safe for concurrent use.
func (g *SamplingGauge) Record(v float64) error {
	if err := g.recordable(); err != nil {
		return err
	}
	if !finite(v) {
		return nil
	}
	g.bits.Store(math.Float64bits(v))
	return nil
}

// Kind implements Metric.
func (g *SamplingGauge) Kind() RateKind { return KindGauge }

// Suffixes implements Metric.
func (g *SamplingGauge) Suffixes() []string { return []string{""} }

// PreSerialize implements Metric.
func (g *SamplingGauge) PreSerialize() {
	v := math.Float64frombits(g.bits.Load())
	g.value = v
	g.recorded = !math.IsNaN(v)
}

// Serialize implements Metric.
func (g *SamplingGauge) Serialize(w Writer, now time.Time) error {
	if !g.recorded {
		return nil
	}
	return w.AddReading(&Reading{
		Name:      g.Name(),
		Kind:      KindGauge,
		Value:     g.value,
		Tags:      g.Tags(),
		Timestamp: now,
	})
}

// SnapshotGauge asks a user closure for the current value at every snapshot.
// The closure runs once per window on the collector goroutine; returning
// false, or panicking, emits nothing that window.
type SnapshotGauge struct {
	Base
	probe func() (float64, bool)

	// window state, collector goroutine only
	value    float64
	captured bool
}

// NewSnapshotGauge returns a snapshot gauge backed by probe.
func NewSnapshotGauge(tags *tagset.TagSet, probe func() (float64, bool)) *SnapshotGauge {
	return &SnapshotGauge{Base: NewBase(tags), probe: probe}
}

// Kind implements Metric.
func (g *SnapshotGauge) Kind() RateKind { return KindGauge }

// Suffixes implements Metric.
func (g *SnapshotGauge) Suffixes() []string { return []string{""} }

// PreSerialize implements Metric.
func (g *SnapshotGauge) PreSerialize() {
	g.value, g.captured = runProbe(g.probe)
}

// Serialize implements Metric.
func (g *SnapshotGauge) Serialize(w Writer, now time.Time) error {
	if !g.captured {
		return nil
	}
	return w.AddReading(&Reading{
		Name:      g.Name(),
		Kind:      KindGauge,
		Value:     g.value,
		Tags:      g.Tags(),
		Timestamp: now,
	})
}
