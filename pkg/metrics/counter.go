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

// Counter counts events between two snapshots. Each window emits the sum of
// increments observed since the previous window; a window with no activity
// emits nothing.
type Counter struct {
	Base
	value atomic.Int64

	// window state, collector goroutine only
	delta int64
}

// NewCounter returns a counter declaring the given tags.
func NewCounter(tags *tagset.TagSet) *Counter {
	return &Counter{Base: NewBase(tags)}
}

// Increment adds 1.
func (c *Counter) Increment() error {
	return c.Add(1)
}

// Add adds delta. Safe for concurrent use.
func (c *Counter) Add(delta int64) error {
	if err := c.recordable(); err != nil {
		return err
	}
	c.value.Add(delta)
	return nil
}

// Kind implements Metric.
func (c *Counter) Kind() RateKind { return KindCounter }

// Suffixes implements Metric.
func (c *Counter) Suffixes() []string { return []string{""} }

// PreSerialize implements Metric: swaps the accumulator to zero and keeps the
// delta for this window's Serialize calls.
func (c *Counter) PreSerialize() {
	c.delta = c.value.Swap(0)
}

// Serialize implements Metric.
func (c *Counter) Serialize(w Writer, now time.Time) error {
	if c.delta == 0 {
		return nil
	}
	return w.AddReading(&Reading{
		Name:      c.Name(),
		Kind:      KindCounter,
		Value:     float64(c.delta),
		Tags:      c.Tags(),
		Timestamp: now,
	})
}

// CumulativeCounter counts events over the whole process lifetime; the
// accumulator is never reset. Endpoints either receive the running total or,
// when they ask for deltas, the within-window change. It emits one reading
// every window, including unchanged ones.
type CumulativeCounter struct {
	Base
	value atomic.Int64

	// window state, collector goroutine only
	absolute int64
	delta    int64
	previous int64
}

// NewCumulativeCounter returns a cumulative counter declaring the given tags.
func NewCumulativeCounter(tags *tagset.TagSet) *CumulativeCounter {
	return &CumulativeCounter{Base: NewBase(tags)}
}

// Increment adds 1.
func (c *CumulativeCounter) Increment() error {
	return c.Add(1)
}

// Add adds delta. Safe for concurrent use.
func (c *CumulativeCounter) Add(delta int64) error {
	if err := c.recordable(); err != nil {
		return err
	}
	c.value.Add(delta)
	return nil
}

// Kind implements Metric.
func (c *CumulativeCounter) Kind() RateKind { return KindCumulativeCounter }

// Suffixes implements Metric.
func (c *CumulativeCounter) Suffixes() []string { return []string{""} }

// PreSerialize implements Metric.
func (c *CumulativeCounter) PreSerialize() {
	c.absolute = c.value.Load()
	c.delta = c.absolute - c.previous
	c.previous = c.absolute
}

// Serialize implements Metric.
func (c *CumulativeCounter) Serialize(w Writer, now time.Time) error {
	value := float64(c.absolute)
	if w.WantsCumulativeDeltas() {
		value = float64(c.delta)
	}
	return w.AddReading(&Reading{
		Name:      c.Name(),
		Kind:      KindCumulativeCounter,
		Value:     value,
		Tags:      c.Tags(),
		Timestamp: now,
	})
}

// SnapshotCounter asks a user closure for the window's count instead of
// accumulating one. The closure runs once per snapshot on the collector
// goroutine; returning false, or panicking, emits nothing that window.
type SnapshotCounter struct {
	Base
	probe func() (float64, bool)

	// window state, collector goroutine only
	value    float64
	captured bool
}

// NewSnapshotCounter returns a snapshot counter backed by probe.
func NewSnapshotCounter(tags *tagset.TagSet, probe func() (float64, bool)) *SnapshotCounter {
	return &SnapshotCounter{Base: NewBase(tags), probe: probe}
}

// Kind implements Metric.
func (c *SnapshotCounter) Kind() RateKind { return KindCounter }

// Suffixes implements Metric.
func (c *SnapshotCounter) Suffixes() []string { return []string{""} }

// PreSerialize implements Metric.
func (c *SnapshotCounter) PreSerialize() {
	c.value, c.captured = runProbe(c.probe)
}

// Serialize implements Metric.
func (c *SnapshotCounter) Serialize(w Writer, now time.Time) error {
	if !c.captured {
		return nil
	}
	return w.AddReading(&Reading{
		Name:      c.Name(),
		Kind:      KindCounter,
		Value:     c.value,
		Tags:      c.Tags(),
		Timestamp: now,
	})
}

// runProbe invokes a user closure, converting a panic or a non-finite result
// into "no reading".
func runProbe(probe func() (float64, bool)) (value float64, ok bool) {
	if probe == nil {
		return 0, false
	}
	defer func() {
		if r := recover(); r != nil {
			value, ok = 0, false
		}
	}()
	value, ok = probe()
	if ok && !finite(value) {
		value, ok = 0, false
	}
	return value, ok
}

// finite reports whether v can be encoded on every wire format.
func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
