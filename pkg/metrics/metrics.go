// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package metrics implements the live metric types an application records
// into: counters, gauges and their snapshot/aggregate variants. Each metric
// accumulates concurrently on the record path and hands a consistent window
// snapshot to the collector through the PreSerialize/Serialize pair.
package metrics

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/stackship/metrics/pkg/tagset"
)

// RateKind describes how an endpoint should interpret a metric's values.
type RateKind int

// Values for RateKind.
const (
	KindCounter RateKind = iota
	KindRate
	KindGauge
	KindCumulativeCounter
)

// String returns a readable representation of the kind.
func (k RateKind) String() string {
	switch k {
	case KindCounter:
		return "counter"
	case KindRate:
		return "rate"
	case KindGauge:
		return "gauge"
	case KindCumulativeCounter:
		return "cumulative-counter"
	default:
		return "unknown"
	}
}

// A Reading is a single serializable value: one point of one metric for one
// window. Immutable once constructed. EventGauge readings carry the record
// time; every other type carries the snapshot time.
type Reading struct {
	Name      string
	Suffix    string
	Kind      RateKind
	Value     float64
	Tags      *tagset.TagSet
	Timestamp time.Time
}

// FullName returns the metric name with the aggregate suffix applied.
func (r *Reading) FullName() string {
	if r.Suffix == "" {
		return r.Name
	}
	return r.Name + r.Suffix
}

// Writer consumes the readings a metric emits during Serialize. Implemented
// by the per-endpoint payload writers.
type Writer interface {
	// AddReading appends one reading to the current batch. A
	// TimestampOutOfRangeError drops only that reading; the metric keeps
	// serializing the rest of its window.
	AddReading(r *Reading) error

	// WantsCumulativeDeltas reports whether cumulative counters should emit
	// the within-window delta instead of the running total.
	WantsCumulativeDeltas() bool
}

// Metric is the shared surface of every live metric. PreSerialize and
// Serialize are called only by the collector goroutine; the type specific
// record operations may be called from any goroutine.
type Metric interface {
	// Kind returns the rate kind endpoints use to interpret values.
	Kind() RateKind

	// Suffixes lists the name suffixes this metric can emit, {""} for
	// single-reading types. Used to build metadata definitions.
	Suffixes() []string

	// DeclaredTags returns the constructor-time tags, before default tag
	// merging and key transformation.
	DeclaredTags() *tagset.TagSet

	// Attach binds the metric to its registry entry. Called once by the
	// collector during registration, not by user code.
	Attach(fullName string, tags *tagset.TagSet, clk clock.Clock, closed *atomic.Bool) error

	// Attached reports whether the metric accepts records.
	Attached() bool

	// Name returns the full metric name. Empty until attached.
	Name() string

	// Tags returns the resolved tag set. Nil until attached.
	Tags() *tagset.TagSet

	// PreSerialize atomically captures the accumulated window state.
	PreSerialize()

	// Serialize emits the captured window to w. May be called once per
	// endpoint after a single PreSerialize.
	Serialize(w Writer, now time.Time) error
}

// Definition describes one metric name variant for metadata emission.
type Definition struct {
	Name        string
	Suffix      string
	Unit        string
	Description string
	Kind        RateKind
}

// FullName returns the definition's name with its suffix applied.
func (d *Definition) FullName() string {
	if d.Suffix == "" {
		return d.Name
	}
	return d.Name + d.Suffix
}

// Readings must carry timestamps within this closed interval.
var (
	MinTimestamp = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	MaxTimestamp = time.Date(2250, 1, 1, 0, 0, 0, 0, time.UTC)
)

// CheckTimestamp returns a TimestampOutOfRangeError when ts falls outside the
// supported interval.
func CheckTimestamp(ts time.Time) error {
	if ts.Before(MinTimestamp) || ts.After(MaxTimestamp) {
		return &TimestampOutOfRangeError{Timestamp: ts}
	}
	return nil
}

// TimestampOutOfRangeError reports a reading whose timestamp cannot be
// represented on the wire. The reading is dropped; the rest of the batch
// proceeds.
type TimestampOutOfRangeError struct {
	Timestamp time.Time
}

func (e *TimestampOutOfRangeError) Error() string {
	return fmt.Sprintf("timestamp %s outside the supported range [%s, %s]",
		e.Timestamp.UTC().Format(time.RFC3339Nano),
		MinTimestamp.Format(time.RFC3339),
		MaxTimestamp.Format(time.RFC3339))
}

// Record path errors.
var (
	// ErrNotAttached is returned by record operations on a metric that has
	// not been registered with a collector.
	ErrNotAttached = errors.New("metric is not attached to a collector")

	// ErrClosed is returned by record operations after the owning collector
	// has shut down.
	ErrClosed = errors.New("metrics collector is closed")

	// ErrAlreadyAttached is returned when a metric instance is registered a
	// second time.
	ErrAlreadyAttached = errors.New("metric is already attached to a collector")
)

// addReadingSkipRange forwards a reading and treats an out of range timestamp
// as droppable: the first such error is remembered and returned after the
// rest of the window has been written, any other error aborts immediately.
func addReadingSkipRange(w Writer, r *Reading, deferred error) (error, bool) {
	err := w.AddReading(r)
	if err == nil {
		return deferred, true
	}
	var oor *TimestampOutOfRangeError
	if errors.As(err, &oor) {
		if deferred == nil {
			deferred = err
		}
		return deferred, true
	}
	return err, false
}
