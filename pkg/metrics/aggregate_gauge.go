// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package metrics

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/stackship/metrics/pkg/tagset"
)

type aggregateMode int8

const (
	aggLast aggregateMode = iota
	aggCount
	aggMean
	aggMedian
	aggPercentile
	aggMin
	aggMax
	aggSum
)

// An Aggregate selects one summary an AggregateGauge computes over each
// window. Every aggregate emits under its own name suffix.
type Aggregate struct {
	mode       aggregateMode
	percentile float64
}

// Predefined aggregates.
var (
	AggregateLast   = Aggregate{mode: aggLast}
	AggregateCount  = Aggregate{mode: aggCount}
	AggregateMean   = Aggregate{mode: aggMean}
	AggregateMedian = Aggregate{mode: aggMedian}
	AggregateMin    = Aggregate{mode: aggMin}
	AggregateMax    = Aggregate{mode: aggMax}
	AggregateSum    = Aggregate{mode: aggSum}
)

// Percentile returns the nearest-rank percentile aggregate for p in (0, 1).
// Validation happens when the gauge is constructed.
func Percentile(p float64) Aggregate {
	return Aggregate{mode: aggPercentile, percentile: p}
}

// DefaultAggregates returns the summary set used when none is specified:
// min, max, mean, median, p95 and count.
func DefaultAggregates() []Aggregate {
	return []Aggregate{
		AggregateMin,
		AggregateMax,
		AggregateMean,
		AggregateMedian,
		Percentile(0.95),
		AggregateCount,
	}
}

// Suffix returns the name suffix this aggregate emits under. Percentiles
// render as the percentage with trailing zeros trimmed, so p99 is "_99" and
// p99.9 is "_99.9".
func (a Aggregate) Suffix() string {
	switch a.mode {
	case aggLast:
		return ""
	case aggCount:
		return "_count"
	case aggMean:
		return "_avg"
	case aggMedian:
		return "_median"
	case aggPercentile:
		return "_" + strconv.FormatFloat(a.percentile*100, 'f', -1, 64)
	case aggMin:
		return "_min"
	case aggMax:
		return "_max"
	case aggSum:
		return "_sum"
	default:
		return "_unknown"
	}
}

// AggregateGauge buffers recorded values and emits one reading per enabled
// aggregate at each snapshot. A window with no samples emits nothing.
type AggregateGauge struct {
	Base
	aggregates []Aggregate
	bag        *bag[float64]

	// window state, collector goroutine only
	window []float64
}

// NewAggregateGauge returns a gauge computing the given aggregates, or
// DefaultAggregates when none are given. Two aggregates mapping to the same
// suffix, or a percentile outside (0, 1), fail construction.
func NewAggregateGauge(tags *tagset.TagSet, aggregates ...Aggregate) (*AggregateGauge, error) {
	if len(aggregates) == 0 {
		aggregates = DefaultAggregates()
	}
	seen := make(map[string]struct{}, len(aggregates))
	for _, a := range aggregates {
		if a.mode == aggPercentile && (a.percentile <= 0 || a.percentile >= 1) {
			return nil, fmt.Errorf("percentile must be in (0, 1), got %v", a.percentile)
		}
		suffix := a.Suffix()
		if _, dup := seen[suffix]; dup {
			return nil, fmt.Errorf("duplicate aggregate suffix %q", suffix)
		}
		seen[suffix] = struct{}{}
	}

	return &AggregateGauge{
		Base:       NewBase(tags),
		aggregates: aggregates,
		bag:        newBag[float64](),
	}, nil
}

// Record buffers v into the current window. Safe for concurrent use.
// Recording a non-finite value is a no-op.
func (g *AggregateGauge) Record(v float64) error {
	if err := g.recordable(); err != nil {
		return err
	}
	if !finite(v) {
		return nil
	}
	g.bag.add(v)
	return nil
}

// Kind implements Metric.
func (g *AggregateGauge) Kind() RateKind { return KindGauge }

// Suffixes implements Metric.
func (g *AggregateGauge) Suffixes() []string {
	suffixes := make([]string, len(g.aggregates))
	for i, a := range g.aggregates {
		suffixes[i] = a.Suffix()
	}
	return suffixes
}

// PreSerialize implements Metric: detaches the window's samples.
func (g *AggregateGauge) PreSerialize() {
	g.window = g.bag.drain()
}

// Serialize implements Metric. Aggregates are computed over the detached
// window and emitted in declaration order, all at the snapshot time.
func (g *AggregateGauge) Serialize(w Writer, now time.Time) error {
	n := len(g.window)
	if n == 0 {
		return nil
	}

	last := g.window[n-1]
	sum := 0.0
	for _, v := range g.window {
		sum += v
	}

	sorted := make([]float64, n)
	copy(sorted, g.window)
	sort.Float64s(sorted)

	for _, a := range g.aggregates {
		var value float64
		switch a.mode {
		case aggLast:
			value = last
		case aggCount:
			value = float64(n)
		case aggMean:
			value = sum / float64(n)
		case aggMedian:
			value = nearestRank(sorted, 0.5)
		case aggPercentile:
			value = nearestRank(sorted, a.percentile)
		case aggMin:
			value = sorted[0]
		case aggMax:
			value = sorted[n-1]
		case aggSum:
			value = sum
		}
		err := w.AddReading(&Reading{
			Name:      g.Name(),
			Suffix:    a.Suffix(),
			Kind:      KindGauge,
			Value:     value,
			Tags:      g.Tags(),
			Timestamp: now,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// nearestRank returns the nearest-rank percentile of a sorted window:
// index ceil(p*n)-1 clamped to [0, n-1]. A single sample is every percentile.
func nearestRank(sorted []float64, p float64) float64 {
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
