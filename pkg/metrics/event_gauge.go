// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package metrics

import (
	"time"

	"github.com/stackship/metrics/pkg/tagset"
)

// event is one buffered EventGauge sample.
type event struct {
	value float64
	ts    time.Time
}

// EventGauge buffers every recorded value with its record time and emits one
// reading per buffered event, oldest first. Use it when individual samples
// matter; use AggregateGauge when a summary is enough.
type EventGauge struct {
	Base
	bag *bag[event]

	// window state, collector goroutine only
	window []event
}

// NewEventGauge returns an event gauge declaring the given tags.
func NewEventGauge(tags *tagset.TagSet) *EventGauge {
	return &EventGauge{Base: NewBase(tags), bag: newBag[event]()}
}

// Record buffers v at the current time. Safe for concurrent use. Recording
// a non-finite value is a no-op.
func (g *EventGauge) Record(v float64) error {
	if err := g.recordable(); err != nil {
		return err
	}
	if !finite(v) {
		return nil
	}
	g.bag.add(event{value: v, ts: g.now()})
	return nil
}

// RecordAt buffers v with an explicit timestamp.
func (g *EventGauge) RecordAt(v float64, ts time.Time) error {
	if err := g.recordable(); err != nil {
		return err
	}
	if !finite(v) {
		return nil
	}
	g.bag.add(event{value: v, ts: ts.UTC()})
	return nil
}

// Kind implements Metric.
func (g *EventGauge) Kind() RateKind { return KindGauge }

// Suffixes implements Metric.
func (g *EventGauge) Suffixes() []string { return []string{""} }

// PreSerialize implements Metric: detaches the window's events in FIFO order.
func (g *EventGauge) PreSerialize() {
	g.window = g.bag.drain()
}

// Serialize implements Metric. Readings carry the record time, not the
// snapshot time; one out of range timestamp drops that event only.
func (g *EventGauge) Serialize(w Writer, _ time.Time) error {
	var deferred error
	for i := range g.window {
		ev := &g.window[i]
		r := &Reading{
			Name:      g.Name(),
			Kind:      KindGauge,
			Value:     ev.value,
			Tags:      g.Tags(),
			Timestamp: ev.ts,
		}
		err, ok := addReadingSkipRange(w, r, deferred)
		if !ok {
			return err
		}
		deferred = err
	}
	return deferred
}
