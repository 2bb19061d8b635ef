// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package collector

import (
	"github.com/stackship/metrics/pkg/metrics"
	"github.com/stackship/metrics/pkg/tagset"
)

// A Group manages one metric name across many tag sets, for families like
// per-route counters. Metrics are registered lazily and shared: Add with the
// same tags always returns the same instance.
type Group[M metrics.Metric] struct {
	c           *Collector
	name        string
	unit        string
	description string
	factory     func(*tagset.TagSet) (M, error)
}

// NewGroup declares a metric family on c. The factory builds one member of
// the family for a given tag set.
func NewGroup[M metrics.Metric](c *Collector, name, unit, description string, factory func(*tagset.TagSet) (M, error)) *Group[M] {
	return &Group[M]{
		c:           c,
		name:        name,
		unit:        unit,
		description: description,
		factory:     factory,
	}
}

// Add returns the family's metric for the given tags, registering it on
// first use.
func (g *Group[M]) Add(tags ...tagset.Tag) (M, error) {
	var zero M
	ts, err := tagset.New(tags...)
	if err != nil {
		return zero, err
	}
	return GetMetric(g.c, g.name, g.unit, g.description, func() (M, error) {
		return g.factory(ts)
	})
}
