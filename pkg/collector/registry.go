// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package collector

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/stackship/metrics/pkg/metrics"
	"github.com/stackship/metrics/pkg/tagset"
)

// entry is one live metric in the registry. Entries are keyed by the hash of
// the full name and resolved tag set, with the name and canonical tag form
// compared on lookup to rule out collisions.
type entry struct {
	hash     uint64
	fullName string
	tags     *tagset.TagSet
	metric   metrics.Metric
}

// definitionRecord is the name-level metadata fixed by the first registration
// of a full name. Later registrations under the same name must agree with it.
type definitionRecord struct {
	unit        string
	description string
	typ         reflect.Type
	kind        metrics.RateKind
	suffixes    []string
}

// GetMetric returns the metric registered under name with the tags declared
// by the factory's instance, creating and attaching one on first use.
// Repeated calls with identical arguments return the same instance.
func GetMetric[M metrics.Metric](c *Collector, name, unit, description string, factory func() (M, error)) (M, error) {
	var zero M
	proto, err := factory()
	if err != nil {
		return zero, err
	}
	got, err := c.register(name, unit, description, proto, false)
	if err != nil {
		return zero, err
	}
	return got.(M), nil
}

// CreateMetric registers a new metric under name and fails with
// DuplicateMetricError when one with the same name and tags already exists.
func CreateMetric[M metrics.Metric](c *Collector, name, unit, description string, factory func() (M, error)) (M, error) {
	var zero M
	proto, err := factory()
	if err != nil {
		return zero, err
	}
	got, err := c.register(name, unit, description, proto, true)
	if err != nil {
		return zero, err
	}
	return got.(M), nil
}

// BindMetric attaches a caller-constructed metric under name. The instance
// must not be attached yet, and an exact duplicate fails as it does for
// CreateMetric.
func (c *Collector) BindMetric(name, unit, description string, m metrics.Metric) error {
	if m.Attached() {
		return metrics.ErrAlreadyAttached
	}
	_, err := c.register(name, unit, description, m, true)
	return err
}

// register is the shared registration path. The prototype m is attached and
// inserted unless an equivalent metric already exists; mustCreate turns an
// exact match into an error instead of a result.
func (c *Collector) register(name, unit, description string, m metrics.Metric, mustCreate bool) (metrics.Metric, error) {
	fullName := c.namePrefix + name
	if !tagset.ValidToken(fullName) {
		return nil, &InvalidNameError{Name: fullName}
	}
	resolved, err := c.resolver.Resolve(m.DeclaredTags())
	if err != nil {
		return nil, err
	}
	typ := reflect.TypeOf(m)
	key := tagset.KeyHash(fullName, resolved)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.draining.Load() {
		return nil, metrics.ErrClosed
	}

	if existing := c.lookup(key, fullName, resolved); existing != nil {
		if mustCreate {
			return nil, &DuplicateMetricError{Name: fullName}
		}
		if have := reflect.TypeOf(existing.metric); have != typ {
			return nil, &TypeMismatchError{
				Name:      fullName,
				Existing:  fmt.Sprintf("%v", have),
				Requested: fmt.Sprintf("%v", typ),
			}
		}
		rec := c.defs[fullName]
		if rec.unit != unit || rec.description != description {
			return nil, &InconsistentMetadataError{Name: fullName}
		}
		return existing.metric, nil
	}

	if rec, ok := c.defs[fullName]; ok {
		if rec.unit != unit || rec.description != description || rec.typ != typ {
			return nil, &InconsistentMetadataError{Name: fullName}
		}
	}

	if err := m.Attach(fullName, resolved, c.clk, &c.closed); err != nil {
		return nil, err
	}

	e := &entry{hash: key, fullName: fullName, tags: resolved, metric: m}
	c.buckets[key] = append(c.buckets[key], e)
	c.ordered = append(c.ordered, e)
	if _, ok := c.defs[fullName]; !ok {
		c.defs[fullName] = &definitionRecord{
			unit:        unit,
			description: description,
			typ:         typ,
			kind:        m.Kind(),
			suffixes:    m.Suffixes(),
		}
		c.defOrder = append(c.defOrder, fullName)
	}
	return m, nil
}

// lookup returns the entry matching the full name and tag set, or nil.
// Callers must hold c.mu.
func (c *Collector) lookup(key uint64, fullName string, tags *tagset.TagSet) *entry {
	for _, e := range c.buckets[key] {
		if e.fullName == fullName && e.tags.Equal(tags) {
			return e
		}
	}
	return nil
}

// definitions expands every registered name into its suffix variants, in
// first-registration order. Aggregate suffixes carry the suffix spelled out
// in the description so backends that key metadata by full name stay
// readable.
func (c *Collector) definitions() []metrics.Definition {
	c.mu.RLock()
	defer c.mu.RUnlock()

	defs := make([]metrics.Definition, 0, len(c.defOrder))
	for _, name := range c.defOrder {
		rec := c.defs[name]
		for _, suffix := range rec.suffixes {
			d := metrics.Definition{
				Name:        name,
				Suffix:      suffix,
				Unit:        rec.unit,
				Description: rec.description,
				Kind:        rec.kind,
			}
			if suffix != "" && rec.description != "" {
				d.Description = fmt.Sprintf("%s (%s)", rec.description, strings.TrimPrefix(suffix, "_"))
			}
			defs = append(defs, d)
		}
	}
	return defs
}

// snapshotEntries returns the live entries in registration order. The slice
// is safe to iterate without the lock; entries are append-only.
func (c *Collector) snapshotEntries() []*entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ordered
}
