// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/stackship/metrics/pkg/tagset"
)

// Base carries the attachment state shared by every metric type: the declared
// tags, and once registered the full name, resolved tag set and clock. Embed
// it to implement the identity half of the Metric interface.
type Base struct {
	declared *tagset.TagSet

	mu       sync.Mutex
	name     string
	resolved *tagset.TagSet
	clk      clock.Clock
	closed   *atomic.Bool
	attached atomic.Bool
}

// NewBase returns a Base declaring the given tags. A nil tag set declares no
// tags.
func NewBase(tags *tagset.TagSet) Base {
	if tags == nil {
		tags = tagset.Empty
	}
	return Base{declared: tags}
}

// DeclaredTags implements Metric.
func (b *Base) DeclaredTags() *tagset.TagSet {
	return b.declared
}

// Attach implements Metric. The fields become visible to record operations
// only once the attached flag is set.
func (b *Base) Attach(fullName string, tags *tagset.TagSet, clk clock.Clock, closed *atomic.Bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.attached.Load() {
		return ErrAlreadyAttached
	}
	if tags == nil {
		tags = tagset.Empty
	}
	if clk == nil {
		clk = clock.New()
	}
	b.name = fullName
	b.resolved = tags
	b.clk = clk
	b.closed = closed
	b.attached.Store(true)
	return nil
}

// Attached implements Metric.
func (b *Base) Attached() bool {
	return b.attached.Load()
}

// Name implements Metric.
func (b *Base) Name() string {
	return b.name
}

// Tags implements Metric.
func (b *Base) Tags() *tagset.TagSet {
	return b.resolved
}

// recordable gates the hot path: a record operation is legal only on an
// attached metric whose collector has not closed.
func (b *Base) recordable() error {
	if !b.attached.Load() {
		return ErrNotAttached
	}
	if b.closed != nil && b.closed.Load() {
		return ErrClosed
	}
	return nil
}

// now returns the attached clock's time in UTC.
func (b *Base) now() time.Time {
	return b.clk.Now().UTC()
}
