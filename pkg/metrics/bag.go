// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package metrics

import (
	"runtime"
	"sync/atomic"
)

// segmentSize is the number of slots per bag segment. Sized so a typical
// window fits one segment while keeping the allocation small.
const segmentSize = 256

// segment is one fixed-size block of a bag. Writers reserve a slot by CAS on
// cursor, write it, then publish through commit. A cursor at segmentSize
// means the segment is full or sealed; no reservation can succeed past it.
type segment[T any] struct {
	slots  [segmentSize]T
	cursor atomic.Int64
	commit atomic.Int64
	next   *segment[T] // older segment
}

// bag is a lock-free append-only list used as a window accumulator. Appends
// are wait-free in the common case; drain atomically swaps the whole chain
// for a fresh one so a window snapshot never blocks writers.
//
// Drained segments are left to the garbage collector rather than pooled: a
// straggler holding a stale segment reference must never find its slot
// recycled into a later window.
type bag[T any] struct {
	head atomic.Pointer[segment[T]]
}

func newBag[T any]() *bag[T] {
	b := &bag[T]{}
	b.head.Store(&segment[T]{})
	return b
}

// add appends v to the current window.
func (b *bag[T]) add(v T) {
	for {
		seg := b.head.Load()
		c := seg.cursor.Load()
		if c < segmentSize {
			if seg.cursor.CompareAndSwap(c, c+1) {
				seg.slots[c] = v
				seg.commit.Add(1)
				return
			}
			continue
		}
		// Segment full (or sealed by a drain). Grow and retry; losing the
		// race just means someone else installed a fresh head.
		b.head.CompareAndSwap(seg, &segment[T]{next: seg})
	}
}

// drain detaches the current window and returns its values oldest first.
// Single-threaded by contract: only the collector's PreSerialize calls it.
func (b *bag[T]) drain() []T {
	old := b.head.Swap(&segment[T]{})

	// Seal each detached segment. Swapping the cursor to segmentSize returns
	// the reservation count and forces any straggler onto the grow path,
	// where its head CAS fails and it retries against the fresh chain.
	var segs []*segment[T]
	var counts []int
	total := 0
	for s := old; s != nil; s = s.next {
		reserved := s.cursor.Swap(segmentSize)
		segs = append(segs, s)
		counts = append(counts, int(reserved))
		total += int(reserved)
	}

	// Wait for in-flight slot writes. Reservations precede commits, so once
	// commit catches up every reserved slot is published.
	for i, s := range segs {
		for s.commit.Load() != int64(counts[i]) {
			runtime.Gosched()
		}
	}

	// The chain links newest to oldest; emit oldest first.
	out := make([]T, 0, total)
	for i := len(segs) - 1; i >= 0; i-- {
		out = append(out, segs[i].slots[:counts[i]]...)
	}
	return out
}
