// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package payload

import "sync"

// Queue is the per-endpoint payload pool: a free list, a pending FIFO of
// filled payloads awaiting flush, and a retry FIFO of payloads whose send
// failed transiently. The queue is bounded by payload count, never by bytes,
// and no operation blocks. When the bound is hit the oldest queued payload is
// dropped to make room; drops are surfaced through DroppedSinceLastSend.
type Queue struct {
	mu        sync.Mutex
	free      []*Payload
	pending   []*Payload
	retry     []*Payload
	allocated int
	dropped   int

	maxCount    int
	payloadSize int
	maxRetries  int
}

// NewQueue returns a queue allowing at most maxCount buffers of size bytes
// each. A payload whose send has failed maxRetries times is dropped instead
// of requeued.
func NewQueue(maxCount, size, maxRetries int) *Queue {
	return &Queue{
		maxCount:    maxCount,
		payloadSize: size,
		maxRetries:  maxRetries,
	}
}

// PayloadSize returns the buffer size payloads are allocated with.
func (q *Queue) PayloadSize() int {
	return q.payloadSize
}

// GetFree returns an empty payload and the number of queued payloads that had
// to be dropped to provide it. Preference order: the free list, a new
// allocation under the bound, then eviction of the oldest queued payload
// (retry before pending, since retries predate the current window). Returns
// nil when every allowed buffer is checked out elsewhere.
func (q *Queue) GetFree() (*Payload, int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n := len(q.free); n > 0 {
		p := q.free[n-1]
		q.free = q.free[:n-1]
		return p, 0
	}
	if q.allocated < q.maxCount {
		q.allocated++
		return newPayload(q.payloadSize), 0
	}

	var victim *Payload
	switch {
	case len(q.retry) > 0:
		victim = q.retry[0]
		q.retry = q.retry[1:]
	case len(q.pending) > 0:
		victim = q.pending[0]
		q.pending = q.pending[1:]
	default:
		return nil, 0
	}
	victim.reset()
	q.dropped++
	return victim, 1
}

// AddPending appends a filled payload to the pending FIFO.
func (q *Queue) AddPending(p *Payload) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, p)
}

// TakeForFlush removes and returns the whole pending list.
func (q *Queue) TakeForFlush() []*Payload {
	q.mu.Lock()
	defer q.mu.Unlock()
	batch := q.pending
	q.pending = nil
	return batch
}

// Retry requeues a payload after a transient send failure. A payload that
// has exhausted its attempts is released and counted as dropped; the caller
// learns which through the return value.
func (q *Queue) Retry(p *Payload) (requeued bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	p.SendAttempts++
	if p.SendAttempts >= q.maxRetries {
		p.reset()
		q.free = append(q.free, p)
		q.dropped++
		return false
	}
	q.retry = append(q.retry, p)
	return true
}

// MergeRetry moves the retry FIFO to the front of pending so the oldest
// payloads flush first. Called at the start of each flush cycle.
func (q *Queue) MergeRetry() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.retry) == 0 {
		return
	}
	q.pending = append(q.retry, q.pending...)
	q.retry = nil
}

// Release returns a payload to the free pool after a successful send or a
// final drop.
func (q *Queue) Release(p *Payload) {
	q.mu.Lock()
	defer q.mu.Unlock()
	p.reset()
	q.free = append(q.free, p)
}

// DroppedSinceLastSend returns and resets the number of payloads dropped
// since the previous call. Reported once per flush attempt through AfterSend.
func (q *Queue) DroppedSinceLastSend() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := q.dropped
	q.dropped = 0
	return n
}

// Clear releases every queued payload, returning how many were discarded.
// Used on shutdown when the grace period expires.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.pending) + len(q.retry)
	for _, p := range q.pending {
		p.reset()
		q.free = append(q.free, p)
	}
	for _, p := range q.retry {
		p.reset()
		q.free = append(q.free, p)
	}
	q.pending = nil
	q.retry = nil
	q.dropped += n
	return n
}
