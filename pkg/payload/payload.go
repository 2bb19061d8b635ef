// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package payload implements the reusable wire buffers and the bounded
// per-endpoint queue that carries them between the serializer and the
// transport: a free pool, a pending FIFO and a retry FIFO with drop-from-head
// overflow. Writer goroutines are never blocked by queue pressure.
package payload

import "fmt"

// A Payload is one framed batch of readings for one endpoint. The buffer is
// allocated once and reused; Used tracks the written prefix. A payload is
// owned by exactly one of the free pool, the current writer, the pending
// queue, the retry queue, or an in-flight send.
type Payload struct {
	Data         []byte
	Used         int
	MetricsCount int
	SendAttempts int
}

func newPayload(size int) *Payload {
	return &Payload{Data: make([]byte, size)}
}

// Bytes returns the written prefix of the buffer.
func (p *Payload) Bytes() []byte {
	return p.Data[:p.Used]
}

// Room returns the number of unwritten bytes left.
func (p *Payload) Room() int {
	return len(p.Data) - p.Used
}

// Append copies b into the buffer. The caller must have checked Room.
func (p *Payload) Append(b []byte) {
	p.Used += copy(p.Data[p.Used:], b)
}

// reset clears the payload for reuse without touching the buffer allocation.
func (p *Payload) reset() {
	p.Used = 0
	p.MetricsCount = 0
	p.SendAttempts = 0
}

// QueueFullError reports payloads evicted because every buffer the queue is
// allowed to allocate was in use.
type QueueFullError struct {
	Dropped int
}

func (e *QueueFullError) Error() string {
	return fmt.Sprintf("payload queue full: dropped %d payload(s)", e.Dropped)
}
