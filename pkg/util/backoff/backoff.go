// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package backoff implements the exponential backoff policy used to space out
// send attempts against an unhealthy endpoint.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Policy is the set of operations flush scheduling needs from a backoff
// implementation. The error count is owned by the caller; the policy is
// stateless apart from its tuning.
type Policy interface {
	// IncError increments the error count with respect to the policy's ceiling.
	IncError(numErrors int) int

	// DecError decrements the error count after a success, by the recovery
	// interval (or back to zero when recovery reset is enabled).
	DecError(numErrors int) int

	// GetBackoffDuration returns how long to wait before the next attempt
	// given the current error count.
	GetBackoffDuration(numErrors int) time.Duration
}

// ExpBackoffPolicy grows the wait exponentially with the error count, jittered
// between duration/minBackoffFactor and duration, and capped at maxBackoffTime.
type ExpBackoffPolicy struct {
	minBackoffFactor float64
	baseBackoffTime  float64
	maxBackoffTime   float64
	recoveryInterval int
	recoveryReset    bool

	// maxErrors is the error count past which the backoff is saturated at
	// maxBackoffTime; counting higher than this would only delay recovery.
	maxErrors int
}

// NewExpBackoffPolicy returns a policy with the given tuning. minBackoffFactor
// bounds the jitter (a factor of 1 disables it), baseBackoffTime and
// maxBackoffTime are in seconds.
func NewExpBackoffPolicy(minBackoffFactor, baseBackoffTime, maxBackoffTime float64, recoveryInterval int, recoveryReset bool) *ExpBackoffPolicy {
	if minBackoffFactor < 1 {
		minBackoffFactor = 1
	}
	if baseBackoffTime <= 0 {
		baseBackoffTime = 2
	}
	if maxBackoffTime < baseBackoffTime {
		maxBackoffTime = baseBackoffTime
	}
	if recoveryInterval < 1 {
		recoveryInterval = 1
	}

	maxErrors := 1
	for backoff := baseBackoffTime; backoff < maxBackoffTime; backoff *= 2 {
		maxErrors++
	}

	return &ExpBackoffPolicy{
		minBackoffFactor: minBackoffFactor,
		baseBackoffTime:  baseBackoffTime,
		maxBackoffTime:   maxBackoffTime,
		recoveryInterval: recoveryInterval,
		recoveryReset:    recoveryReset,
		maxErrors:        maxErrors,
	}
}

// IncError implements Policy.
func (e *ExpBackoffPolicy) IncError(numErrors int) int {
	numErrors++
	if numErrors > e.maxErrors {
		return e.maxErrors
	}
	return numErrors
}

// DecError implements Policy.
func (e *ExpBackoffPolicy) DecError(numErrors int) int {
	if e.recoveryReset {
		return 0
	}
	numErrors -= e.recoveryInterval
	if numErrors < 0 {
		return 0
	}
	return numErrors
}

// GetBackoffDuration implements Policy. A zero error count yields no wait.
func (e *ExpBackoffPolicy) GetBackoffDuration(numErrors int) time.Duration {
	if numErrors <= 0 {
		return 0
	}

	backoffTime := e.baseBackoffTime * math.Pow(2, float64(numErrors-1))
	if backoffTime > e.maxBackoffTime {
		backoffTime = e.maxBackoffTime
	} else if e.minBackoffFactor > 1 {
		lower := backoffTime / e.minBackoffFactor
		backoffTime = lower + rand.Float64()*(backoffTime-lower)
	}

	return time.Duration(backoffTime * float64(time.Second))
}
