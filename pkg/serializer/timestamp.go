// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package serializer

import (
	"strconv"
	"time"
)

// TimestampCache formats epoch timestamps, remembering the most recent one.
// A snapshot stamps every reading of a cycle with the same time, so nearly
// every format call is a cache hit.
type TimestampCache struct {
	unit time.Duration
	last time.Time
	text string
}

// NewTimestampCache returns a cache emitting timestamps in the given unit,
// time.Second or time.Millisecond.
func NewTimestampCache(unit time.Duration) *TimestampCache {
	return &TimestampCache{unit: unit}
}

// Text returns the formatted timestamp.
func (c *TimestampCache) Text(ts time.Time) string {
	if c.text == "" || !ts.Equal(c.last) {
		c.last = ts
		var epoch int64
		if c.unit == time.Second {
			epoch = ts.Unix()
		} else {
			epoch = ts.UnixMilli()
		}
		c.text = strconv.FormatInt(epoch, 10)
	}
	return c.text
}
