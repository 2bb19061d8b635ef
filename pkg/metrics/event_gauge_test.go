// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package metrics

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventGaugeEmitsEventsInOrder(t *testing.T) {
	g := NewEventGauge(nil)
	mustAttach(t, g, "latency.ms")

	t1 := testNow.Add(1 * time.Second)
	t2 := testNow.Add(2 * time.Second)
	t3 := testNow.Add(3 * time.Second)
	require.NoError(t, g.RecordAt(10, t1))
	require.NoError(t, g.RecordAt(20, t2))
	require.NoError(t, g.RecordAt(30, t3))

	g.PreSerialize()
	w := &captureWriter{}
	require.NoError(t, g.Serialize(w, testNow))

	require.Len(t, w.readings, 3)
	assert.Equal(t, []float64{10, 20, 30}, w.values())
	assert.Equal(t, t1, w.readings[0].Timestamp)
	assert.Equal(t, t2, w.readings[1].Timestamp)
	assert.Equal(t, t3, w.readings[2].Timestamp)
}

func TestEventGaugeRecordUsesAttachedClock(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(testNow)

	g := NewEventGauge(nil)
	require.NoError(t, g.Attach("latency.ms", nil, mock, nil))

	require.NoError(t, g.Record(10))
	mock.Add(5 * time.Second)
	require.NoError(t, g.Record(20))

	g.PreSerialize()
	w := &captureWriter{}
	require.NoError(t, g.Serialize(w, testNow))

	require.Len(t, w.readings, 2)
	assert.Equal(t, testNow, w.readings[0].Timestamp)
	assert.Equal(t, testNow.Add(5*time.Second), w.readings[1].Timestamp)
}

func TestEventGaugeWindowDrains(t *testing.T) {
	g := NewEventGauge(nil)
	mustAttach(t, g, "latency.ms")

	require.NoError(t, g.RecordAt(10, testNow))
	g.PreSerialize()
	w := &captureWriter{}
	require.NoError(t, g.Serialize(w, testNow))
	require.Len(t, w.readings, 1)

	// Nothing left for the next window.
	g.PreSerialize()
	w = &captureWriter{}
	require.NoError(t, g.Serialize(w, testNow))
	assert.Empty(t, w.readings)
}

func TestEventGaugeOutOfRangeEventDroppedOthersProceed(t *testing.T) {
	g := NewEventGauge(nil)
	mustAttach(t, g, "latency.ms")

	bad := time.Date(1999, 12, 31, 23, 59, 59, 999000000, time.UTC)
	require.NoError(t, g.RecordAt(10, testNow))
	require.NoError(t, g.RecordAt(20, bad))
	require.NoError(t, g.RecordAt(30, testNow))

	g.PreSerialize()
	w := &captureWriter{}
	err := g.Serialize(w, testNow)

	var oor *TimestampOutOfRangeError
	require.ErrorAs(t, err, &oor)
	assert.Equal(t, []float64{10, 30}, w.values())
}
