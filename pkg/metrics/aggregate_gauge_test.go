// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregateGaugeSummaries(t *testing.T) {
	g, err := NewAggregateGauge(nil,
		AggregateCount, AggregateMin, AggregateMax, AggregateMean, Percentile(0.99))
	require.NoError(t, err)
	mustAttach(t, g, "latency.ms")

	for v := 1; v <= 100; v++ {
		require.NoError(t, g.Record(float64(v)))
	}

	g.PreSerialize()
	w := &captureWriter{}
	require.NoError(t, g.Serialize(w, testNow))

	require.Len(t, w.readings, 5)
	bySuffix := map[string]float64{}
	for _, r := range w.readings {
		assert.Equal(t, "latency.ms", r.Name)
		assert.Equal(t, KindGauge, r.Kind)
		assert.Equal(t, testNow, r.Timestamp)
		bySuffix[r.Suffix] = r.Value
	}
	assert.Equal(t, map[string]float64{
		"_count": 100,
		"_min":   1,
		"_max":   100,
		"_avg":   50.5,
		"_99":    99,
	}, bySuffix)
}

func TestAggregateGaugeZeroSamplesEmitsNothing(t *testing.T) {
	g, err := NewAggregateGauge(nil)
	require.NoError(t, err)
	mustAttach(t, g, "latency.ms")

	g.PreSerialize()
	w := &captureWriter{}
	require.NoError(t, g.Serialize(w, testNow))
	assert.Empty(t, w.readings)
}

func TestAggregateGaugeSingleSample(t *testing.T) {
	g, err := NewAggregateGauge(nil,
		AggregateMedian, Percentile(0.01), Percentile(0.99), AggregateMin, AggregateMax)
	require.NoError(t, err)
	mustAttach(t, g, "latency.ms")

	require.NoError(t, g.Record(7))

	g.PreSerialize()
	w := &captureWriter{}
	require.NoError(t, g.Serialize(w, testNow))

	// A single sample is every percentile.
	require.Len(t, w.readings, 5)
	for _, r := range w.readings {
		assert.Equal(t, float64(7), r.Value, "suffix %q", r.Suffix)
	}
}

func TestAggregateGaugeLastSumMedian(t *testing.T) {
	g, err := NewAggregateGauge(nil, AggregateLast, AggregateSum, AggregateMedian)
	require.NoError(t, err)
	mustAttach(t, g, "latency.ms")

	// Recorded out of order: last is the final recorded value, not the max.
	for _, v := range []float64{5, 1, 4, 2, 3} {
		require.NoError(t, g.Record(v))
	}

	g.PreSerialize()
	w := &captureWriter{}
	require.NoError(t, g.Serialize(w, testNow))

	require.Len(t, w.readings, 3)
	assert.Equal(t, "", w.readings[0].Suffix)
	assert.Equal(t, float64(3), w.readings[0].Value)
	assert.Equal(t, "_sum", w.readings[1].Suffix)
	assert.Equal(t, float64(15), w.readings[1].Value)
	assert.Equal(t, "_median", w.readings[2].Suffix)
	assert.Equal(t, float64(3), w.readings[2].Value)
}

func TestAggregateGaugeDefaults(t *testing.T) {
	g, err := NewAggregateGauge(nil)
	require.NoError(t, err)

	assert.ElementsMatch(t,
		[]string{"_min", "_max", "_avg", "_median", "_95", "_count"},
		g.Suffixes())
}

func TestAggregateSuffixFormatting(t *testing.T) {
	assert.Equal(t, "_99", Percentile(0.99).Suffix())
	assert.Equal(t, "_95", Percentile(0.95).Suffix())
	assert.Equal(t, "_50", Percentile(0.5).Suffix())
	assert.Equal(t, "_99.9", Percentile(0.999).Suffix())
	assert.Equal(t, "", AggregateLast.Suffix())
	assert.Equal(t, "_count", AggregateCount.Suffix())
}

func TestNewAggregateGaugeRejectsBadPercentile(t *testing.T) {
	_, err := NewAggregateGauge(nil, Percentile(0))
	assert.Error(t, err)
	_, err = NewAggregateGauge(nil, Percentile(1))
	assert.Error(t, err)
	_, err = NewAggregateGauge(nil, Percentile(1.2))
	assert.Error(t, err)
}

func TestNewAggregateGaugeRejectsDuplicateSuffix(t *testing.T) {
	_, err := NewAggregateGauge(nil, AggregateMin, AggregateMin)
	assert.Error(t, err)
	_, err = NewAggregateGauge(nil, Percentile(0.95), Percentile(0.95))
	assert.Error(t, err)
}

func TestNearestRank(t *testing.T) {
	sorted := []float64{10, 20, 30, 40}

	assert.Equal(t, float64(10), nearestRank(sorted, 0.25)) // ceil(1)-1 = 0
	assert.Equal(t, float64(20), nearestRank(sorted, 0.5))  // ceil(2)-1 = 1
	assert.Equal(t, float64(40), nearestRank(sorted, 0.99)) // ceil(3.96)-1 = 3
	assert.Equal(t, float64(10), nearestRank(sorted, 0.01)) // ceil(0.04)-1 = 0
}
