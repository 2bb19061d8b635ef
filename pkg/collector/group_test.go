// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package collector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackship/metrics/pkg/metrics"
	"github.com/stackship/metrics/pkg/tagset"
)

func routeGroup(c *Collector) *Group[*metrics.Counter] {
	return NewGroup(c, "http.hits", "requests", "Requests by route",
		func(tags *tagset.TagSet) (*metrics.Counter, error) {
			return metrics.NewCounter(tags), nil
		})
}

func TestGroupSharesInstancesPerTagSet(t *testing.T) {
	c, _, _ := newLocalCollector(t)
	group := routeGroup(c)

	a1, err := group.Add(tagset.Tag{Key: "route", Value: "/a"})
	require.NoError(t, err)
	a2, err := group.Add(tagset.Tag{Key: "route", Value: "/a"})
	require.NoError(t, err)
	b, err := group.Add(tagset.Tag{Key: "route", Value: "/b"})
	require.NoError(t, err)

	require.Same(t, a1, a2)
	require.NotSame(t, a1, b)
	assert.Equal(t, "http.hits", a1.Name())

	v, ok := b.Tags().Get("route")
	require.True(t, ok)
	assert.Equal(t, "/b", v)
}

func TestGroupSharesOneDefinition(t *testing.T) {
	c, _, _ := newLocalCollector(t)
	group := routeGroup(c)

	_, err := group.Add(tagset.Tag{Key: "route", Value: "/a"})
	require.NoError(t, err)
	_, err = group.Add(tagset.Tag{Key: "route", Value: "/b"})
	require.NoError(t, err)

	var matches int
	for _, d := range c.definitions() {
		if d.Name == "http.hits" {
			matches++
		}
	}
	assert.Equal(t, 1, matches)
}

func TestGroupRejectsInvalidTags(t *testing.T) {
	c, _, _ := newLocalCollector(t)
	group := routeGroup(c)

	_, err := group.Add(tagset.Tag{Key: "route", Value: "has spaces"})
	require.Error(t, err)
}

func TestGroupFactoryErrorPropagates(t *testing.T) {
	c, _, _ := newLocalCollector(t)
	group := NewGroup(c, "http.hits", "requests", "Requests by route",
		func(*tagset.TagSet) (*metrics.Counter, error) {
			return nil, assert.AnError
		})

	_, err := group.Add(tagset.Tag{Key: "route", Value: "/a"})
	require.ErrorIs(t, err, assert.AnError)
}
