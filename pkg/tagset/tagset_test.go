// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package tagset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSortsByKey(t *testing.T) {
	ts, err := New(Tag{"route", "/a"}, Tag{"host", "web-1"}, Tag{"env", "prod"})
	require.NoError(t, err)

	assert.Equal(t, []Tag{{"env", "prod"}, {"host", "web-1"}, {"route", "/a"}}, ts.Tags())
	assert.Equal(t, `{"env":"prod","host":"web-1","route":"/a"}`, ts.String())
}

func TestNewEmpty(t *testing.T) {
	ts, err := New()
	require.NoError(t, err)

	assert.Equal(t, 0, ts.Len())
	assert.Equal(t, "{}", ts.String())
	assert.True(t, ts.Equal(Empty))
}

func TestFromMapDeterministic(t *testing.T) {
	m := map[string]string{"b": "2", "a": "1", "c": "3"}

	first, err := FromMap(m)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := FromMap(m)
		require.NoError(t, err)
		assert.Equal(t, first.String(), again.String())
		assert.Equal(t, first.Hash(), again.Hash())
	}
}

func TestNewRejectsDuplicateKey(t *testing.T) {
	_, err := New(Tag{"host", "a"}, Tag{"host", "b"})

	var conflict *TagConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "host", conflict.Key)
}

func TestNewRejectsEmptyKeyOrValue(t *testing.T) {
	_, err := New(Tag{"", "x"})
	var invalid *InvalidTagError
	assert.ErrorAs(t, err, &invalid)

	_, err = New(Tag{"host", ""})
	assert.ErrorAs(t, err, &invalid)
}

func TestNewRejectsBadCharacters(t *testing.T) {
	for _, bad := range []string{"a b", "a:b", `a"b`, "a,b", "a|b"} {
		_, err := New(Tag{"host", bad})
		var invalid *InvalidTagValueError
		assert.ErrorAs(t, err, &invalid, "value %q should be rejected", bad)
	}

	// '-', '_', '.' and '/' are all legal.
	_, err := New(Tag{"host", "web-1_a.b/c"})
	assert.NoError(t, err)
}

func TestGet(t *testing.T) {
	ts, err := New(Tag{"host", "web-1"}, Tag{"route", "/a"})
	require.NoError(t, err)

	v, ok := ts.Get("host")
	assert.True(t, ok)
	assert.Equal(t, "web-1", v)

	_, ok = ts.Get("env")
	assert.False(t, ok)
}

func TestHashDiffersAcrossSets(t *testing.T) {
	a, err := New(Tag{"host", "web-1"})
	require.NoError(t, err)
	b, err := New(Tag{"host", "web-2"})
	require.NoError(t, err)

	assert.NotEqual(t, a.Hash(), b.Hash())
	assert.False(t, a.Equal(b))
}

func TestKeyHash(t *testing.T) {
	tags, err := New(Tag{"route", "/a"})
	require.NoError(t, err)

	sameName := KeyHash("http.requests", tags)
	assert.Equal(t, sameName, KeyHash("http.requests", tags))
	assert.NotEqual(t, sameName, KeyHash("http.errors", tags))
	assert.NotEqual(t, sameName, KeyHash("http.requests", Empty))
}
