// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package tagset implements the tag model shared by every metric: ordered,
// immutable tag sets with a canonical JSON encoding, key transformation, and
// the hashing used by the registry fast path.
package tagset

import (
	"fmt"
	"sort"
	"unicode"
)

// Tag is a single key/value pair attached to a metric.
type Tag struct {
	Key   string
	Value string
}

// TagSet is an immutable, key-sorted set of tags. Its canonical form is the
// serialized JSON object with keys in lexicographic order; that string is what
// ends up on the wire for object-shaped endpoints and is half of the registry
// key for every metric.
type TagSet struct {
	tags []Tag
	json string
	hash uint64
}

// Empty is the canonical empty tag set.
var Empty = mustBuild(nil)

// New builds a TagSet from key/value pairs. Keys and values are validated but
// not transformed; key transformation and default-tag merging happen when the
// set is resolved against a collector's defaults.
func New(tags ...Tag) (*TagSet, error) {
	copied := make([]Tag, len(tags))
	copy(copied, tags)
	return build(copied)
}

// FromMap builds a TagSet from a map. The result is deterministic regardless
// of map iteration order.
func FromMap(m map[string]string) (*TagSet, error) {
	tags := make([]Tag, 0, len(m))
	for k, v := range m {
		tags = append(tags, Tag{Key: k, Value: v})
	}
	return build(tags)
}

// build sorts, validates and canonicalizes. It owns the slice it is given.
func build(tags []Tag) (*TagSet, error) {
	sort.Slice(tags, func(i, j int) bool { return tags[i].Key < tags[j].Key })

	for i, t := range tags {
		if err := Validate(t.Key, t.Value); err != nil {
			return nil, err
		}
		if i > 0 && tags[i-1].Key == t.Key {
			return nil, &TagConflictError{Key: t.Key}
		}
	}

	return mustBuild(tags), nil
}

// mustBuild assumes tags are sorted, unique and valid.
func mustBuild(tags []Tag) *TagSet {
	// Validated keys and values contain no quotes or backslashes, so the
	// canonical JSON object can be assembled without escaping.
	buf := make([]byte, 0, jsonSize(tags))
	buf = append(buf, '{')
	for i, t := range tags {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = append(buf, '"')
		buf = append(buf, t.Key...)
		buf = append(buf, `":"`...)
		buf = append(buf, t.Value...)
		buf = append(buf, '"')
	}
	buf = append(buf, '}')

	json := string(buf)
	return &TagSet{tags: tags, json: json, hash: stringHash(json)}
}

func jsonSize(tags []Tag) int {
	n := 2
	for _, t := range tags {
		n += len(t.Key) + len(t.Value) + 6
	}
	return n
}

// Tags returns the tags in canonical (key-sorted) order. The caller must not
// mutate the returned slice.
func (ts *TagSet) Tags() []Tag {
	return ts.tags
}

// Len returns the number of tags.
func (ts *TagSet) Len() int {
	return len(ts.tags)
}

// Get returns the value for key and whether the key is present.
func (ts *TagSet) Get(key string) (string, bool) {
	i := sort.Search(len(ts.tags), func(i int) bool { return ts.tags[i].Key >= key })
	if i < len(ts.tags) && ts.tags[i].Key == key {
		return ts.tags[i].Value, true
	}
	return "", false
}

// String returns the canonical JSON object form, for example
// {"host":"web-1","route":"/a"}.
func (ts *TagSet) String() string {
	return ts.json
}

// Hash returns a 64 bit non-cryptographic hash of the canonical form.
func (ts *TagSet) Hash() uint64 {
	return ts.hash
}

// Equal reports whether two sets have the same canonical form.
func (ts *TagSet) Equal(other *TagSet) bool {
	return ts.hash == other.hash && ts.json == other.json
}

// Validate checks one tag against the allowed shape: non-empty key and value,
// both restricted to letters, digits, '-', '_', '.' and '/'.
func Validate(key, value string) error {
	if key == "" || value == "" {
		return &InvalidTagError{Key: key, Value: value}
	}
	if !validToken(key) {
		return &InvalidTagValueError{Key: key, Value: value}
	}
	if !validToken(value) {
		return &InvalidTagValueError{Key: key, Value: value}
	}
	return nil
}

// ValidToken reports whether s is non-empty and contains only the characters
// allowed in metric names, tag keys and tag values.
func ValidToken(s string) bool {
	return s != "" && validToken(s)
}

func validToken(s string) bool {
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
		case r == '-' || r == '_' || r == '.' || r == '/':
		default:
			return false
		}
	}
	return true
}

// TagConflictError reports a tag key claimed twice, either within one declared
// set or between a declared tag and a collector default tag.
type TagConflictError struct {
	Key string
}

func (e *TagConflictError) Error() string {
	return fmt.Sprintf("duplicate tag key %q", e.Key)
}

// InvalidTagError reports a tag with an empty key or value.
type InvalidTagError struct {
	Key   string
	Value string
}

func (e *InvalidTagError) Error() string {
	return fmt.Sprintf("invalid tag %q=%q: keys and values must be non-empty", e.Key, e.Value)
}

// InvalidTagValueError reports a tag token containing characters outside the
// allowed set.
type InvalidTagValueError struct {
	Key   string
	Value string
}

func (e *InvalidTagValueError) Error() string {
	return fmt.Sprintf("invalid characters in tag %q=%q: allowed are letters, digits, '-', '_', '.', '/'", e.Key, e.Value)
}
