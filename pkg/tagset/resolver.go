// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package tagset

import "sort"

// A Resolver canonicalizes declared tag sets against a fixed set of default
// tags: declared keys go through the name transformer, values through the
// value converter, the result is validated, merged with the defaults and
// key-sorted. Resolution happens once per metric at attach time, never on the
// record path.
type Resolver struct {
	defaults  *TagSet
	transform NameTransformer
	convert   ValueConverter
}

// NewResolver builds a resolver. Default tag keys pass through the same
// transformer and converter as declared tags so a conflict is always detected
// on the final key form. A nil transform keeps keys as declared.
func NewResolver(defaults map[string]string, transform NameTransformer, convert ValueConverter) (*Resolver, error) {
	r := &Resolver{transform: transform, convert: convert}

	tags := make([]Tag, 0, len(defaults))
	for k, v := range defaults {
		tags = append(tags, r.apply(Tag{Key: k, Value: v}))
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].Key < tags[j].Key })
	for i, t := range tags {
		if err := Validate(t.Key, t.Value); err != nil {
			return nil, err
		}
		if i > 0 && tags[i-1].Key == t.Key {
			return nil, &TagConflictError{Key: t.Key}
		}
	}

	r.defaults = mustBuild(tags)
	return r, nil
}

// Defaults returns the resolved default tag set.
func (r *Resolver) Defaults() *TagSet {
	return r.defaults
}

// Resolve returns the canonical tag set for a metric declaring the given
// tags: transformed, converted, validated, and merged with the defaults.
// A declared key that collides with another declared key or with a default
// key fails with TagConflictError.
func (r *Resolver) Resolve(declared *TagSet) (*TagSet, error) {
	if declared == nil {
		declared = Empty
	}
	if declared.Len() == 0 {
		return r.defaults, nil
	}

	merged := make([]Tag, 0, declared.Len()+r.defaults.Len())
	for _, t := range declared.Tags() {
		merged = append(merged, r.apply(t))
	}
	for _, t := range merged {
		if err := Validate(t.Key, t.Value); err != nil {
			return nil, err
		}
		if _, ok := r.defaults.Get(t.Key); ok {
			return nil, &TagConflictError{Key: t.Key}
		}
	}
	merged = append(merged, r.defaults.Tags()...)

	sort.Slice(merged, func(i, j int) bool { return merged[i].Key < merged[j].Key })
	for i := 1; i < len(merged); i++ {
		if merged[i-1].Key == merged[i].Key {
			return nil, &TagConflictError{Key: merged[i].Key}
		}
	}

	return mustBuild(merged), nil
}

func (r *Resolver) apply(t Tag) Tag {
	if r.transform != nil {
		t.Key = r.transform(t.Key)
	}
	if r.convert != nil {
		t.Value = r.convert(t.Key, t.Value)
	}
	return t
}
