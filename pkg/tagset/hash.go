// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package tagset

import "github.com/twmb/murmur3"

// hashSeed is the murmur3 mixing constant used as a neutral starting value so
// a key never hashes to zero for empty inputs.
const hashSeed uint64 = 0xc6a4a7935bd1e995

func stringHash(s string) uint64 {
	return murmur3.StringSum64(s)
}

// KeyHash returns the 64 bit registry hash for a metric identified by its
// full name and resolved tag set. Uses uint64 keys so registry lookups take
// the runtime's fast map paths. Collisions are possible; callers must compare
// the full name and canonical tag form before trusting a match.
func KeyHash(fullName string, tags *TagSet) uint64 {
	return hashSeed ^ stringHash(fullName) ^ tags.Hash()
}
