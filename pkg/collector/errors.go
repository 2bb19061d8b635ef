// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package collector

import "fmt"

// TypeMismatchError is returned when a metric name is requested with a type
// other than the one it was first registered with.
type TypeMismatchError struct {
	Name      string
	Existing  string
	Requested string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("metric %q is registered as %s, not %s", e.Name, e.Existing, e.Requested)
}

// InconsistentMetadataError is returned when a metric name is reused with a
// different unit or description than the one on record.
type InconsistentMetadataError struct {
	Name string
}

func (e *InconsistentMetadataError) Error() string {
	return fmt.Sprintf("metric %q is already registered with different metadata", e.Name)
}

// DuplicateMetricError is returned by Create and Bind registrations when a
// metric with the same name and tags already exists.
type DuplicateMetricError struct {
	Name string
}

func (e *DuplicateMetricError) Error() string {
	return fmt.Sprintf("metric %q already exists with the same tags", e.Name)
}

// InvalidNameError is returned when a registered name, after prefixing,
// contains characters outside the wire-safe alphabet.
type InvalidNameError struct {
	Name string
}

func (e *InvalidNameError) Error() string {
	return fmt.Sprintf("metric name %q contains invalid characters", e.Name)
}

// ShutdownAbortedError reports payloads still queued for an endpoint when the
// shutdown grace period ran out.
type ShutdownAbortedError struct {
	Endpoint string
	Dropped  int
}

func (e *ShutdownAbortedError) Error() string {
	return fmt.Sprintf("shutdown dropped %d queued payloads for endpoint %s", e.Dropped, e.Endpoint)
}
