// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package collector

import (
	"os"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/stackship/metrics/pkg/endpoint"
	"github.com/stackship/metrics/pkg/tagset"
	"github.com/stackship/metrics/pkg/util/log"
)

// Defaults applied by New for zero-valued options.
const (
	DefaultSnapshotInterval    = 30 * time.Second
	DefaultMetadataInterval    = 5 * time.Minute
	DefaultMaxPayloadSize      = 64 * 1024
	DefaultMaxPayloadCount     = 32
	DefaultMaxRetries          = 3
	DefaultDelayBetweenRetries = 2 * time.Second
)

// An Endpoint names a handler the collector should ship readings to. The
// name tags the collector's own drop accounting, so it must be a valid tag
// value.
type Endpoint struct {
	Name    string
	Handler endpoint.Handler
}

// Options configures a Collector. The zero value plus at least one endpoint
// is a working configuration.
type Options struct {
	// Endpoints lists the backends every snapshot is shipped to.
	Endpoints []Endpoint

	// DefaultTags are merged into every metric's tag set. When nil, the
	// host name is used; pass an empty non-nil map to disable that.
	DefaultTags map[string]string

	// MetricsNamePrefix is prepended to every registered metric name.
	MetricsNamePrefix string

	// SnapshotInterval is how often accumulated values are serialized and
	// flushed.
	SnapshotInterval time.Duration

	// MetadataInterval is how often metric definitions are published.
	MetadataInterval time.Duration

	// ThrowOnQueueFull reports payload-pool exhaustion to the exception
	// handler instead of only counting the drops.
	ThrowOnQueueFull bool

	// PropertyToTagName rewrites declared tag keys, tagset.SnakeCase for
	// instance. Applied to default tag keys as well.
	PropertyToTagName tagset.NameTransformer

	// TagValueConverter rewrites declared tag values before validation.
	TagValueConverter tagset.ValueConverter

	// ExceptionHandler receives serialization and transport errors the
	// collector handles on its own. Panics are swallowed.
	ExceptionHandler func(error)

	// AfterSend runs after every send attempt with its accounting.
	AfterSend func(endpoint.AfterSendInfo)

	// BeforeSerialization and AfterSerialization bracket each snapshot.
	BeforeSerialization func()
	AfterSerialization  func()

	// MaxPayloadSize is the payload buffer size in bytes for HTTP backends.
	MaxPayloadSize int

	// MaxPayloadCount bounds the buffers allocated per endpoint.
	MaxPayloadCount int

	// MaxRetries bounds the send attempts per payload.
	MaxRetries int

	// DelayBetweenRetries is the base of the exponential backoff applied
	// after a failed flush, capped at SnapshotInterval.
	DelayBetweenRetries time.Duration

	// Clock substitutes the timer source in tests.
	Clock clock.Clock
}

func (o *Options) applyDefaults() {
	if o.SnapshotInterval <= 0 {
		o.SnapshotInterval = DefaultSnapshotInterval
	}
	if o.MetadataInterval <= 0 {
		o.MetadataInterval = DefaultMetadataInterval
	}
	if o.MaxPayloadSize <= 0 {
		o.MaxPayloadSize = DefaultMaxPayloadSize
	}
	if o.MaxPayloadCount <= 0 {
		o.MaxPayloadCount = DefaultMaxPayloadCount
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.DelayBetweenRetries <= 0 {
		o.DelayBetweenRetries = DefaultDelayBetweenRetries
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	if o.DefaultTags == nil {
		o.DefaultTags = hostTags()
	}
}

// hostTags seeds the default tag set with the machine's host name.
func hostTags() map[string]string {
	host, err := os.Hostname()
	if err != nil {
		log.Warnf("starting without a host default tag: %v", err)
		return map[string]string{}
	}
	if !tagset.ValidToken(host) {
		log.Warnf("starting without a host default tag: %q is not a valid tag value", host)
		return map[string]string{}
	}
	return map[string]string{"host": host}
}
