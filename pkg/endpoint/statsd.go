// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package endpoint

import (
	"context"
	"net"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/stackship/metrics/pkg/metrics"
	"github.com/stackship/metrics/pkg/payload"
	"github.com/stackship/metrics/pkg/serializer"
)

const (
	// optimalUDPDatagramSize keeps datagrams under the typical ethernet MTU
	// after IP and UDP headers.
	optimalUDPDatagramSize = 1432

	// optimalUDSDatagramSize matches the dogstatsd agent's unix socket
	// buffer.
	optimalUDSDatagramSize = 8192

	// udsPrefix selects a unix domain datagram socket address.
	udsPrefix = "unix://"
)

// StatsdHandler ships readings as dogstatsd lines over UDP, or over a unix
// datagram socket for unix:// addresses. One payload is one datagram;
// readings never span datagrams. Counters are submitted as within-window
// increments and there is no metadata channel.
type StatsdHandler struct {
	conn         net.Conn
	datagramSize int
}

// StatsdOption adjusts a statsd handler.
type StatsdOption func(*StatsdHandler)

// WithMaxDatagramSize caps the datagram size in bytes.
func WithMaxDatagramSize(n int) StatsdOption {
	return func(h *StatsdHandler) {
		if n > 0 {
			h.datagramSize = n
		}
	}
}

// NewStatsdHandler connects to a dogstatsd address, either "host:port" for
// UDP or "unix:///path/to/socket".
func NewStatsdHandler(addr string, opts ...StatsdOption) (*StatsdHandler, error) {
	var conn net.Conn
	var err error
	h := &StatsdHandler{}
	if path, ok := strings.CutPrefix(addr, udsPrefix); ok {
		conn, err = net.Dial("unixgram", path)
		h.datagramSize = optimalUDSDatagramSize
	} else {
		conn, err = net.Dial("udp", addr)
		h.datagramSize = optimalUDPDatagramSize
	}
	if err != nil {
		return nil, errors.Wrapf(err, "connecting to statsd at %q", addr)
	}
	h.conn = conn
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// PayloadSize implements Handler. The payload bound is the datagram size, not
// the configured HTTP payload size.
func (h *StatsdHandler) PayloadSize(configured int) int {
	return h.datagramSize
}

// CreateWriter implements Handler.
func (h *StatsdHandler) CreateWriter(q *payload.Queue) serializer.BatchWriter {
	return serializer.NewPayloadWriter(q, &statsdEncoder{})
}

// Send implements Handler. Each payload goes out as a single datagram.
func (h *StatsdHandler) Send(ctx context.Context, p *payload.Payload) error {
	if err := ctx.Err(); err != nil {
		return &TransportError{Transient: true, cause: err}
	}
	if _, err := h.conn.Write(p.Bytes()); err != nil {
		return &TransportError{Transient: true, cause: err}
	}
	return nil
}

// SendMetadata implements Handler. The statsd protocol has no metadata.
func (h *StatsdHandler) SendMetadata(ctx context.Context, defs []metrics.Definition) error {
	return nil
}

// Close implements Handler.
func (h *StatsdHandler) Close() error {
	return h.conn.Close()
}

// statsdEncoder emits newline separated dogstatsd lines,
// name:value|type|#k:v,k:v.
type statsdEncoder struct{}

func (e *statsdEncoder) OpenBatch() []byte      { return nil }
func (e *statsdEncoder) Separator() []byte      { return []byte("\n") }
func (e *statsdEncoder) CloseBatch() []byte     { return nil }
func (e *statsdEncoder) CumulativeDeltas() bool { return true }

func (e *statsdEncoder) AppendReading(dst []byte, r *metrics.Reading) ([]byte, error) {
	dst = append(dst, r.FullName()...)
	dst = append(dst, ':')
	dst = strconv.AppendFloat(dst, r.Value, 'f', -1, 64)
	dst = append(dst, '|')
	dst = append(dst, statsdType(r.Kind)...)
	if r.Tags.Len() > 0 {
		dst = append(dst, "|#"...)
		for i, tag := range r.Tags.Tags() {
			if i > 0 {
				dst = append(dst, ',')
			}
			dst = append(dst, tag.Key...)
			dst = append(dst, ':')
			dst = append(dst, tag.Value...)
		}
	}
	return dst, nil
}

// statsdType maps a metric kind onto a dogstatsd metric type token.
func statsdType(k metrics.RateKind) string {
	switch k {
	case metrics.KindCounter, metrics.KindCumulativeCounter:
		return "c"
	default:
		return "g"
	}
}
