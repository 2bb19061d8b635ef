// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package endpoint

import (
	"context"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/stackship/metrics/pkg/metrics"
	"github.com/stackship/metrics/pkg/payload"
	"github.com/stackship/metrics/pkg/serializer"
)

// SignalFxHandler ships readings to the SignalFx datapoint API. Readings are
// bucketed by kind into gauge, counter and cumulative_counter streams, each
// framed as its own payload; cumulative counters keep their running totals.
type SignalFxHandler struct {
	datapointURL string
	headers      map[string]string
	sender       *httpSender
}

// NewSignalFxHandler returns a handler posting to the given base URL with the
// given access token.
func NewSignalFxHandler(baseURL, token string, opts ...HTTPOption) (*SignalFxHandler, error) {
	base, err := parseBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	return &SignalFxHandler{
		datapointURL: base + "/v2/datapoint",
		headers:      map[string]string{"X-SF-TOKEN": token},
		sender:       newHTTPSender(newHTTPConfig(opts)),
	}, nil
}

// PayloadSize implements Handler.
func (h *SignalFxHandler) PayloadSize(configured int) int {
	return configured
}

// CreateWriter implements Handler. The three bucket writers share the
// endpoint's queue, so the payload bound covers them together.
func (h *SignalFxHandler) CreateWriter(q *payload.Queue) serializer.BatchWriter {
	return &signalFxWriter{
		gauges:     serializer.NewPayloadWriter(q, newSignalFxEncoder("gauge")),
		counters:   serializer.NewPayloadWriter(q, newSignalFxEncoder("counter")),
		cumulative: serializer.NewPayloadWriter(q, newSignalFxEncoder("cumulative_counter")),
	}
}

// Send implements Handler.
func (h *SignalFxHandler) Send(ctx context.Context, p *payload.Payload) error {
	return h.sender.post(ctx, h.datapointURL, h.headers, p.Bytes())
}

// SendMetadata implements Handler. The datapoint API carries no definitions.
func (h *SignalFxHandler) SendMetadata(ctx context.Context, defs []metrics.Definition) error {
	return nil
}

// Close implements Handler.
func (h *SignalFxHandler) Close() error {
	h.sender.close()
	return nil
}

// signalFxWriter routes each reading to its kind's bucket writer.
type signalFxWriter struct {
	gauges     *serializer.PayloadWriter
	counters   *serializer.PayloadWriter
	cumulative *serializer.PayloadWriter
}

func (w *signalFxWriter) BeginBatch() {
	w.gauges.BeginBatch()
	w.counters.BeginBatch()
	w.cumulative.BeginBatch()
}

func (w *signalFxWriter) AddReading(r *metrics.Reading) error {
	switch r.Kind {
	case metrics.KindGauge:
		return w.gauges.AddReading(r)
	case metrics.KindCumulativeCounter:
		return w.cumulative.AddReading(r)
	default:
		return w.counters.AddReading(r)
	}
}

func (w *signalFxWriter) WantsCumulativeDeltas() bool {
	return false
}

func (w *signalFxWriter) EndBatch() {
	w.gauges.EndBatch()
	w.counters.EndBatch()
	w.cumulative.EndBatch()
}

func (w *signalFxWriter) TakeEvictions() int {
	return w.gauges.TakeEvictions() + w.counters.TakeEvictions() + w.cumulative.TakeEvictions()
}

// signalFxEncoder frames one bucket's payloads as {"<bucket>":[...]}.
type signalFxEncoder struct {
	open   []byte
	stream *jsoniter.Stream
	ts     *serializer.TimestampCache
}

func newSignalFxEncoder(bucket string) *signalFxEncoder {
	return &signalFxEncoder{
		open:   []byte(`{"` + bucket + `":[`),
		stream: jsoniter.NewStream(jsonConfig, nil, 256),
		ts:     serializer.NewTimestampCache(time.Millisecond),
	}
}

func (e *signalFxEncoder) OpenBatch() []byte      { return e.open }
func (e *signalFxEncoder) Separator() []byte      { return []byte(",") }
func (e *signalFxEncoder) CloseBatch() []byte     { return []byte("]}") }
func (e *signalFxEncoder) CumulativeDeltas() bool { return false }

func (e *signalFxEncoder) AppendReading(dst []byte, r *metrics.Reading) ([]byte, error) {
	s := e.stream
	s.Error = nil
	s.SetBuffer(dst)
	s.WriteObjectStart()
	s.WriteObjectField("metric")
	s.WriteString(r.FullName())
	s.WriteMore()
	s.WriteObjectField("value")
	s.WriteFloat64(r.Value)
	s.WriteMore()
	s.WriteObjectField("timestamp")
	s.WriteRaw(e.ts.Text(r.Timestamp))
	s.WriteMore()
	s.WriteObjectField("dimensions")
	s.WriteRaw(r.Tags.String())
	s.WriteObjectEnd()
	if s.Error != nil {
		return dst, s.Error
	}
	return s.Buffer(), nil
}
