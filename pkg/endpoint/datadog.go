// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package endpoint

import (
	"context"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/stackship/metrics/pkg/metrics"
	"github.com/stackship/metrics/pkg/payload"
	"github.com/stackship/metrics/pkg/serializer"
)

// DataDogHandler ships readings to the Datadog v1 series intake. The host tag
// is lifted into the series host field, timestamps are epoch seconds, and
// cumulative counters are submitted as per-window counts.
type DataDogHandler struct {
	seriesURL string
	headers   map[string]string
	sender    *httpSender
}

// NewDataDogHandler returns a handler posting to the given base URL with the
// given API key.
func NewDataDogHandler(baseURL, apiKey string, opts ...HTTPOption) (*DataDogHandler, error) {
	base, err := parseBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	if apiKey == "" {
		return nil, errors.New("datadog endpoint requires an API key")
	}
	return &DataDogHandler{
		seriesURL: base + "/api/v1/series",
		headers:   map[string]string{"DD-API-KEY": apiKey},
		sender:    newHTTPSender(newHTTPConfig(opts)),
	}, nil
}

// PayloadSize implements Handler.
func (h *DataDogHandler) PayloadSize(configured int) int {
	return configured
}

// CreateWriter implements Handler.
func (h *DataDogHandler) CreateWriter(q *payload.Queue) serializer.BatchWriter {
	return serializer.NewPayloadWriter(q, newDatadogEncoder())
}

// Send implements Handler.
func (h *DataDogHandler) Send(ctx context.Context, p *payload.Payload) error {
	return h.sender.post(ctx, h.seriesURL, h.headers, p.Bytes())
}

// SendMetadata implements Handler. The series intake has no metadata
// counterpart, so definitions are not published.
func (h *DataDogHandler) SendMetadata(ctx context.Context, defs []metrics.Definition) error {
	return nil
}

// Close implements Handler.
func (h *DataDogHandler) Close() error {
	h.sender.close()
	return nil
}

// datadogType maps a metric kind onto the series type vocabulary.
func datadogType(k metrics.RateKind) string {
	switch k {
	case metrics.KindGauge:
		return "gauge"
	case metrics.KindRate:
		return "rate"
	default:
		return "count"
	}
}

// datadogEncoder frames payloads as {"series":[...]} with one point per
// reading.
type datadogEncoder struct {
	stream *jsoniter.Stream
	ts     *serializer.TimestampCache
}

func newDatadogEncoder() *datadogEncoder {
	return &datadogEncoder{
		stream: jsoniter.NewStream(jsonConfig, nil, 256),
		ts:     serializer.NewTimestampCache(time.Second),
	}
}

func (e *datadogEncoder) OpenBatch() []byte      { return []byte(`{"series":[`) }
func (e *datadogEncoder) Separator() []byte      { return []byte(",") }
func (e *datadogEncoder) CloseBatch() []byte     { return []byte("]}") }
func (e *datadogEncoder) CumulativeDeltas() bool { return true }

func (e *datadogEncoder) AppendReading(dst []byte, r *metrics.Reading) ([]byte, error) {
	s := e.stream
	s.Error = nil
	s.SetBuffer(dst)
	s.WriteObjectStart()
	s.WriteObjectField("metric")
	s.WriteString(r.FullName())
	s.WriteMore()
	s.WriteObjectField("points")
	s.WriteArrayStart()
	s.WriteArrayStart()
	s.WriteRaw(e.ts.Text(r.Timestamp))
	s.WriteMore()
	s.WriteFloat64(r.Value)
	s.WriteArrayEnd()
	s.WriteArrayEnd()
	s.WriteMore()
	s.WriteObjectField("type")
	s.WriteString(datadogType(r.Kind))
	if host, ok := r.Tags.Get("host"); ok {
		s.WriteMore()
		s.WriteObjectField("host")
		s.WriteString(host)
	}
	s.WriteMore()
	s.WriteObjectField("tags")
	s.WriteArrayStart()
	first := true
	for _, tag := range r.Tags.Tags() {
		if tag.Key == "host" {
			continue
		}
		if !first {
			s.WriteMore()
		}
		first = false
		s.WriteString(tag.Key + ":" + tag.Value)
	}
	s.WriteArrayEnd()
	s.WriteObjectEnd()
	if s.Error != nil {
		return dst, s.Error
	}
	return s.Buffer(), nil
}
