// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package endpoint

import (
	"context"
	"net/url"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/stackship/metrics/pkg/metrics"
	"github.com/stackship/metrics/pkg/payload"
	"github.com/stackship/metrics/pkg/serializer"
)

var jsonConfig = jsoniter.Config{}.Froze()

// BosunHandler ships readings to a Bosun server: a JSON array of datapoints
// to /api/put and metadata rows to /api/metadata/put, both with millisecond
// timestamps.
type BosunHandler struct {
	putURL      string
	metadataURL string
	sender      *httpSender
}

// NewBosunHandler returns a handler posting to the given base URL.
func NewBosunHandler(baseURL string, opts ...HTTPOption) (*BosunHandler, error) {
	base, err := parseBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	return &BosunHandler{
		putURL:      base + "/api/put",
		metadataURL: base + "/api/metadata/put",
		sender:      newHTTPSender(newHTTPConfig(opts)),
	}, nil
}

// PayloadSize implements Handler.
func (h *BosunHandler) PayloadSize(configured int) int {
	return configured
}

// CreateWriter implements Handler.
func (h *BosunHandler) CreateWriter(q *payload.Queue) serializer.BatchWriter {
	return serializer.NewPayloadWriter(q, newBosunEncoder())
}

// Send implements Handler.
func (h *BosunHandler) Send(ctx context.Context, p *payload.Payload) error {
	return h.sender.post(ctx, h.putURL, nil, p.Bytes())
}

// bosunMetadataRow is one entry of a /api/metadata/put body.
type bosunMetadataRow struct {
	Metric string `json:"Metric"`
	Name   string `json:"Name"`
	Value  string `json:"Value"`
}

// SendMetadata implements Handler. Each definition expands to rate, unit and
// desc rows, skipping empty values.
func (h *BosunHandler) SendMetadata(ctx context.Context, defs []metrics.Definition) error {
	rows := make([]bosunMetadataRow, 0, 3*len(defs))
	for i := range defs {
		def := &defs[i]
		name := def.FullName()
		rows = append(rows, bosunMetadataRow{Metric: name, Name: "rate", Value: bosunRate(def.Kind)})
		if def.Unit != "" {
			rows = append(rows, bosunMetadataRow{Metric: name, Name: "unit", Value: def.Unit})
		}
		if def.Description != "" {
			rows = append(rows, bosunMetadataRow{Metric: name, Name: "desc", Value: def.Description})
		}
	}
	if len(rows) == 0 {
		return nil
	}
	body, err := jsonConfig.Marshal(rows)
	if err != nil {
		return errors.Wrap(err, "encoding bosun metadata")
	}
	return h.sender.post(ctx, h.metadataURL, nil, body)
}

// Close implements Handler.
func (h *BosunHandler) Close() error {
	h.sender.close()
	return nil
}

// bosunRate maps a metric kind onto Bosun's rate vocabulary.
func bosunRate(k metrics.RateKind) string {
	switch k {
	case metrics.KindGauge:
		return "gauge"
	case metrics.KindRate:
		return "rate"
	default:
		return "counter"
	}
}

// bosunEncoder frames payloads as a JSON array of
// {"metric","value","tags","timestamp"} objects.
type bosunEncoder struct {
	stream *jsoniter.Stream
	ts     *serializer.TimestampCache
}

func newBosunEncoder() *bosunEncoder {
	return &bosunEncoder{
		stream: jsoniter.NewStream(jsonConfig, nil, 256),
		ts:     serializer.NewTimestampCache(time.Millisecond),
	}
}

func (e *bosunEncoder) OpenBatch() []byte      { return []byte("[") }
func (e *bosunEncoder) Separator() []byte      { return []byte(",") }
func (e *bosunEncoder) CloseBatch() []byte     { return []byte("]") }
func (e *bosunEncoder) CumulativeDeltas() bool { return false }

func (e *bosunEncoder) AppendReading(dst []byte, r *metrics.Reading) ([]byte, error) {
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
	s.WriteObjectField("tags")
	s.WriteRaw(r.Tags.String())
	s.WriteMore()
	s.WriteObjectField("timestamp")
	s.WriteRaw(e.ts.Text(r.Timestamp))
	s.WriteObjectEnd()
	if s.Error != nil {
		return dst, s.Error
	}
	return s.Buffer(), nil
}

// parseBaseURL validates an HTTP endpoint URL and strips any trailing slash.
func parseBaseURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", errors.Wrapf(err, "invalid endpoint url %q", raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", errors.Errorf("endpoint url %q must use http or https", raw)
	}
	if u.Host == "" {
		return "", errors.Errorf("endpoint url %q has no host", raw)
	}
	return strings.TrimSuffix(u.String(), "/"), nil
}
