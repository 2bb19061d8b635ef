// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package collector

import (
	"context"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackship/metrics/pkg/endpoint"
	"github.com/stackship/metrics/pkg/metrics"
	"github.com/stackship/metrics/pkg/payload"
	"github.com/stackship/metrics/pkg/serializer"
	"github.com/stackship/metrics/pkg/tagset"
)

var collectorEpoch = time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

const snapshotEvery = 10 * time.Second

// lineEncoder frames readings as bare name=value lines, one per reading.
type lineEncoder struct{}

func (e *lineEncoder) OpenBatch() []byte      { return nil }
func (e *lineEncoder) Separator() []byte      { return []byte("\n") }
func (e *lineEncoder) CloseBatch() []byte     { return nil }
func (e *lineEncoder) CumulativeDeltas() bool { return false }

func (e *lineEncoder) AppendReading(dst []byte, r *metrics.Reading) ([]byte, error) {
	dst = append(dst, r.FullName()...)
	dst = append(dst, '=')
	return strconv.AppendFloat(dst, r.Value, 'f', -1, 64), nil
}

// recordingHandler is an endpoint that keeps every send attempt in memory and
// fails on request.
type recordingHandler struct {
	mu        sync.Mutex
	scripted  []error
	alwaysErr error
	attempts  []string
	metadata  [][]metrics.Definition
	closed    bool
}

func (h *recordingHandler) PayloadSize(configured int) int { return configured }

func (h *recordingHandler) CreateWriter(q *payload.Queue) serializer.BatchWriter {
	return serializer.NewPayloadWriter(q, &lineEncoder{})
}

func (h *recordingHandler) Send(_ context.Context, p *payload.Payload) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.attempts = append(h.attempts, string(p.Bytes()))
	if h.alwaysErr != nil {
		return h.alwaysErr
	}
	if len(h.scripted) > 0 {
		err := h.scripted[0]
		h.scripted = h.scripted[1:]
		return err
	}
	return nil
}

func (h *recordingHandler) SendMetadata(_ context.Context, defs []metrics.Definition) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.metadata = append(h.metadata, defs)
	return nil
}

func (h *recordingHandler) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

func (h *recordingHandler) sent() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.attempts...)
}

func (h *recordingHandler) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// errorLog captures errors handed to the exception handler.
type errorLog struct {
	mu   sync.Mutex
	errs []error
}

func (l *errorLog) handle(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errs = append(l.errs, err)
}

func (l *errorLog) all() []error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]error(nil), l.errs...)
}

func newTestCollector(t *testing.T, opts Options) (*Collector, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(collectorEpoch)
	opts.Clock = clk
	if opts.DefaultTags == nil {
		opts.DefaultTags = map[string]string{"host": "web-1"}
	}
	if opts.SnapshotInterval == 0 {
		opts.SnapshotInterval = snapshotEvery
	}
	c, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Shutdown(context.Background()) })
	return c, clk
}

func newLocalCollector(t *testing.T) (*Collector, *endpoint.LocalHandler, *clock.Mock) {
	t.Helper()
	local := endpoint.NewLocalHandler()
	c, clk := newTestCollector(t, Options{Endpoints: []Endpoint{{Name: "local", Handler: local}}})
	return c, local, clk
}

func newPrefixedCollector(t *testing.T, prefix string) (*Collector, *endpoint.LocalHandler, *clock.Mock) {
	t.Helper()
	local := endpoint.NewLocalHandler()
	c, clk := newTestCollector(t, Options{
		Endpoints:         []Endpoint{{Name: "local", Handler: local}},
		MetricsNamePrefix: prefix,
	})
	return c, local, clk
}

func mustTagSet(t *testing.T, kv map[string]string) *tagset.TagSet {
	t.Helper()
	ts, err := tagset.FromMap(kv)
	require.NoError(t, err)
	return ts
}

func findDef(defs []metrics.Definition, fullName string) (metrics.Definition, bool) {
	for _, d := range defs {
		if d.FullName() == fullName {
			return d, true
		}
	}
	return metrics.Definition{}, false
}

func TestCollectorDeliversSnapshots(t *testing.T) {
	c, local, clk := newLocalCollector(t)

	requests, err := GetMetric(c, "http.requests", "requests", "Requests served", counterFactory(nil))
	require.NoError(t, err)
	load, err := GetMetric(c, "cpu.load", "ratio", "One minute load average", gaugeFactory(nil))
	require.NoError(t, err)

	require.NoError(t, requests.Add(3))
	require.NoError(t, load.Record(0.5))

	clk.Add(snapshotEvery)

	require.Eventually(t, func() bool {
		_, a := local.Get("http.requests")
		_, b := local.Get("cpu.load")
		return a && b
	}, time.Second, 5*time.Millisecond)

	r, _ := local.Get("http.requests")
	assert.Equal(t, float64(3), r.Value)
	assert.Equal(t, metrics.KindCounter, r.Kind)
	assert.WithinDuration(t, collectorEpoch.Add(snapshotEvery), r.Timestamp, 0)

	g, _ := local.Get("cpu.load")
	assert.Equal(t, 0.5, g.Value)
	v, ok := g.Tags.Get("host")
	require.True(t, ok)
	assert.Equal(t, "web-1", v)
}

func TestCollectorIdleCounterEmitsNothing(t *testing.T) {
	c, local, clk := newLocalCollector(t)

	requests, err := GetMetric(c, "http.requests", "requests", "Requests served", counterFactory(nil))
	require.NoError(t, err)
	require.NoError(t, requests.Add(2))

	clk.Add(snapshotEvery)
	require.Eventually(t, func() bool {
		_, ok := local.Get("http.requests")
		return ok
	}, time.Second, 5*time.Millisecond)

	// An idle window leaves the previous reading in place.
	clk.Add(snapshotEvery)
	time.Sleep(20 * time.Millisecond)
	r, ok := local.Get("http.requests")
	require.True(t, ok)
	assert.Equal(t, float64(2), r.Value)
	assert.WithinDuration(t, collectorEpoch.Add(snapshotEvery), r.Timestamp, 0)
}

func TestCollectorAppliesPrefix(t *testing.T) {
	c, local, clk := newPrefixedCollector(t, "svc.")

	requests, err := GetMetric(c, "http.requests", "requests", "Requests served", counterFactory(nil))
	require.NoError(t, err)
	require.NoError(t, requests.Increment())

	clk.Add(snapshotEvery)
	require.Eventually(t, func() bool {
		_, ok := local.Get("svc.http.requests")
		return ok
	}, time.Second, 5*time.Millisecond)
}

func TestCollectorSerializationHooks(t *testing.T) {
	var mu sync.Mutex
	var order []string
	hook := func(name string) func() {
		return func() {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
		}
	}

	local := endpoint.NewLocalHandler()
	_, clk := newTestCollector(t, Options{
		Endpoints:           []Endpoint{{Name: "local", Handler: local}},
		BeforeSerialization: hook("before"),
		AfterSerialization:  hook("after"),
	})

	clk.Add(snapshotEvery)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) >= 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"before", "after"}, order[:2])
}

func TestCollectorHookPanicContained(t *testing.T) {
	local := endpoint.NewLocalHandler()
	c, clk := newTestCollector(t, Options{
		Endpoints:           []Endpoint{{Name: "local", Handler: local}},
		BeforeSerialization: func() { panic("bad hook") },
	})

	requests, err := GetMetric(c, "http.requests", "requests", "Requests served", counterFactory(nil))
	require.NoError(t, err)
	require.NoError(t, requests.Increment())

	clk.Add(snapshotEvery)
	require.Eventually(t, func() bool {
		_, ok := local.Get("http.requests")
		return ok
	}, time.Second, 5*time.Millisecond)
}

func TestCollectorAfterSendAndDropAccounting(t *testing.T) {
	fatal := &endpoint.TransportError{StatusCode: 400, Body: "bad payload"}
	h := &recordingHandler{scripted: []error{fatal}}
	exceptions := &errorLog{}

	var mu sync.Mutex
	var infos []endpoint.AfterSendInfo

	c, clk := newTestCollector(t, Options{
		Endpoints:        []Endpoint{{Name: "rec", Handler: h}},
		ExceptionHandler: exceptions.handle,
		AfterSend: func(info endpoint.AfterSendInfo) {
			mu.Lock()
			defer mu.Unlock()
			infos = append(infos, info)
		},
	})

	requests, err := GetMetric(c, "http.requests", "requests", "Requests served", counterFactory(nil))
	require.NoError(t, err)
	require.NoError(t, requests.Add(5))

	clk.Add(snapshotEvery)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(infos) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	first := infos[0]
	mu.Unlock()
	assert.Equal(t, "rec", first.Endpoint)
	assert.Equal(t, 0, first.PayloadCount)
	assert.Equal(t, 1, first.DroppedPayloads)
	assert.NoError(t, first.Err)
	assert.Equal(t, []string{"http.requests=5"}, h.sent())

	var transportErr *endpoint.TransportError
	errs := exceptions.all()
	require.Len(t, errs, 1)
	require.ErrorAs(t, errs[0], &transportErr)

	// The drop is fed back through the collector's own counter and shows up
	// in the next window.
	clk.Add(snapshotEvery)
	require.Eventually(t, func() bool {
		return len(h.sent()) == 2
	}, time.Second, 5*time.Millisecond)

	sent := h.sent()
	assert.Equal(t, "stackship.dropped_payloads=1", sent[1])

	mu.Lock()
	second := infos[1]
	mu.Unlock()
	assert.Equal(t, 1, second.PayloadCount)
	assert.Equal(t, 1, second.MetricsWritten)
	assert.Equal(t, 0, second.DroppedPayloads)
}

func TestCollectorThrowOnQueueFull(t *testing.T) {
	h := &recordingHandler{}
	exceptions := &errorLog{}

	c, clk := newTestCollector(t, Options{
		Endpoints:        []Endpoint{{Name: "rec", Handler: h}},
		ExceptionHandler: exceptions.handle,
		ThrowOnQueueFull: true,
		MaxPayloadSize:   96,
		MaxPayloadCount:  1,
	})

	wide := strings.Repeat("x", 57)
	first, err := GetMetric(c, "m1_"+wide, "events", "First wide metric", counterFactory(nil))
	require.NoError(t, err)
	second, err := GetMetric(c, "m2_"+wide, "events", "Second wide metric", counterFactory(nil))
	require.NoError(t, err)

	require.NoError(t, first.Add(7))
	require.NoError(t, second.Add(9))

	clk.Add(snapshotEvery)
	require.Eventually(t, func() bool {
		return len(exceptions.all()) > 0
	}, time.Second, 5*time.Millisecond)

	var full *payload.QueueFullError
	require.ErrorAs(t, exceptions.all()[0], &full)
	assert.Equal(t, 1, full.Dropped)

	require.Eventually(t, func() bool {
		return len(h.sent()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "m2_"+wide+"=9", h.sent()[0])
}

func TestCollectorMetadataLoop(t *testing.T) {
	local := endpoint.NewLocalHandler()
	c, clk := newTestCollector(t, Options{
		Endpoints:        []Endpoint{{Name: "local", Handler: local}},
		MetadataInterval: 30 * time.Second,
	})

	_, err := GetMetric(c, "http.requests", "requests", "Requests served", counterFactory(nil))
	require.NoError(t, err)
	_, err = GetMetric(c, "request.latency", "milliseconds", "Time to first byte",
		func() (*metrics.AggregateGauge, error) {
			return metrics.NewAggregateGauge(nil, metrics.AggregateMin, metrics.AggregateMax)
		})
	require.NoError(t, err)

	clk.Add(30 * time.Second)
	require.Eventually(t, func() bool {
		return len(local.Metadata()) > 0
	}, time.Second, 5*time.Millisecond)

	defs := local.Metadata()
	assert.Len(t, defs, 4)

	d, ok := findDef(defs, "http.requests")
	require.True(t, ok)
	assert.Equal(t, "requests", d.Unit)
	assert.Equal(t, "Requests served", d.Description)
	assert.Equal(t, metrics.KindCounter, d.Kind)

	d, ok = findDef(defs, "request.latency_min")
	require.True(t, ok)
	assert.Equal(t, "request.latency", d.Name)
	assert.Equal(t, "_min", d.Suffix)
	assert.Equal(t, "Time to first byte (min)", d.Description)
	assert.Equal(t, metrics.KindGauge, d.Kind)

	_, ok = findDef(defs, "request.latency_max")
	assert.True(t, ok)

	_, ok = findDef(defs, droppedPayloadsMetric)
	assert.True(t, ok)
}

func TestCollectorShutdownFlushesPending(t *testing.T) {
	c, local, _ := newLocalCollector(t)

	requests, err := GetMetric(c, "http.requests", "requests", "Requests served", counterFactory(nil))
	require.NoError(t, err)
	require.NoError(t, requests.Add(4))

	require.NoError(t, c.Shutdown(context.Background()))

	r, ok := local.Get("http.requests")
	require.True(t, ok)
	assert.Equal(t, float64(4), r.Value)

	require.ErrorIs(t, requests.Add(1), metrics.ErrClosed)
	assert.NoError(t, c.Shutdown(context.Background()))
}

func TestCollectorShutdownAbortsOnDeadTransport(t *testing.T) {
	h := &recordingHandler{alwaysErr: &endpoint.TransportError{StatusCode: 503, Transient: true}}
	c, _ := newTestCollector(t, Options{Endpoints: []Endpoint{{Name: "rec", Handler: h}}})

	requests, err := GetMetric(c, "http.requests", "requests", "Requests served", counterFactory(nil))
	require.NoError(t, err)
	require.NoError(t, requests.Increment())

	err = c.Shutdown(context.Background())
	require.Error(t, err)

	var aborted *ShutdownAbortedError
	require.ErrorAs(t, err, &aborted)
	assert.Equal(t, "rec", aborted.Endpoint)
	assert.Equal(t, 1, aborted.Dropped)
	assert.True(t, h.isClosed())

	// Repeated shutdowns return the first result.
	assert.Equal(t, err, c.Shutdown(context.Background()))
}

func TestCollectorValidatesOptions(t *testing.T) {
	clk := clock.NewMock()
	clk.Set(collectorEpoch)
	base := func() Options {
		return Options{Clock: clk, DefaultTags: map[string]string{}}
	}

	_, err := New(base())
	assert.ErrorContains(t, err, "at least one endpoint")

	opts := base()
	opts.Endpoints = []Endpoint{{Name: "rec"}}
	_, err = New(opts)
	assert.ErrorContains(t, err, "no handler")

	opts = base()
	opts.Endpoints = []Endpoint{{Name: "bad name", Handler: endpoint.NewLocalHandler()}}
	_, err = New(opts)
	assert.ErrorContains(t, err, "not usable as a tag value")

	opts = base()
	opts.Endpoints = []Endpoint{
		{Name: "local", Handler: endpoint.NewLocalHandler()},
		{Name: "local", Handler: endpoint.NewLocalHandler()},
	}
	_, err = New(opts)
	assert.ErrorContains(t, err, "duplicate endpoint name")
}

func TestCollectorHostDefaultTag(t *testing.T) {
	host, err := os.Hostname()
	if err != nil || !tagset.ValidToken(host) {
		t.Skip("host name not usable as a tag value")
	}

	clk := clock.NewMock()
	clk.Set(collectorEpoch)
	c, err := New(Options{
		Endpoints: []Endpoint{{Name: "local", Handler: endpoint.NewLocalHandler()}},
		Clock:     clk,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Shutdown(context.Background()) })

	m, err := GetMetric(c, "http.requests", "requests", "Requests served", counterFactory(nil))
	require.NoError(t, err)
	v, ok := m.Tags().Get("host")
	require.True(t, ok)
	assert.Equal(t, host, v)
}
