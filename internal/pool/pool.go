// Package pool provides sync.Pool-backed object reuse for Provara's hot
// paths: constructing events during append, and encoding NDJSON event
// lines when the vault appends to or rewrites its event log.
// It is adapted from the teacher's internal/pool package, generalized
// from the single flat proxy event record to Provara's event.Event.
package pool

import (
	"bytes"
	"sync"
	"sync/atomic"

	"github.com/provara/provara/internal/assert"
	"github.com/provara/provara/internal/event"
)

// Metrics tracks pool performance with hit/miss counters for events and
// buffers. Higher hit rates indicate better memory reuse during bulk
// ingest and sync.
type Metrics struct {
	EventHits    uint64
	EventMisses  uint64
	BufferHits   uint64
	BufferMisses uint64
}

var globalMetrics Metrics

const maxPayloadFields = 256

// GetMetrics returns a snapshot of current pool metrics. Safe for
// concurrent access.
func GetMetrics() Metrics {
	return Metrics{
		EventHits:    atomic.LoadUint64(&globalMetrics.EventHits),
		EventMisses:  atomic.LoadUint64(&globalMetrics.EventMisses),
		BufferHits:   atomic.LoadUint64(&globalMetrics.BufferHits),
		BufferMisses: atomic.LoadUint64(&globalMetrics.BufferMisses),
	}
}

var eventPool = sync.Pool{
	New: func() interface{} {
		atomic.AddUint64(&globalMetrics.EventMisses, 1)
		return &event.Event{
			Payload: make(map[string]interface{}, 8),
		}
	},
}

// GetEvent acquires a zeroed event.Event from the pool, pre-allocated
// with a Payload map, for use while building a batch of events to
// append. Callers must call PutEvent once the event has been either
// signed onto the log or discarded.
func GetEvent() *event.Event {
	if err := assert.Check(eventPool.New != nil, "eventPool.New must be defined"); err != nil {
		return &event.Event{}
	}
	e := eventPool.Get().(*event.Event)
	atomic.AddUint64(&globalMetrics.EventHits, 1)
	return e
}

// PutEvent clears e's fields and returns it to the pool. Safe to call
// with nil. Events whose Payload grew unusually large are dropped
// rather than pooled, to bound pooled memory.
func PutEvent(e *event.Event) {
	if e == nil {
		return
	}
	e.EventID = ""
	e.Type = ""
	e.Actor = ""
	e.ActorKeyID = ""
	e.TsLogical = nil
	e.TimestampUTC = ""
	e.PrevEventHash = nil
	e.Namespace = ""
	e.Sig = ""

	if err := assert.Check(len(e.Payload) <= maxPayloadFields, "payload map too large: %d", len(e.Payload)); err != nil {
		return
	}
	for i := 0; i < maxPayloadFields; i++ {
		key := ""
		found := false
		for k := range e.Payload {
			key = k
			found = true
			break
		}
		if !found {
			break
		}
		delete(e.Payload, key)
	}

	eventPool.Put(e)
}

var bufferPool = sync.Pool{
	New: func() interface{} {
		atomic.AddUint64(&globalMetrics.BufferMisses, 1)
		return bytes.NewBuffer(make([]byte, 0, 4096))
	},
}

const maxBufferSize = 1024 * 1024 // 1MB limit for pooling

// GetBuffer acquires a bytes.Buffer from the pool, used by the vault to
// encode NDJSON event lines without a fresh allocation per event.
func GetBuffer() *bytes.Buffer {
	if err := assert.Check(bufferPool.New != nil, "bufferPool.New must be defined"); err != nil {
		return bytes.NewBuffer(nil)
	}
	atomic.AddUint64(&globalMetrics.BufferHits, 1)
	return bufferPool.Get().(*bytes.Buffer)
}

// PutBuffer resets b and returns it to the pool. Safe to call with
// nil. Buffers that grew past maxBufferSize are dropped rather than
// pooled, to bound pooled memory.
func PutBuffer(b *bytes.Buffer) {
	if b == nil {
		return
	}
	if b.Cap() > maxBufferSize {
		return
	}
	if err := assert.Check(b.Cap() <= maxBufferSize*2, "buffer grew dangerously large: cap=%d", b.Cap()); err != nil {
		return
	}
	b.Reset()
	bufferPool.Put(b)
}
