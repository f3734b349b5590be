package sinks

import (
	"bufio"
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"netsync/logging"
)

// Msgpack writes events as a stream of MessagePack maps. The stream is
// self-delimiting, so a reader decodes records back to back until EOF.
type Msgpack struct {
	mu        sync.Mutex
	writer    *bufio.Writer
	encoder   *msgpack.Encoder
	autoFlush bool
	stop      chan struct{}
	stopOnce  sync.Once
}

type msgpackRecord struct {
	Type     string              `msgpack:"type"`
	Tick     uint64              `msgpack:"tick"`
	UnixNano int64               `msgpack:"ts"`
	Severity string              `msgpack:"sev"`
	Category string              `msgpack:"cat,omitempty"`
	Actor    logging.EntityRef   `msgpack:"actor"`
	Targets  []logging.EntityRef `msgpack:"targets,omitempty"`
	Payload  any                 `msgpack:"payload,omitempty"`
	Extra    map[string]any      `msgpack:"extra,omitempty"`
}

// NewMsgpack constructs a sink writing to w, flushing every flushInterval.
// A non-positive interval flushes after each event.
func NewMsgpack(w io.Writer, flushInterval time.Duration) *Msgpack {
	if w == nil {
		w = io.Discard
	}
	buf := bufio.NewWriter(w)
	enc := msgpack.NewEncoder(buf)
	enc.SetCustomStructTag("json")
	enc.UseCompactInts(true)
	sink := &Msgpack{
		writer:    buf,
		encoder:   enc,
		autoFlush: flushInterval <= 0,
		stop:      make(chan struct{}),
	}
	if flushInterval > 0 {
		go sink.periodicFlush(flushInterval)
	}
	return sink
}

func (s *Msgpack) Write(event logging.Event) error {
	record := msgpackRecord{
		Type:     string(event.Type),
		Tick:     event.Tick,
		UnixNano: event.Time.UnixNano(),
		Severity: event.Severity.String(),
		Category: event.Category,
		Actor:    event.Actor,
		Targets:  event.Targets,
		Payload:  event.Payload,
		Extra:    event.Extra,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.encoder.Encode(&record); err != nil {
		return err
	}
	if s.autoFlush {
		return s.writer.Flush()
	}
	return nil
}

func (s *Msgpack) Close(context.Context) error {
	s.stopOnce.Do(func() { close(s.stop) })
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writer.Flush()
}

func (s *Msgpack) periodicFlush(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			s.writer.Flush()
			s.mu.Unlock()
		}
	}
}

// DecodedEvent is one record read back from a msgpack event log.
type DecodedEvent struct {
	Type     logging.EventType
	Tick     uint64
	Time     time.Time
	Severity string
	Category string
	Actor    logging.EntityRef
	Payload  map[string]any
	Extra    map[string]any
}

// ReadMsgpack decodes every record in r.
func ReadMsgpack(r io.Reader) ([]DecodedEvent, error) {
	dec := msgpack.NewDecoder(r)
	dec.SetCustomStructTag("json")
	var out []DecodedEvent
	for {
		var record struct {
			Type     string            `msgpack:"type"`
			Tick     uint64            `msgpack:"tick"`
			UnixNano int64             `msgpack:"ts"`
			Severity string            `msgpack:"sev"`
			Category string            `msgpack:"cat"`
			Actor    logging.EntityRef `msgpack:"actor"`
			Payload  map[string]any    `msgpack:"payload"`
			Extra    map[string]any    `msgpack:"extra"`
		}
		if err := dec.Decode(&record); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return out, err
		}
		out = append(out, DecodedEvent{
			Type:     logging.EventType(record.Type),
			Tick:     record.Tick,
			Time:     time.Unix(0, record.UnixNano),
			Severity: record.Severity,
			Category: record.Category,
			Actor:    record.Actor,
			Payload:  record.Payload,
			Extra:    record.Extra,
		})
	}
}
