// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
)

// MaxLineSize bounds a single buffered line. Longer lines are dropped.
const MaxLineSize = 1 << 20

// ErrNoSentinel is returned by Scan when the stream ends before [DONE].
var ErrNoSentinel = errors.New("stream ended without completion sentinel")

// =============================================================================
// EVENTS
// =============================================================================

// EventKind classifies a decoded event.
type EventKind int

const (
	EventDelta EventKind = iota
	EventError
	EventDone
)

func (k EventKind) String() string {
	switch k {
	case EventDelta:
		return "delta"
	case EventError:
		return "error"
	case EventDone:
		return "done"
	default:
		return "unknown"
	}
}

// Event is one decoded frame.
type Event struct {
	Kind EventKind
	// Text is the delta for EventDelta and the message for EventError.
	Text string
}

// =============================================================================
// FOLD
// =============================================================================

// DecoderState is the carry between Decode calls. The zero value is a
// fresh decoder.
type DecoderState struct {
	partial    []byte
	done       bool
	discarding bool
}

// Done reports whether the sentinel has been seen.
func (s DecoderState) Done() bool { return s.done }

// Pending returns the number of buffered bytes of the incomplete line.
func (s DecoderState) Pending() int { return len(s.partial) }

// Decode folds chunk into st and returns the new state with the events
// completed by it. st is not modified.
func Decode(st DecoderState, chunk []byte) (DecoderState, []Event) {
	if st.done {
		return st, nil
	}

	var events []Event
	buf := make([]byte, 0, len(st.partial)+len(chunk))
	buf = append(buf, st.partial...)
	buf = append(buf, chunk...)

	next := DecoderState{discarding: st.discarding}
	for {
		i := bytes.IndexByte(buf, '\n')
		if i < 0 {
			break
		}
		line := buf[:i]
		buf = buf[i+1:]

		if next.discarding {
			// Tail of an oversized line.
			next.discarding = false
			continue
		}
		ev, ok := parseLine(line)
		if !ok {
			continue
		}
		events = append(events, ev)
		if ev.Kind == EventDone {
			next.done = true
			return next, events
		}
	}

	if len(buf) > MaxLineSize {
		next.discarding = true
		buf = nil
	}
	if len(buf) > 0 {
		next.partial = append([]byte(nil), buf...)
	}
	return next, events
}

type payload struct {
	Text  *string `json:"text"`
	Error *string `json:"error"`
}

// parseLine turns one complete line into an event. ok is false for lines
// that carry nothing.
func parseLine(line []byte) (Event, bool) {
	line = bytes.TrimSuffix(line, []byte("\r"))
	data, found := bytes.CutPrefix(line, []byte("data:"))
	if !found {
		return Event{}, false
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return Event{}, false
	}
	if string(data) == Sentinel {
		return Event{Kind: EventDone}, true
	}

	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Event{}, false
	}
	if p.Error != nil {
		msg := *p.Error
		if msg == "" {
			msg = "stream failed"
		}
		return Event{Kind: EventError, Text: msg}, true
	}
	if p.Text != nil && *p.Text != "" {
		return Event{Kind: EventDelta, Text: *p.Text}, true
	}
	return Event{}, false
}

// =============================================================================
// DECODER
// =============================================================================

// Decoder is a stateful convenience wrapper around Decode.
type Decoder struct {
	state DecoderState
}

// Feed decodes the next chunk.
func (d *Decoder) Feed(chunk []byte) []Event {
	var events []Event
	d.state, events = Decode(d.state, chunk)
	return events
}

// Done reports whether the sentinel has been seen.
func (d *Decoder) Done() bool { return d.state.done }

// Reset returns the decoder to its initial state.
func (d *Decoder) Reset() { d.state = DecoderState{} }

// Scan reads r to the end, calling handle for every event. It stops early
// when handle returns false or the sentinel arrives. A stream that ends
// before the sentinel returns ErrNoSentinel.
func Scan(r io.Reader, handle func(Event) bool) error {
	var d Decoder
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			for _, ev := range d.Feed(buf[:n]) {
				if !handle(ev) {
					return nil
				}
			}
			if d.Done() {
				return nil
			}
		}
		if errors.Is(err, io.EOF) {
			return ErrNoSentinel
		}
		if err != nil {
			return err
		}
	}
}
