/*
NAME
  buffer.go

DESCRIPTION
  buffer.go provides a time-bounded ring buffer of decoded elementary stream
  units, used for pre-roll delivery to newly attached recording consumers and
  for snapshot seed extraction.

AUTHORS
  Saxon A. Nelson-Milton <saxon@ausocean.org>
  Trek Hopton <trek@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package streamer

import (
	"time"

	"github.com/n0rt0nthec4t/Nest-accfactory-sub001/codec/h264"
	"github.com/n0rt0nthec4t/Nest-accfactory-sub001/protocol/nexus"
)

// ringEntry is one buffered elementary stream unit.
type ringEntry struct {
	t       time.Time
	kind    nexus.MediaKind
	payload []byte
}

// ringBuffer stores elementary stream units for a sliding time window.
// Entries older than the window relative to now are evicted before each
// append. Not safe for concurrent use; the fan-out router serializes access.
type ringBuffer struct {
	window  time.Duration
	entries []ringEntry
	now     func() time.Time
}

func newRingBuffer(window time.Duration) *ringBuffer {
	return &ringBuffer{window: window, now: time.Now}
}

// append stamps the unit with the current time, evicts expired entries from
// the front and appends the unit.
func (b *ringBuffer) append(kind nexus.MediaKind, payload []byte) {
	now := b.now()
	cut := 0
	for cut < len(b.entries) && now.Sub(b.entries[cut].t) >= b.window {
		cut++
	}
	b.entries = b.entries[cut:]
	b.entries = append(b.entries, ringEntry{t: now, kind: kind, payload: payload})
}

// clear empties the buffer. Called when buffering stops and when a new
// playback epoch invalidates previously buffered content.
func (b *ringBuffer) clear() {
	b.entries = nil
}

func (b *ringBuffer) len() int {
	return len(b.entries)
}

// snapshotSeed scans backward from the most recent entry for the most recent
// video unit of SPS type. If found with at least two further entries
// immediately after it, the SPS unit and the following two units (assumed
// PPS and IDR) are returned as a seed sequence for single-image extraction.
// An empty result means no usable sequence exists.
func (b *ringBuffer) snapshotSeed() [][]byte {
	for i := len(b.entries) - 1; i >= 0; i-- {
		e := b.entries[i]
		if e.kind != nexus.KindVideo || h264.NALType(e.payload) != h264.NALSPS {
			continue
		}
		if i+2 >= len(b.entries) {
			return nil
		}
		return [][]byte{e.payload, b.entries[i+1].payload, b.entries[i+2].payload}
	}
	return nil
}
