/*
NAME
  router.go

DESCRIPTION
  router.go provides consumer attachment and the fan-out of decoded
  elementary stream units to attached consumers, with keyframe alignment,
  pre-roll flushing for recording consumers, and buffering into the ring
  buffer.

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
	"io"

	"github.com/pkg/errors"

	"github.com/n0rt0nthec4t/Nest-accfactory-sub001/codec/h264"
	"github.com/n0rt0nthec4t/Nest-accfactory-sub001/protocol/nexus"
)

// Consumer kinds.
const (
	consumerLive = iota
	consumerRecord
)

var errNoConsumer = errors.New("no consumer with given id")

// consumer is one attached destination for the media stream. A consumer
// receives nothing until alignment, that is, until a video unit of SPS type
// has been seen, so that its stream starts at a decodable point. Recording
// consumers additionally receive the buffered pre-roll before live units.
type consumer struct {
	id           int
	kind         int
	video        io.Writer
	audio        io.Writer
	talkback     *talkback
	aligned      bool
	pendingFlush bool
}

// AttachLive attaches a live consumer. Video units are written to video with
// an Annex-B start code prepended; audio units are written to audio verbatim.
// Either writer may be nil to discard that stream. If talkback is non-nil it
// is pumped for return audio until the consumer detaches. The returned id
// detaches the consumer.
func (s *Streamer) AttachLive(video, audio io.Writer, talkback io.Reader) (int, error) {
	return s.attach(consumerLive, video, audio, talkback)
}

// AttachRecord attaches a recording consumer. Before receiving live units it
// is flushed the buffered pre-roll, subject to the same alignment rule as
// live delivery.
func (s *Streamer) AttachRecord(video, audio io.Writer) (int, error) {
	return s.attach(consumerRecord, video, audio, nil)
}

func (s *Streamer) attach(kind int, video, audio io.Writer, tb io.Reader) (int, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, errClosed
	}
	id := s.nextID
	s.nextID++
	c := &consumer{
		id:           id,
		kind:         kind,
		video:        video,
		audio:        audio,
		pendingFlush: kind == consumerRecord,
	}
	if tb != nil {
		c.talkback = s.startTalkback(tb)
	}
	s.consumers = append(s.consumers, c)
	s.updateActiveLocked()
	s.startStreamLocked()
	s.mu.Unlock()

	s.log.Info(pkg+"consumer attached", "id", id, "kind", kind)
	return id, nil
}

// Detach removes the consumer with the given id, stopping its talkback pump
// if it has one. Detaching the last consumer with buffering inactive shuts
// the camera connection down.
func (s *Streamer) Detach(id int) error {
	s.mu.Lock()
	var c *consumer
	for i := range s.consumers {
		if s.consumers[i].id == id {
			c = s.consumers[i]
			s.consumers = append(s.consumers[:i], s.consumers[i+1:]...)
			break
		}
	}
	if c == nil {
		s.mu.Unlock()
		return errNoConsumer
	}
	if c.talkback != nil {
		c.talkback.stop()
	}
	s.updateActiveLocked()
	s.stopStreamLocked()
	s.mu.Unlock()

	s.log.Info(pkg+"consumer detached", "id", id)
	return nil
}

// Route implements nexus.PacketSink. Each unit is appended to the ring
// buffer if buffering is active, then fanned out to the attached consumers.
// Unaligned consumers skip units until a video SPS unit arrives.
func (s *Streamer) Route(kind nexus.MediaKind, payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.buffering {
		s.buf.append(kind, payload)
	}

	isSPS := kind == nexus.KindVideo && h264.NALType(payload) == h264.NALSPS

	for _, c := range s.consumers {
		if c.pendingFlush && s.buffering {
			s.flushPrerollLocked(c)
		}
		if !c.aligned {
			if !isSPS {
				continue
			}
			c.aligned = true
			c.pendingFlush = false
		}
		s.deliverLocked(c, kind, payload)
	}
}

// Invalidate implements nexus.PacketSink. A new playback epoch makes
// previously buffered units undecodable against the new parameter sets, so
// the ring buffer is cleared.
func (s *Streamer) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf.clear()
}

// flushPrerollLocked replays the buffered pre-roll to a recording consumer,
// oldest first, excluding the just-appended current unit which follows via
// normal delivery. Alignment applies to the replay: units before the first
// buffered SPS video unit are skipped.
func (s *Streamer) flushPrerollLocked(c *consumer) {
	entries := s.buf.entries[:s.buf.len()-1]
	for _, e := range entries {
		if !c.aligned {
			if e.kind != nexus.KindVideo || h264.NALType(e.payload) != h264.NALSPS {
				continue
			}
			c.aligned = true
		}
		s.deliverLocked(c, e.kind, e.payload)
	}
	c.pendingFlush = false
}

// deliverLocked writes one unit to a consumer. Video units gain an Annex-B
// start code; audio units pass through verbatim. Write errors are logged and
// otherwise ignored; a broken consumer is the attacher's problem to detach.
func (s *Streamer) deliverLocked(c *consumer, kind nexus.MediaKind, payload []byte) {
	var err error
	switch kind {
	case nexus.KindVideo:
		if c.video == nil {
			return
		}
		_, err = c.video.Write(h264.AnnexB(payload))
	case nexus.KindAudio:
		if c.audio == nil {
			return
		}
		_, err = c.audio.Write(payload)
	}
	if err != nil {
		s.log.Debug(pkg+"consumer write failed", "id", c.id, "error", err.Error())
	}
}
