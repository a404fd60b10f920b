/*
NAME
  session.go

DESCRIPTION
  session.go provides the playback session state machine: playback start and
  stop, channel negotiation from the playback begin message, demultiplexing
  of playback packets, playback end reason handling, protocol errors and
  talkback message handling.

AUTHORS
  Saxon A. Nelson-Milton <saxon@ausocean.org>
  Dan Kortschak <dan@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package nexus

import (
	"math/rand"
	"strings"

	"github.com/pkg/errors"
)

// Talkback audio parameters.
const (
	talkbackCodec      = CodecSpeex
	talkbackSampleRate = 16000
)

// capabilityProfilePrefix prefixes quality profile names in the camera's
// advertised capability list.
const capabilityProfilePrefix = "streaming.cameraprofile."

var errNotStreamable = errors.New("camera is not online with streaming enabled")

// capabilityProfiles maps advertised profile names to profile identifiers.
var capabilityProfiles = map[string]uint64{
	"AUDIO_AAC":                       ProfileAudioAAC,
	"AUDIO_SPEEX":                     ProfileAudioSpeex,
	"AUDIO_OPUS":                      ProfileAudioOpus,
	"VIDEO_H264_50KBIT_L12":           ProfileVideoH264_50Kbit,
	"VIDEO_H264_530KBIT_L31":          ProfileVideoH264_530Kbit,
	"VIDEO_H264_100KBIT_L30":          ProfileVideoH264_100Kbit,
	"VIDEO_H264_2MBIT_L40":            ProfileVideoH264_2Mbit,
	"VIDEO_H264_50KBIT_L12_THUMBNAIL": ProfileVideoH264Thumbnail,
}

// session holds the state of one playback session. Channel ids are unbound
// (negative) until the server's playback begin message is matched by session
// id.
type session struct {
	id      uint64
	video   int64
	audio   int64
	playing bool
}

// clear resets the session to its idle state.
func (s *session) clear() {
	s.id = 0
	s.video = -1
	s.audio = -1
	s.playing = false
}

// StartPlayback generates a fresh session id and requests playback of the
// preferred profile. It is only valid while the camera is online with
// streaming enabled.
func (c *Client) StartPlayback() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startPlaybackLocked()
}

func (c *Client) startPlaybackLocked() error {
	if c.streamable != nil && !c.streamable() {
		return errNotStreamable
	}

	c.session.clear()
	for c.session.id == 0 {
		c.session.id = uint64(rand.Uint32())
	}

	req := startPlayback{
		SessionID:     c.session.id,
		Profile:       c.cfg.Profile,
		OtherProfiles: c.otherProfiles(),
	}
	c.log.Info(pkg+"requesting playback", "session", c.session.id, "profile", c.cfg.Profile)
	c.sendLocked(msgStartPlayback, encodeStartPlayback(req))
	return nil
}

// StopPlayback sends a stop playback request carrying the current session id.
func (c *Client) StopPlayback() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session.id == 0 {
		return nil
	}
	c.sendLocked(msgStopPlayback, encodeStopPlayback(c.session.id))
	c.session.playing = false
	return nil
}

// otherProfiles derives the additional acceptable profiles from the camera's
// advertised capability list, filtering out the preferred profile and adding
// an audio profile if audio is enabled.
func (c *Client) otherProfiles() []uint64 {
	var ps []uint64
	for _, capability := range c.cfg.Capabilities {
		if !strings.HasPrefix(capability, capabilityProfilePrefix) {
			continue
		}
		p, ok := capabilityProfiles[strings.TrimPrefix(capability, capabilityProfilePrefix)]
		if !ok || p == c.cfg.Profile {
			continue
		}
		ps = append(ps, p)
	}
	if c.cfg.AudioEnabled {
		ps = append(ps, ProfileAudioAAC)
	}
	return ps
}

// SendTalkback wraps one chunk of return audio into an audio payload message
// carrying the session id and sends it.
func (c *Client) SendTalkback(p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendLocked(msgAudioPayload, encodeAudioPayload(audioPayload{
		Payload:    p,
		SessionID:  c.session.id,
		Codec:      talkbackCodec,
		SampleRate: talkbackSampleRate,
	}))
	return nil
}

// EndTalkback signals end of utterance with an empty audio payload.
func (c *Client) EndTalkback() error {
	return c.SendTalkback(nil)
}

// handleFrame dispatches one received frame. It returns whether the sink's
// buffered media should be invalidated and any media units to route, which
// the caller delivers after releasing mu. Unknown message types are ignored.
// Must be called with mu held.
func (c *Client) handleFrame(f frame) (invalidate bool, pkts []packetEvent) {
	switch f.typ {
	case msgOK:
		c.log.Info(pkg + "authorized")
		c.authorized = true
		c.flushPendingLocked()

	case msgError:
		m, err := decodeError(f.payload)
		if err != nil {
			c.log.Debug(pkg+"could not decode error message", "error", err.Error())
			return false, nil
		}
		if m.Code == ErrAuthorizationFailed {
			c.authorized = false
			c.authenticateLocked(true)
			return false, nil
		}
		c.log.Warning(pkg+"server error", "code", m.Code, "message", m.Message)

	case msgPlaybackBegin:
		m, err := decodePlaybackBegin(f.payload)
		if err != nil {
			c.log.Debug(pkg+"could not decode playback begin", "error", err.Error())
			return false, nil
		}
		return c.handlePlaybackBegin(m), nil

	case msgPlaybackPacket, msgLongPlaybackPacket:
		m, err := decodePlaybackPacket(f.payload)
		if err != nil {
			c.log.Debug(pkg+"could not decode playback packet", "error", err.Error())
			return false, nil
		}
		switch int64(m.ChannelID) {
		case c.session.video:
			pkts = append(pkts, packetEvent{kind: KindVideo, payload: m.Payload})
		case c.session.audio:
			pkts = append(pkts, packetEvent{kind: KindAudio, payload: m.Payload})
		default:
			// Packets for unbound or unmatched channels are dropped.
		}
		return false, pkts

	case msgPlaybackEnd:
		m, err := decodePlaybackEnd(f.payload)
		if err != nil {
			c.log.Debug(pkg+"could not decode playback end", "error", err.Error())
			return false, nil
		}
		c.handlePlaybackEnd(m)

	case msgRedirect:
		m, err := decodeRedirect(f.payload)
		if err != nil {
			c.log.Debug(pkg+"could not decode redirect", "error", err.Error())
			return false, nil
		}
		if m.NewHost != "" {
			err := c.redirectLocked(m.NewHost)
			if err != nil {
				c.log.Warning(pkg+"could not redirect", "host", m.NewHost, "error", err.Error())
			}
		}

	case msgClockSync:
		m, err := decodeClockSync(f.payload)
		if err != nil {
			c.log.Debug(pkg+"could not decode clock sync", "error", err.Error())
			return false, nil
		}
		c.sendLocked(msgClockSyncEcho, encodeClockSync(m))

	case msgTalkbackBegin:
		c.log.Info(pkg + "talkback begin")

	case msgTalkbackEnd:
		c.log.Info(pkg + "talkback end")
	}
	return invalidate, pkts
}

// handlePlaybackBegin binds the negotiated channel ids. Messages whose
// session id does not match the current session are stale and discarded.
// A matching begin starts a new playback epoch, invalidating buffered media.
func (c *Client) handlePlaybackBegin(m playbackBegin) (invalidate bool) {
	if m.SessionID != c.session.id {
		c.log.Debug(pkg+"ignoring playback begin for stale session", "session", m.SessionID)
		return false
	}
	for _, ch := range m.Channels {
		switch ch.Codec {
		case CodecH264:
			if c.session.video < 0 {
				c.session.video = int64(ch.ID)
			}
		case CodecAAC, CodecOpus, CodecSpeex:
			if c.session.audio < 0 {
				c.session.audio = int64(ch.ID)
			}
		}
	}
	c.session.playing = true
	c.log.Info(pkg+"playback begun", "session", m.SessionID, "videoChannel", c.session.video, "audioChannel", c.session.audio)
	return true
}

// handlePlaybackEnd inspects the reason code. A normal end is silent;
// transient server-side conditions trigger a reconnection with playback
// restarted; anything else is logged and the session simply ends.
func (c *Client) handlePlaybackEnd(m playbackEnd) {
	if c.session.id != 0 && m.SessionID != c.session.id {
		c.log.Debug(pkg+"ignoring playback end for stale session", "session", m.SessionID)
		return
	}
	c.session.playing = false

	switch m.Reason {
	case ReasonUserEnded:
		c.log.Debug(pkg + "playback ended")
	case ReasonSessionComplete, ReasonTranscodeNotAvailable:
		c.log.Info(pkg+"playback ended by server, reconnecting", "reason", m.Reason)
		if c.conn != nil {
			// The close handler reconnects and restarts playback if there is
			// still activity.
			c.conn.Close()
		}
	default:
		c.log.Warning(pkg+"playback ended", "reason", m.Reason)
	}
}
