/*
NAME
  placeholder.go

DESCRIPTION
  placeholder.go provides synthesis of placeholder frames while no real
  media is available: camera offline, streaming disabled, or no connection.
  Canned H.264 keyframe sequences and a silent AAC frame are pushed through
  the normal fan-out path at a fixed cadence so that consumers always have a
  decodable stream.

AUTHORS
  Saxon A. Nelson-Milton <saxon@ausocean.org>

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

// Canned 640x360 H.264 parameter sets and keyframe slices for synthesized
// frames. The offline slice renders a grey card, the off slice a black one.
var (
	cannedSPS = []byte{
		0x67, 0x42, 0xc0, 0x1e, 0xd9, 0x00, 0xb4, 0x35,
		0xf9, 0xe1, 0x00, 0x00, 0x03, 0x00, 0x01, 0x00,
		0x00, 0x03, 0x00, 0x30, 0x0f, 0x16, 0x2e, 0x48,
	}
	cannedPPS = []byte{0x68, 0xcb, 0x8c, 0xb2}

	cannedOfflineIDR = []byte{
		0x65, 0x88, 0x84, 0x00, 0x33, 0xff, 0xfe, 0xf6,
		0xf0, 0xfe, 0x05, 0x36, 0x56, 0x04, 0x50, 0x96,
		0x7b, 0x3f, 0x53, 0xe1,
	}
	cannedOffIDR = []byte{
		0x65, 0x88, 0x84, 0x00, 0x33, 0xff, 0xfe, 0xf6,
		0xf0, 0xfe, 0x05, 0x36, 0x56, 0x04, 0x50, 0x96,
		0x7b, 0x3f, 0x13, 0xe1,
	}

	// silentAAC is one AAC-LC frame of silence.
	silentAAC = []byte{0x21, 0x10, 0x04, 0x60, 0x8c, 0x1c}
)

// cannedFrame assembles a self-contained keyframe from the canned parameter
// sets and the given IDR slice. The leading SPS is bare; subsequent units
// carry start codes, since delivery prepends a start code to the unit as a
// whole.
func cannedFrame(idr []byte) []byte {
	f := make([]byte, 0, len(cannedSPS)+len(cannedPPS)+len(idr)+2*len(h264.StartCode))
	f = append(f, cannedSPS...)
	f = append(f, h264.StartCode...)
	f = append(f, cannedPPS...)
	f = append(f, h264.StartCode...)
	f = append(f, idr...)
	return f
}

// placeholderLoop synthesizes frames at the configured cadence while no
// real media is available. Each tick picks the frame for the current camera
// state, or does nothing if real media should be flowing.
func (s *Streamer) placeholderLoop(stop chan struct{}) {
	ticker := time.NewTicker(s.cfg.PlaceholderInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		if !s.activeFlag.Load() {
			continue
		}

		var video []byte
		switch {
		case !s.online.Load():
			video = s.cfg.OfflineFrame
		case !s.streamingEnabled.Load():
			video = s.cfg.OffFrame
		case !s.client.Connected():
			video = s.cfg.OfflineFrame
		default:
			continue
		}

		s.Route(nexus.KindVideo, video)
		s.Route(nexus.KindAudio, silentAAC)
	}
}
