/*
NAME
  snapshot.go

DESCRIPTION
  snapshot.go provides still image extraction from the pre-roll buffer. The
  most recent buffered keyframe sequence is fed as an H.264 elementary
  stream to an external conversion command, whose output is the image.

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
	"bytes"
	"os/exec"

	"github.com/n0rt0nthec4t/Nest-accfactory-sub001/codec/h264"
)

// defaultSnapshotCommand returns the default image conversion command:
// ffmpeg decoding one frame of an H.264 elementary stream from stdin to a
// JPEG on stdout.
func defaultSnapshotCommand() []string {
	return []string{
		"ffmpeg",
		"-hide_banner", "-loglevel", "quiet",
		"-f", "h264", "-i", "pipe:0",
		"-frames:v", "1",
		"-f", "image2", "pipe:1",
	}
}

// Snapshot extracts a still image from the most recent buffered keyframe
// sequence. An empty result with nil error means no usable sequence is
// buffered or the conversion failed; callers fall back to a stock image.
func (s *Streamer) Snapshot() ([]byte, error) {
	s.mu.Lock()
	seed := s.buf.snapshotSeed()
	s.mu.Unlock()
	if seed == nil {
		return nil, nil
	}

	var in bytes.Buffer
	for _, u := range seed {
		in.Write(h264.AnnexB(u))
	}

	cmd := exec.Command(s.cfg.SnapshotCommand[0], s.cfg.SnapshotCommand[1:]...)
	cmd.Stdin = &in
	out, err := cmd.Output()
	if err != nil {
		s.log.Warning(pkg+"snapshot conversion failed", "error", err.Error())
		return nil, nil
	}
	return out, nil
}
