/*
NAME
  router_test.go

DESCRIPTION
  router_test.go provides testing for the fan-out router in router.go:
  keyframe alignment, pre-roll flushing and delivery framing.

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
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/n0rt0nthec4t/Nest-accfactory-sub001/codec/h264"
	"github.com/n0rt0nthec4t/Nest-accfactory-sub001/protocol/nexus"
)

// safeBuf is a bytes.Buffer safe for concurrent use.
type safeBuf struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *safeBuf) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *safeBuf) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.b.Bytes()...)
}

func newTestStreamer(t *testing.T, cfg Config) (*Streamer, *fakeClient) {
	fc := &fakeClient{}
	cfg.Logger = (*testLogger)(t)
	if cfg.PlaceholderInterval == 0 {
		// Keep the placeholder loop quiet unless a test wants it.
		cfg.PlaceholderInterval = time.Hour
	}
	s, err := New(cfg, withClient(fc))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, fc
}

func onlineConfig() Config {
	return Config{Online: true, StreamingEnabled: true}
}

func TestAlignmentOnSPS(t *testing.T) {
	s, fc := newTestStreamer(t, onlineConfig())
	fc.setConnected(true)

	var video, audio safeBuf
	_, err := s.AttachLive(&video, &audio, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Units before the SPS must not be delivered.
	s.Route(nexus.KindVideo, testIDR)
	s.Route(nexus.KindAudio, testAAC)
	if len(video.Bytes()) != 0 || len(audio.Bytes()) != 0 {
		t.Fatal("got delivery before alignment")
	}

	// The SPS aligns the consumer; everything from here flows.
	s.Route(nexus.KindVideo, testSPS)
	s.Route(nexus.KindVideo, testPPS)
	s.Route(nexus.KindAudio, testAAC)

	wantVideo := append(h264.AnnexB(testSPS), h264.AnnexB(testPPS)...)
	if !bytes.Equal(video.Bytes(), wantVideo) {
		t.Errorf("unexpected video delivery: got %v, want %v", video.Bytes(), wantVideo)
	}
	// Audio passes through verbatim, with no start code.
	if !bytes.Equal(audio.Bytes(), testAAC) {
		t.Errorf("unexpected audio delivery: got %v, want %v", audio.Bytes(), testAAC)
	}
}

func TestPrerollFlush(t *testing.T) {
	s, fc := newTestStreamer(t, onlineConfig())
	fc.setConnected(true)

	s.StartBuffering()
	s.Route(nexus.KindVideo, testIDR) // Before the SPS; skipped on replay.
	s.Route(nexus.KindVideo, testSPS)
	s.Route(nexus.KindVideo, testPPS)
	s.Route(nexus.KindAudio, testAAC)

	var video, audio safeBuf
	_, err := s.AttachRecord(&video, &audio)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(video.Bytes()) != 0 {
		t.Fatal("got delivery before the next routed unit")
	}

	// The next unit triggers the replay: buffered pre-roll from the SPS,
	// then the unit itself.
	next := []byte{0x41, 0x9a}
	s.Route(nexus.KindVideo, next)

	var wantVideo []byte
	for _, u := range [][]byte{testSPS, testPPS, next} {
		wantVideo = append(wantVideo, h264.AnnexB(u)...)
	}
	if !bytes.Equal(video.Bytes(), wantVideo) {
		t.Errorf("unexpected video delivery: got %v, want %v", video.Bytes(), wantVideo)
	}
	if !bytes.Equal(audio.Bytes(), testAAC) {
		t.Errorf("unexpected audio delivery: got %v, want %v", audio.Bytes(), testAAC)
	}

	// The flush happens exactly once; further units flow normally.
	s.Route(nexus.KindVideo, next)
	wantVideo = append(wantVideo, h264.AnnexB(next)...)
	if !bytes.Equal(video.Bytes(), wantVideo) {
		t.Errorf("pre-roll was replayed more than once: got %v, want %v", video.Bytes(), wantVideo)
	}
}

func TestInvalidateClearsBuffer(t *testing.T) {
	s, fc := newTestStreamer(t, onlineConfig())
	fc.setConnected(true)

	s.StartBuffering()
	s.Route(nexus.KindVideo, testSPS)
	s.Route(nexus.KindVideo, testPPS)
	s.Route(nexus.KindVideo, testIDR)
	if s.buf.len() != 3 {
		t.Fatalf("unexpected buffer length: got %d, want 3", s.buf.len())
	}

	s.Invalidate()
	if s.buf.len() != 0 {
		t.Errorf("buffer not cleared: %d entries remain", s.buf.len())
	}
}

func TestNilWritersDiscard(t *testing.T) {
	s, fc := newTestStreamer(t, onlineConfig())
	fc.setConnected(true)

	var audio safeBuf
	_, err := s.AttachLive(nil, &audio, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s.Route(nexus.KindVideo, testSPS)
	s.Route(nexus.KindAudio, testAAC)
	if !bytes.Equal(audio.Bytes(), testAAC) {
		t.Errorf("unexpected audio delivery: got %v, want %v", audio.Bytes(), testAAC)
	}
}
