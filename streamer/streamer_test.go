/*
NAME
  streamer_test.go

DESCRIPTION
  streamer_test.go provides testing for the Streamer lifecycle in
  streamer.go, placeholder synthesis, talkback forwarding and snapshot
  extraction, using a fake protocol client.

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
	"io"
	"sync"
	"testing"
	"time"

	"github.com/n0rt0nthec4t/Nest-accfactory-sub001/codec/h264"
	"github.com/n0rt0nthec4t/Nest-accfactory-sub001/protocol/nexus"
)

// fakeClient is a protocolClient recording calls for inspection.
type fakeClient struct {
	mu        sync.Mutex
	connected bool
	connects  int
	playbacks int
	stops     int
	closes    int
	talkback  [][]byte
	ends      int
	tokens    []string
}

func (c *fakeClient) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = true
	c.connects++
	return nil
}

func (c *fakeClient) Close(sendStop bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	c.closes++
	return nil
}

func (c *fakeClient) StartPlayback() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.playbacks++
	return nil
}

func (c *fakeClient) StopPlayback() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stops++
	return nil
}

func (c *fakeClient) SendTalkback(p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.talkback = append(c.talkback, append([]byte(nil), p...))
	return nil
}

func (c *fakeClient) EndTalkback() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ends++
	return nil
}

func (c *fakeClient) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) UpdateToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens = append(c.tokens, token)
}

func (c *fakeClient) setConnected(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = v
}

func (c *fakeClient) counts() (connects, playbacks, stops, closes int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connects, c.playbacks, c.stops, c.closes
}

// waitFor polls cond until true or the timeout lapses.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal(msg)
}

func TestLifecycle(t *testing.T) {
	s, fc := newTestStreamer(t, onlineConfig())

	// First attachment connects and starts playback.
	var sink safeBuf
	id1, err := s.AttachLive(&sink, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	connects, playbacks, _, closes := fc.counts()
	if connects != 1 || playbacks != 1 {
		t.Fatalf("first attach: got %d connects and %d playbacks, want 1 and 1", connects, playbacks)
	}

	// A second attachment reuses the open connection.
	id2, err := s.AttachRecord(&sink, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	connects, _, _, _ = fc.counts()
	if connects != 1 {
		t.Errorf("second attach dialed again: got %d connects", connects)
	}

	// Detaching one consumer leaves the connection up.
	err = s.Detach(id2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, _, _, closes = fc.counts()
	if closes != 0 {
		t.Errorf("connection closed with a consumer still attached")
	}

	// Detaching the last consumer tears the connection down.
	err = s.Detach(id1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, _, _, closes = fc.counts()
	if closes != 1 {
		t.Errorf("connection not closed after last detach: got %d closes", closes)
	}

	// Buffering alone holds the connection up too.
	s.StartBuffering()
	connects, _, _, _ = fc.counts()
	if connects != 2 {
		t.Errorf("buffering did not connect: got %d connects", connects)
	}
	s.StopBuffering()
	_, _, _, closes = fc.counts()
	if closes != 2 {
		t.Errorf("connection not closed after buffering stopped: got %d closes", closes)
	}
}

func TestOfflineCameraNotDialed(t *testing.T) {
	s, fc := newTestStreamer(t, Config{Online: false, StreamingEnabled: true})

	var sink safeBuf
	_, err := s.AttachLive(&sink, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	connects, _, _, _ := fc.counts()
	if connects != 0 {
		t.Errorf("offline camera was dialed: got %d connects", connects)
	}

	// Coming online with a consumer attached connects.
	s.SetOnline(true)
	connects, playbacks, _, _ := fc.counts()
	if connects != 1 || playbacks != 1 {
		t.Errorf("camera coming online did not start the stream: got %d connects and %d playbacks", connects, playbacks)
	}
}

func TestStreamingDisabled(t *testing.T) {
	s, fc := newTestStreamer(t, onlineConfig())

	var sink safeBuf
	_, err := s.AttachLive(&sink, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s.SetStreamingEnabled(false)
	_, _, stops, _ := fc.counts()
	if stops != 1 {
		t.Errorf("disabling streaming did not stop playback: got %d stops", stops)
	}

	s.SetStreamingEnabled(true)
	_, playbacks, _, _ := fc.counts()
	if playbacks != 2 {
		t.Errorf("re-enabling streaming did not restart playback: got %d playbacks", playbacks)
	}
}

func TestOfflinePlaceholder(t *testing.T) {
	cfg := Config{
		Online:              false,
		StreamingEnabled:    true,
		PlaceholderInterval: 2 * time.Millisecond,
	}
	s, _ := newTestStreamer(t, cfg)

	var video, audio safeBuf
	_, err := s.AttachLive(&video, &audio, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	waitFor(t, func() bool { return len(video.Bytes()) > 0 && len(audio.Bytes()) > 0 },
		"timed out waiting for placeholder frames")

	// The synthesized frame leads with an SPS, so the consumer aligns on the
	// first one and receives it with a start code.
	want := h264.AnnexB(s.cfg.OfflineFrame)
	got := video.Bytes()[:len(want)]
	if !bytes.Equal(got, want) {
		t.Errorf("unexpected placeholder video: got %v, want %v", got, want)
	}
	if !bytes.Equal(audio.Bytes()[:len(silentAAC)], silentAAC) {
		t.Errorf("unexpected placeholder audio")
	}
}

func TestPlaceholderIdleWithoutConsumers(t *testing.T) {
	cfg := Config{
		Online:              false,
		StreamingEnabled:    true,
		PlaceholderInterval: 2 * time.Millisecond,
	}
	s, _ := newTestStreamer(t, cfg)

	// With no consumers and no buffering the loop must not populate the
	// buffer or do any other work.
	time.Sleep(20 * time.Millisecond)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buf.len() != 0 {
		t.Errorf("placeholder loop ran while inactive: %d buffered units", s.buf.len())
	}
}

func TestTalkback(t *testing.T) {
	cfg := onlineConfig()
	cfg.TalkbackTimeout = 20 * time.Millisecond
	s, fc := newTestStreamer(t, cfg)
	fc.setConnected(true)

	pr, pw := io.Pipe()
	defer pw.Close()
	var video safeBuf
	id, err := s.AttachLive(&video, nil, pr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	chunk := []byte{0x01, 0x02, 0x03}
	_, err = pw.Write(chunk)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	waitFor(t, func() bool {
		fc.mu.Lock()
		defer fc.mu.Unlock()
		return len(fc.talkback) == 1
	}, "timed out waiting for talkback forwarding")

	fc.mu.Lock()
	got := fc.talkback[0]
	fc.mu.Unlock()
	if !bytes.Equal(got, chunk) {
		t.Errorf("unexpected talkback chunk: got %v, want %v", got, chunk)
	}

	// Inactivity ends the utterance.
	waitFor(t, func() bool {
		fc.mu.Lock()
		defer fc.mu.Unlock()
		return fc.ends == 1
	}, "timed out waiting for end of utterance")

	// A later chunk starts a new utterance.
	_, err = pw.Write(chunk)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitFor(t, func() bool {
		fc.mu.Lock()
		defer fc.mu.Unlock()
		return len(fc.talkback) == 2
	}, "timed out waiting for second utterance")

	err = s.Detach(id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSnapshot(t *testing.T) {
	cfg := onlineConfig()
	// cat echoes the seed stream back, standing in for the image converter.
	cfg.SnapshotCommand = []string{"cat"}
	s, fc := newTestStreamer(t, cfg)
	fc.setConnected(true)

	// Nothing buffered yet; the snapshot degrades to empty.
	img, err := s.Snapshot()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if img != nil {
		t.Errorf("got snapshot from empty buffer: %v", img)
	}

	s.StartBuffering()
	s.Route(nexus.KindVideo, testSPS)
	s.Route(nexus.KindVideo, testPPS)
	s.Route(nexus.KindVideo, testIDR)

	img, err = s.Snapshot()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var want []byte
	for _, u := range [][]byte{testSPS, testPPS, testIDR} {
		want = append(want, h264.AnnexB(u)...)
	}
	if !bytes.Equal(img, want) {
		t.Errorf("unexpected snapshot seed stream: got %v, want %v", img, want)
	}
}

func TestUpdateToken(t *testing.T) {
	s, fc := newTestStreamer(t, onlineConfig())
	s.UpdateToken("fresh-token")
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if len(fc.tokens) != 1 || fc.tokens[0] != "fresh-token" {
		t.Errorf("token not passed through: %v", fc.tokens)
	}
}

func TestCloseIdempotent(t *testing.T) {
	s, fc := newTestStreamer(t, onlineConfig())
	var sink safeBuf
	_, err := s.AttachLive(&sink, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err = s.Close()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err = s.Close()
	if err != nil {
		t.Fatalf("unexpected error on repeated close: %v", err)
	}
	_, _, _, closes := fc.counts()
	if closes != 1 {
		t.Errorf("unexpected close count: got %d, want 1", closes)
	}

	// A closed streamer refuses new consumers.
	_, err = s.AttachLive(&sink, nil, nil)
	if err == nil {
		t.Error("attach succeeded on closed streamer")
	}
}
