/*
NAME
  frame_test.go

DESCRIPTION
  frame_test.go provides testing for the frame codec in frame.go.

AUTHORS
  Saxon A. Nelson-Milton <saxon@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package nexus

import (
	"bytes"
	"math"
	"testing"
)

func TestEncodeFrame(t *testing.T) {
	// A standard frame has a 3-byte header.
	got := encodeFrame(msgPing, []byte{0x01, 0x02})
	want := []byte{msgPing, 0x00, 0x02, 0x01, 0x02}
	if !bytes.Equal(got, want) {
		t.Errorf("did not get expected standard frame: got %v, want %v", got, want)
	}

	// A long playback packet has a 5-byte header.
	got = encodeFrame(msgLongPlaybackPacket, []byte{0x0a})
	want = []byte{msgLongPlaybackPacket, 0x00, 0x00, 0x00, 0x01, 0x0a}
	if !bytes.Equal(got, want) {
		t.Errorf("did not get expected long frame: got %v, want %v", got, want)
	}

	// A payload too large for a uint16 length is promoted to a long
	// playback packet.
	big := make([]byte, math.MaxUint16+1)
	got = encodeFrame(msgPlaybackPacket, big)
	if got[0] != msgLongPlaybackPacket {
		t.Errorf("oversize frame was not promoted: got type %d", got[0])
	}
	if len(got) != longHeaderLen+len(big) {
		t.Errorf("unexpected oversize frame length: got %d, want %d", len(got), longHeaderLen+len(big))
	}
}

func TestNextFrame(t *testing.T) {
	f1 := encodeFrame(msgOK, nil)
	f2 := encodeFrame(msgPlaybackPacket, []byte{0x08, 0x01})
	f3 := encodeFrame(msgLongPlaybackPacket, []byte{0xde, 0xad, 0xbe, 0xef})
	acc := append(append(append([]byte{}, f1...), f2...), f3...)

	want := []frame{
		{typ: msgOK, payload: []byte{}},
		{typ: msgPlaybackPacket, payload: []byte{0x08, 0x01}},
		{typ: msgLongPlaybackPacket, payload: []byte{0xde, 0xad, 0xbe, 0xef}},
	}
	for i, w := range want {
		var f frame
		var ok bool
		f, acc, ok = nextFrame(acc)
		if !ok {
			t.Fatalf("could not extract frame %d", i)
		}
		if f.typ != w.typ || !bytes.Equal(f.payload, w.payload) {
			t.Errorf("did not get expected frame %d: got %v, want %v", i, f, w)
		}
	}
	if len(acc) != 0 {
		t.Errorf("unexpected remainder after draining: %v", acc)
	}
}

func TestNextFramePartial(t *testing.T) {
	full := encodeFrame(msgPlaybackPacket, []byte{0x01, 0x02, 0x03, 0x04})

	// Feed the frame one byte at a time; no frame should be produced until
	// the final byte arrives, and the accumulator must be returned unchanged
	// while incomplete.
	var acc []byte
	for i := 0; i < len(full)-1; i++ {
		acc = append(acc, full[i])
		_, rest, ok := nextFrame(acc)
		if ok {
			t.Fatalf("got frame from incomplete input at byte %d", i)
		}
		if !bytes.Equal(rest, acc) {
			t.Fatalf("incomplete input was consumed at byte %d", i)
		}
	}
	acc = append(acc, full[len(full)-1])
	f, rest, ok := nextFrame(acc)
	if !ok {
		t.Fatal("could not extract completed frame")
	}
	if f.typ != msgPlaybackPacket || !bytes.Equal(f.payload, []byte{0x01, 0x02, 0x03, 0x04}) {
		t.Errorf("did not get expected frame: got %v", f)
	}
	if len(rest) != 0 {
		t.Errorf("unexpected remainder: %v", rest)
	}
}
