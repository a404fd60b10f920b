/*
NAME
  h264_test.go

DESCRIPTION
  h264_test.go provides testing for h264.go.

AUTHORS
  Trek Hopton <trek@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package h264

import (
	"bytes"
	"testing"
)

func TestNALType(t *testing.T) {
	tests := []struct {
		in   []byte
		want int
	}{
		{in: []byte{0x67, 0x42, 0xc0}, want: NALSPS},
		{in: []byte{0x68, 0xcb}, want: NALPPS},
		{in: []byte{0x65, 0x88}, want: NALIDR},
		{in: []byte{0x41, 0x9a}, want: NALNonIDR},
		{in: []byte{0x06, 0x05}, want: NALSEI},
		{in: nil, want: -1},
	}
	for i, test := range tests {
		got := NALType(test.in)
		if got != test.want {
			t.Errorf("did not get expected NAL type for test %d: got %d, want %d", i, got, test.want)
		}
	}
}

func TestAnnexB(t *testing.T) {
	n := []byte{0x65, 0x88, 0x84}
	want := []byte{0x00, 0x00, 0x00, 0x01, 0x65, 0x88, 0x84}
	got := AnnexB(n)
	if !bytes.Equal(got, want) {
		t.Errorf("did not get expected result: got %v, want %v", got, want)
	}

	// The input must not be aliased by the result.
	got[4] = 0xff
	if n[0] != 0x65 {
		t.Error("AnnexB result aliases its input")
	}
}
