/*
NAME
  frame.go

DESCRIPTION
  frame.go provides the length-prefixed frame codec for the Nexus streaming
  protocol. Standard frames carry a 3-byte header (type byte plus big-endian
  uint16 payload length); long playback packets carry a 5-byte header (type
  byte plus big-endian uint32 payload length).

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

package nexus

import (
	"encoding/binary"
	"math"
)

// Frame header sizes.
const (
	headerLen     = 3 // Type byte + uint16 length.
	longHeaderLen = 5 // Type byte + uint32 length.
)

// frame is a single protocol message as it appears on the wire.
type frame struct {
	typ     uint8
	payload []byte
}

// encodeFrame encodes a message of the given type and payload into wire
// format. The long 5-byte header is used for long playback packets and for
// any payload too large for a uint16 length field.
func encodeFrame(typ uint8, payload []byte) []byte {
	if typ == msgLongPlaybackPacket || len(payload) > math.MaxUint16 {
		b := make([]byte, longHeaderLen, longHeaderLen+len(payload))
		b[0] = msgLongPlaybackPacket
		binary.BigEndian.PutUint32(b[1:longHeaderLen], uint32(len(payload)))
		return append(b, payload...)
	}
	b := make([]byte, headerLen, headerLen+len(payload))
	b[0] = typ
	binary.BigEndian.PutUint16(b[1:headerLen], uint16(len(payload)))
	return append(b, payload...)
}

// nextFrame extracts the first complete frame from the accumulator acc,
// returning the frame, the unconsumed remainder and true. If acc does not yet
// hold a complete frame, ok is false and acc is returned unchanged; the
// caller retains it and concatenates the next read.
//
// The returned payload is a copy, so the accumulator may be reused.
func nextFrame(acc []byte) (f frame, rest []byte, ok bool) {
	if len(acc) < 1 {
		return frame{}, acc, false
	}

	hl := headerLen
	if acc[0] == msgLongPlaybackPacket {
		hl = longHeaderLen
	}
	if len(acc) < hl {
		return frame{}, acc, false
	}

	var pl int
	if hl == longHeaderLen {
		pl = int(binary.BigEndian.Uint32(acc[1:hl]))
	} else {
		pl = int(binary.BigEndian.Uint16(acc[1:hl]))
	}
	if len(acc) < hl+pl {
		return frame{}, acc, false
	}

	payload := make([]byte, pl)
	copy(payload, acc[hl:hl+pl])
	return frame{typ: acc[0], payload: payload}, acc[hl+pl:], true
}
