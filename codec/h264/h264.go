/*
NAME
  h264.go

DESCRIPTION
  h264.go provides helpers for working with raw H.264 NAL units; NAL unit
  type extraction and Annex-B start-code prefixing.

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

// Package h264 provides functionality for handling raw H.264 NAL units
// as delivered by a demultiplexed camera stream.
package h264

// NAL unit type codes.
// See http://www.itu.int/rec/dologin_pub.asp?lang=e&id=T-REC-H.264-200305-S!!PDF-E&type=items
// Table 7-1 NAL unit type codes.
const (
	NALNonIDR = 1 // Coded slice of a non-IDR picture.
	NALIDR    = 5 // Coded slice of an IDR picture.
	NALSEI    = 6 // Supplemental enhancement information.
	NALSPS    = 7 // Sequence parameter set.
	NALPPS    = 8 // Picture parameter set.
	NALAUD    = 9 // Access unit delimiter.
)

// StartCode is the 4-byte Annex-B NAL unit start code.
var StartCode = []byte{0x00, 0x00, 0x00, 0x01}

// NALType returns the NAL unit type of the raw NAL unit n, i.e. the low 5
// bits of the first byte. A negative value is returned if n is empty.
func NALType(n []byte) int {
	if len(n) == 0 {
		return -1
	}
	return int(n[0] & 0x1f)
}

// AnnexB returns a copy of the raw NAL unit n prefixed with the 4-byte
// Annex-B start code.
func AnnexB(n []byte) []byte {
	b := make([]byte, 0, len(StartCode)+len(n))
	b = append(b, StartCode...)
	return append(b, n...)
}
