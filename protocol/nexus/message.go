/*
NAME
  message.go

DESCRIPTION
  message.go provides the Nexus protocol message type constants, the typed
  payload records exchanged with the camera's streaming service, and their
  encoders and decoders. Payloads use the standard protocol buffer wire
  format, read and written with the protowire tagged-field primitives; each
  message has a fixed decoder producing a strongly-typed record.

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
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// Message type constants.
const (
	msgPing            = 1
	msgHello           = 100
	msgPingCamera      = 101
	msgAudioPayload    = 102
	msgStartPlayback   = 103
	msgStopPlayback    = 104
	msgClockSyncEcho   = 105
	msgLatencyMeasure  = 106
	msgTalkbackLatency = 107
	msgMetadataRequest = 108

	msgOK                 = 200
	msgError              = 201
	msgPlaybackBegin      = 202
	msgPlaybackEnd        = 203
	msgPlaybackPacket     = 204
	msgLongPlaybackPacket = 205
	msgClockSync          = 206
	msgRedirect           = 207
	msgTalkbackBegin      = 208
	msgTalkbackEnd        = 209
	msgMetadata           = 210
	msgMetadataError      = 211
	msgAuthorizeRequest   = 212
)

// Codec identifiers used in channel negotiation and talkback.
const (
	CodecSpeex = 0
	CodecPCM   = 1
	CodecH264  = 2
	CodecAAC   = 3
	CodecOpus  = 4
	CodecMeta  = 5
)

// Quality profile identifiers.
const (
	ProfileAudioAAC           = 3
	ProfileAudioSpeex         = 4
	ProfileAudioOpus          = 5
	ProfileVideoH264_50Kbit   = 6
	ProfileVideoH264_530Kbit  = 7
	ProfileVideoH264_100Kbit  = 8
	ProfileVideoH264_2Mbit    = 9
	ProfileVideoH264Thumbnail = 10
	ProfileMetadata           = 11
	ProfileMultiplexedStream  = 12
	ProfileAudioOpusLive      = 13
)

// Playback end reason codes.
const (
	ReasonUserEnded             = 0
	ReasonTimeNotAvailable      = 1
	ReasonProfileNotAvailable   = 2
	ReasonTranscodeNotAvailable = 3
	ReasonCannotTranscode       = 4
	ReasonSessionComplete       = 128
)

// Protocol error codes carried by the error message.
const (
	ErrCameraNotConnected    = 1
	ErrIllegalPacket         = 2
	ErrAuthorizationFailed   = 3
	ErrNoTranscoderAvailable = 4
	ErrTranscodeProxyError   = 5
	ErrInternal              = 6
)

// profileNotFoundUseNext directs the server to fall back to the next
// available profile rather than reject the start playback request.
const profileNotFoundUseNext = 1

var errMalformedPayload = errors.New("malformed message payload")

// hello is the first message sent on a new connection.
type hello struct {
	ProtocolVersion  uint64
	UUID             string
	RequireConnected bool
	SessionToken     string
	IsCamera         bool
	DeviceID         string
	UserAgent        string
	ClientType       uint64
	Authorize        []byte // Encoded authorizeRequest, Google accounts only.
}

func encodeHello(h hello) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, h.ProtocolVersion)
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendString(b, h.UUID)
	b = protowire.AppendTag(b, 3, protowire.VarintType)
	b = protowire.AppendVarint(b, boolVarint(h.RequireConnected))
	if h.SessionToken != "" {
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendString(b, h.SessionToken)
	}
	b = protowire.AppendTag(b, 5, protowire.VarintType)
	b = protowire.AppendVarint(b, boolVarint(h.IsCamera))
	b = protowire.AppendTag(b, 6, protowire.BytesType)
	b = protowire.AppendString(b, h.DeviceID)
	b = protowire.AppendTag(b, 7, protowire.BytesType)
	b = protowire.AppendString(b, h.UserAgent)
	b = protowire.AppendTag(b, 9, protowire.VarintType)
	b = protowire.AppendVarint(b, h.ClientType)
	if h.Authorize != nil {
		b = protowire.AppendTag(b, 12, protowire.BytesType)
		b = protowire.AppendBytes(b, h.Authorize)
	}
	return b
}

// authorizeRequest refreshes or supplies the access token without repeating
// the hello. Exactly one of the fields is set depending on account type.
type authorizeRequest struct {
	SessionToken string // Nest accounts.
	OliveToken   string // Google accounts.
}

func encodeAuthorizeRequest(a authorizeRequest) []byte {
	var b []byte
	if a.SessionToken != "" {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, a.SessionToken)
	}
	if a.OliveToken != "" {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendString(b, a.OliveToken)
	}
	return b
}

// startPlayback requests playback of the preferred profile, listing the other
// profiles the client is prepared to accept.
type startPlayback struct {
	SessionID     uint64
	Profile       uint64
	OtherProfiles []uint64
}

func encodeStartPlayback(s startPlayback) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, s.SessionID)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, s.Profile)
	for _, p := range s.OtherProfiles {
		b = protowire.AppendTag(b, 6, protowire.VarintType)
		b = protowire.AppendVarint(b, p)
	}
	b = protowire.AppendTag(b, 7, protowire.VarintType)
	b = protowire.AppendVarint(b, profileNotFoundUseNext)
	return b
}

func encodeStopPlayback(sessionID uint64) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, sessionID)
	return b
}

// audioPayload carries one chunk of talkback (return) audio to the camera.
// An empty payload signals end of utterance.
type audioPayload struct {
	Payload    []byte
	SessionID  uint64
	Codec      uint64
	SampleRate uint64
}

func encodeAudioPayload(a audioPayload) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendBytes(b, a.Payload)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, a.SessionID)
	b = protowire.AppendTag(b, 3, protowire.VarintType)
	b = protowire.AppendVarint(b, a.Codec)
	b = protowire.AppendTag(b, 4, protowire.VarintType)
	b = protowire.AppendVarint(b, a.SampleRate)
	return b
}

// channel is a negotiated media channel reported by playback begin.
type channel struct {
	ID         uint64
	Codec      uint64
	SampleRate uint64
}

// playbackBegin reports the negotiated channels for a playback session.
type playbackBegin struct {
	SessionID uint64
	Channels  []channel
}

func decodePlaybackBegin(b []byte) (playbackBegin, error) {
	var m playbackBegin
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return m, errors.Wrap(errMalformedPayload, "playback begin tag")
		}
		b = b[n:]
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return m, errors.Wrap(errMalformedPayload, "playback begin session id")
			}
			m.SessionID = v
			b = b[n:]
		case num == 2 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return m, errors.Wrap(errMalformedPayload, "playback begin channel")
			}
			ch, err := decodeChannel(v)
			if err != nil {
				return m, err
			}
			m.Channels = append(m.Channels, ch)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return m, errors.Wrap(errMalformedPayload, "playback begin field")
			}
			b = b[n:]
		}
	}
	return m, nil
}

func encodePlaybackBegin(m playbackBegin) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, m.SessionID)
	for _, ch := range m.Channels {
		var c []byte
		c = protowire.AppendTag(c, 1, protowire.VarintType)
		c = protowire.AppendVarint(c, ch.ID)
		c = protowire.AppendTag(c, 2, protowire.VarintType)
		c = protowire.AppendVarint(c, ch.Codec)
		c = protowire.AppendTag(c, 3, protowire.VarintType)
		c = protowire.AppendVarint(c, ch.SampleRate)
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, c)
	}
	return b
}

func decodeChannel(b []byte) (channel, error) {
	var ch channel
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return ch, errors.Wrap(errMalformedPayload, "channel tag")
		}
		b = b[n:]
		if typ == protowire.VarintType {
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return ch, errors.Wrap(errMalformedPayload, "channel field")
			}
			switch num {
			case 1:
				ch.ID = v
			case 2:
				ch.Codec = v
			case 3:
				ch.SampleRate = v
			}
			b = b[n:]
			continue
		}
		n = protowire.ConsumeFieldValue(num, typ, b)
		if n < 0 {
			return ch, errors.Wrap(errMalformedPayload, "channel field")
		}
		b = b[n:]
	}
	return ch, nil
}

// playbackPacket carries one demultiplexed elementary stream unit.
type playbackPacket struct {
	SessionID      uint64
	ChannelID      uint64
	TimestampDelta int64
	Payload        []byte
}

func decodePlaybackPacket(b []byte) (playbackPacket, error) {
	var m playbackPacket
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return m, errors.Wrap(errMalformedPayload, "playback packet tag")
		}
		b = b[n:]
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return m, errors.Wrap(errMalformedPayload, "playback packet session id")
			}
			m.SessionID = v
			b = b[n:]
		case num == 2 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return m, errors.Wrap(errMalformedPayload, "playback packet channel id")
			}
			m.ChannelID = v
			b = b[n:]
		case num == 3 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return m, errors.Wrap(errMalformedPayload, "playback packet timestamp")
			}
			m.TimestampDelta = protowire.DecodeZigZag(v)
			b = b[n:]
		case num == 4 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return m, errors.Wrap(errMalformedPayload, "playback packet payload")
			}
			m.Payload = v
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return m, errors.Wrap(errMalformedPayload, "playback packet field")
			}
			b = b[n:]
		}
	}
	return m, nil
}

func encodePlaybackPacket(m playbackPacket) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, m.SessionID)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, m.ChannelID)
	b = protowire.AppendTag(b, 3, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(m.TimestampDelta))
	b = protowire.AppendTag(b, 4, protowire.BytesType)
	b = protowire.AppendBytes(b, m.Payload)
	return b
}

// playbackEnd reports the end of a playback session with a reason code.
type playbackEnd struct {
	SessionID uint64
	Reason    uint64
}

func decodePlaybackEnd(b []byte) (playbackEnd, error) {
	var m playbackEnd
	err := decodeVarintFields(b, map[protowire.Number]*uint64{1: &m.SessionID, 2: &m.Reason})
	return m, errors.Wrap(err, "playback end")
}

func encodePlaybackEnd(m playbackEnd) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, m.SessionID)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, m.Reason)
	return b
}

// protoError is a protocol-level error report from the server.
type protoError struct {
	Code    uint64
	Message string
}

func decodeError(b []byte) (protoError, error) {
	var m protoError
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return m, errors.Wrap(errMalformedPayload, "error tag")
		}
		b = b[n:]
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return m, errors.Wrap(errMalformedPayload, "error code")
			}
			m.Code = v
			b = b[n:]
		case num == 2 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return m, errors.Wrap(errMalformedPayload, "error message")
			}
			m.Message = v
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return m, errors.Wrap(errMalformedPayload, "error field")
			}
			b = b[n:]
		}
	}
	return m, nil
}

func encodeError(m protoError) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, m.Code)
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendString(b, m.Message)
	return b
}

// redirect directs the client to re-establish the stream on a new host.
type redirect struct {
	NewHost     string
	IsTranscode bool
}

func decodeRedirect(b []byte) (redirect, error) {
	var m redirect
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return m, errors.Wrap(errMalformedPayload, "redirect tag")
		}
		b = b[n:]
		switch {
		case num == 1 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return m, errors.Wrap(errMalformedPayload, "redirect host")
			}
			m.NewHost = v
			b = b[n:]
		case num == 2 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return m, errors.Wrap(errMalformedPayload, "redirect transcode flag")
			}
			m.IsTranscode = v != 0
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return m, errors.Wrap(errMalformedPayload, "redirect field")
			}
			b = b[n:]
		}
	}
	return m, nil
}

func encodeRedirect(m redirect) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, m.NewHost)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, boolVarint(m.IsTranscode))
	return b
}

// clockSync is a server time probe; it is answered with a clock sync echo
// carrying the same fields.
type clockSync struct {
	SessionID uint64
	Time      uint64
}

func decodeClockSync(b []byte) (clockSync, error) {
	var m clockSync
	err := decodeVarintFields(b, map[protowire.Number]*uint64{1: &m.SessionID, 2: &m.Time})
	return m, errors.Wrap(err, "clock sync")
}

func encodeClockSync(m clockSync) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, m.SessionID)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, m.Time)
	return b
}

// decodeVarintFields decodes a payload consisting solely of varint fields
// into the given destinations, skipping anything unrecognised.
func decodeVarintFields(b []byte, dst map[protowire.Number]*uint64) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return errors.Wrap(errMalformedPayload, "tag")
		}
		b = b[n:]
		if d, ok := dst[num]; ok && typ == protowire.VarintType {
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return errors.Wrap(errMalformedPayload, "varint")
			}
			*d = v
			b = b[n:]
			continue
		}
		n = protowire.ConsumeFieldValue(num, typ, b)
		if n < 0 {
			return errors.Wrap(errMalformedPayload, "field")
		}
		b = b[n:]
	}
	return nil
}

func boolVarint(v bool) uint64 {
	if v {
		return 1
	}
	return 0
}
