/*
NAME
  talkback.go

DESCRIPTION
  talkback.go provides the return audio pump for a live consumer. Chunks
  read from the consumer's talkback source are forwarded to the camera, and
  an inactivity timeout signals end of utterance.

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
	"io"
	"sync"
	"time"
)

// talkbackChunkSize is the read size of the source pump.
const talkbackChunkSize = 1024

// talkback pumps return audio from one consumer's source to the camera.
type talkback struct {
	chunks   chan []byte
	done     chan struct{}
	stopOnce sync.Once
}

// startTalkback starts the reader pump and forwarding loop for a talkback
// source. The pump runs until the source returns an error or the consumer
// detaches.
func (s *Streamer) startTalkback(src io.Reader) *talkback {
	t := &talkback{
		chunks: make(chan []byte),
		done:   make(chan struct{}),
	}
	go t.pump(src)
	go s.forwardTalkback(t)
	return t
}

// stop terminates the pump and forwarding loop.
func (t *talkback) stop() {
	t.stopOnce.Do(func() { close(t.done) })
}

// pump reads chunks from the source and hands them to the forwarding loop.
func (t *talkback) pump(src io.Reader) {
	buf := make([]byte, talkbackChunkSize)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			p := make([]byte, n)
			copy(p, buf[:n])
			select {
			case t.chunks <- p:
			case <-t.done:
				return
			}
		}
		if err != nil {
			// EOF or a closed source ends the pump.
			return
		}
	}
}

// forwardTalkback sends pumped chunks to the camera. Inactivity for the
// configured timeout ends the utterance; the next chunk starts a new one.
func (s *Streamer) forwardTalkback(t *talkback) {
	timer := time.NewTimer(s.cfg.TalkbackTimeout)
	if !timer.Stop() {
		<-timer.C
	}
	armed := false
	defer timer.Stop()

	for {
		var timeout <-chan time.Time
		if armed {
			timeout = timer.C
		}
		select {
		case <-t.done:
			if armed {
				err := s.client.EndTalkback()
				if err != nil {
					s.log.Debug(pkg+"could not end talkback", "error", err.Error())
				}
			}
			return

		case p := <-t.chunks:
			err := s.client.SendTalkback(p)
			if err != nil {
				s.log.Debug(pkg+"could not send talkback audio", "error", err.Error())
			}
			if armed && !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(s.cfg.TalkbackTimeout)
			armed = true

		case <-timeout:
			err := s.client.EndTalkback()
			if err != nil {
				s.log.Debug(pkg+"could not end talkback", "error", err.Error())
			}
			armed = false
		}
	}
}
