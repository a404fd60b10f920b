/*
NAME
  senders.go

DESCRIPTION
  senders.go provides BufferedSink, an io.WriteCloser that decouples media
  delivery from a slow destination with a pool buffer and an output routine.
  Attaching a consumer through a BufferedSink keeps a stalling destination
  from blocking the fan-out path.

AUTHORS
  Saxon A. Nelson-Milton <saxon@ausocean.org>
  Alan Noble <alan@ausocean.org>

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

	"github.com/ausocean/utils/logging"
	"github.com/ausocean/utils/pool"
)

// Sink pool buffer parameters.
const (
	sinkPoolElementSize  = 10000
	sinkPoolCapacity     = 5 << 20 // 5MB
	sinkPoolReadTimeout  = 1 * time.Second
	sinkPoolWriteTimeout = 5 * time.Second
)

// adjustedSinkPoolElementSize is the element size of the sink pool buffer,
// which will be adjusted if written media units exceed it.
var adjustedSinkPoolElementSize = sinkPoolElementSize

// BufferedSink is an io.WriteCloser that buffers writes in a pool buffer
// and copies them to the destination from a separate output routine.
type BufferedSink struct {
	dst  io.WriteCloser
	log  logging.Logger
	pool *pool.Buffer
	done chan struct{}
	wg   sync.WaitGroup
}

// NewBufferedSink returns a BufferedSink writing to dst and starts its
// output routine. Close stops the routine and closes dst.
func NewBufferedSink(dst io.WriteCloser, log logging.Logger) *BufferedSink {
	s := &BufferedSink{
		dst:  dst,
		log:  log,
		pool: pool.NewBuffer(sinkPoolCapacity/adjustedSinkPoolElementSize, adjustedSinkPoolElementSize, sinkPoolWriteTimeout),
		done: make(chan struct{}),
	}
	s.wg.Add(1)
	go s.output()
	return s
}

// output copies buffered chunks to the destination until Close.
func (s *BufferedSink) output() {
	var chunk *pool.Chunk
	for {
		select {
		case <-s.done:
			s.log.Debug(pkg + "terminating sink output routine")
			defer s.wg.Done()
			return
		default:
			// If chunk is nil then we're ready to get another from the pool buffer.
			if chunk == nil {
				var err error
				chunk, err = s.pool.Next(sinkPoolReadTimeout)
				switch err {
				case nil, io.EOF:
					continue
				case pool.ErrTimeout:
					continue
				default:
					s.log.Error(pkg+"unexpected error", "error", err.Error())
					continue
				}
			}
			_, err := s.dst.Write(chunk.Bytes())
			if err != nil {
				s.log.Warning(pkg+"sink write failed", "error", err.Error())
			}
			chunk.Close()
			chunk = nil
		}
	}
}

// Write implements io.Writer. The unit is queued for the output routine;
// units too large for the pool's elements grow the pool.
func (s *BufferedSink) Write(d []byte) (int, error) {
	_, err := s.pool.Write(d)
	if err == nil {
		s.pool.Flush()
	} else {
		s.log.Warning(pkg+"pool buffer write error", "error", err.Error())
		if err == pool.ErrTooLong {
			adjustedSinkPoolElementSize = len(d) * 2
			numElements := sinkPoolCapacity / adjustedSinkPoolElementSize
			s.pool = pool.NewBuffer(numElements, adjustedSinkPoolElementSize, sinkPoolWriteTimeout)
			s.log.Info(pkg+"adjusted sink pool buffer element size", "new size", adjustedSinkPoolElementSize, "num elements", numElements)
		}
	}
	return len(d), nil
}

// Close implements io.Closer. It stops the output routine and closes the
// destination.
func (s *BufferedSink) Close() error {
	close(s.done)
	s.wg.Wait()
	return s.dst.Close()
}
