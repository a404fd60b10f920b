/*
NAME
  streamer.go

DESCRIPTION
  streamer.go provides the Streamer type, which manages the media pipeline
  for one camera: the protocol client connection, the time-bounded pre-roll
  buffer, attached live and recording consumers, placeholder frame synthesis
  while no real media is available, and talkback return audio.

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

// Package streamer manages the media pipeline for a single camera: a
// protocol client feeding a fan-out router with a sliding pre-roll buffer,
// placeholder frame synthesis and snapshot extraction.
package streamer

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ausocean/utils/logging"
	"github.com/pkg/errors"

	"github.com/n0rt0nthec4t/Nest-accfactory-sub001/protocol/nexus"
)

// pkg is the log message prefix.
const pkg = "streamer: "

// Defaults applied by Config.Validate.
const (
	defaultBufferWindow        = 15 * time.Second
	defaultPlaceholderInterval = 30 * time.Millisecond
	defaultTalkbackTimeout     = 500 * time.Millisecond
)

// Config errors.
var (
	errNoLogger = errors.New("no logger provided")
	errClosed   = errors.New("streamer is closed")
)

// protocolClient is the part of the protocol client the Streamer drives.
// Satisfied by *nexus.Client.
type protocolClient interface {
	Connect() error
	Close(sendStop bool) error
	StartPlayback() error
	StopPlayback() error
	SendTalkback(p []byte) error
	EndTalkback() error
	Connected() bool
	UpdateToken(token string)
}

// Config describes one camera and how its media is handled.
type Config struct {
	// CameraUUID is the camera's identifier on the streaming service.
	CameraUUID string

	// Host is the initial streaming host for the camera.
	Host string

	// AccessToken authenticates the account that owns the camera.
	AccessToken string

	// Auth selects the token encoding for the account type.
	Auth nexus.AuthType

	// UserAgent overrides the user agent sent in the handshake.
	UserAgent string

	// Capabilities is the camera's advertised capability list, used to
	// derive acceptable quality profiles.
	Capabilities []string

	// AudioEnabled requests an audio stream alongside video.
	AudioEnabled bool

	// Online and StreamingEnabled give the camera's initial state. While
	// either is false, synthesized placeholder frames substitute for real
	// media.
	Online           bool
	StreamingEnabled bool

	// BufferWindow bounds the age of pre-roll buffer entries.
	BufferWindow time.Duration

	// PlaceholderInterval is the cadence of synthesized frames when no real
	// media is available.
	PlaceholderInterval time.Duration

	// TalkbackTimeout is the inactivity period after which an utterance is
	// considered finished.
	TalkbackTimeout time.Duration

	// OfflineFrame and OffFrame override the synthesized video frames shown
	// while the camera is offline, or online with streaming disabled.
	OfflineFrame []byte
	OffFrame     []byte

	// SnapshotCommand is the external command used to turn a buffered
	// keyframe sequence into a still image. It reads an H.264 elementary
	// stream on stdin and writes the image to stdout.
	SnapshotCommand []string

	// Logger is used for logging.
	Logger logging.Logger
}

// Validate checks the configuration and fills in defaults.
func (c *Config) Validate() error {
	if c.Logger == nil {
		return errNoLogger
	}
	if c.BufferWindow <= 0 {
		c.BufferWindow = defaultBufferWindow
	}
	if c.PlaceholderInterval <= 0 {
		c.PlaceholderInterval = defaultPlaceholderInterval
	}
	if c.TalkbackTimeout <= 0 {
		c.TalkbackTimeout = defaultTalkbackTimeout
	}
	if c.OfflineFrame == nil {
		c.OfflineFrame = cannedFrame(cannedOfflineIDR)
	}
	if c.OffFrame == nil {
		c.OffFrame = cannedFrame(cannedOffIDR)
	}
	if len(c.SnapshotCommand) == 0 {
		c.SnapshotCommand = defaultSnapshotCommand()
	}
	return nil
}

// Streamer manages the media pipeline for one camera.
type Streamer struct {
	cfg    Config
	log    logging.Logger
	client protocolClient

	// Camera state, read lock-free by the protocol client's callbacks and
	// the placeholder loop.
	activeFlag       atomic.Bool
	online           atomic.Bool
	streamingEnabled atomic.Bool

	mu        sync.Mutex
	consumers []*consumer
	nextID    int
	buffering bool
	buf       *ringBuffer
	requested bool // Playback has been requested on the open connection.
	closed    bool

	phStop chan struct{}
}

// Option is the signature of option functions accepted by New.
type Option func(*Streamer) error

// withClient replaces the protocol client. Used for testing.
func withClient(pc protocolClient) Option {
	return func(s *Streamer) error {
		s.client = pc
		return nil
	}
}

// New returns a Streamer for the camera described by cfg.
func New(cfg Config, options ...Option) (*Streamer, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, errors.Wrap(err, "config struct is bad")
	}

	s := &Streamer{
		cfg:    cfg,
		log:    cfg.Logger,
		buf:    newRingBuffer(cfg.BufferWindow),
		phStop: make(chan struct{}),
	}
	s.online.Store(cfg.Online)
	s.streamingEnabled.Store(cfg.StreamingEnabled)

	for _, o := range options {
		err := o(s)
		if err != nil {
			return nil, errors.Wrap(err, "option could not be applied")
		}
	}

	if s.client == nil {
		client, err := nexus.New(
			nexus.Config{
				Host:         cfg.Host,
				CameraUUID:   cfg.CameraUUID,
				AccessToken:  cfg.AccessToken,
				Auth:         cfg.Auth,
				UserAgent:    cfg.UserAgent,
				Capabilities: cfg.Capabilities,
				AudioEnabled: cfg.AudioEnabled,
				Logger:       cfg.Logger,
			},
			s,
			nexus.WithActive(s.activeFlag.Load),
			nexus.WithStreamable(s.streamable),
		)
		if err != nil {
			return nil, errors.Wrap(err, "could not create protocol client")
		}
		s.client = client
	}

	go s.placeholderLoop(s.phStop)
	return s, nil
}

// streamable reports whether the camera can deliver real media. Called
// lock-free from the protocol client.
func (s *Streamer) streamable() bool {
	return s.online.Load() && s.streamingEnabled.Load()
}

// StartBuffering begins retaining received units in the pre-roll buffer,
// connecting to the camera if this is the first activity.
func (s *Streamer) StartBuffering() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.buffering {
		return
	}
	s.buffering = true
	s.updateActiveLocked()
	s.startStreamLocked()
	s.log.Info(pkg + "buffering started")
}

// StopBuffering stops retention and discards the buffer, shutting the
// camera connection down if no consumers remain.
func (s *Streamer) StopBuffering() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.buffering {
		return
	}
	s.buffering = false
	s.buf.clear()
	s.updateActiveLocked()
	s.stopStreamLocked()
	s.log.Info(pkg + "buffering stopped")
}

// SetOnline records a camera online state change. A camera coming online
// with pending activity is connected; a camera going offline keeps its
// consumers, which receive placeholder frames until it returns.
func (s *Streamer) SetOnline(online bool) {
	s.online.Store(online)
	if !online {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeFlag.Load() {
		s.startStreamLocked()
	}
}

// SetStreamingEnabled records a change of the camera's streaming switch.
// Disabling stops playback; enabling with pending activity starts it.
func (s *Streamer) SetStreamingEnabled(enabled bool) {
	s.streamingEnabled.Store(enabled)
	s.mu.Lock()
	defer s.mu.Unlock()
	if !enabled {
		s.requested = false
		err := s.client.StopPlayback()
		if err != nil {
			s.log.Debug(pkg+"could not stop playback", "error", err.Error())
		}
		return
	}
	if s.activeFlag.Load() {
		s.startStreamLocked()
	}
}

// UpdateToken passes a refreshed access token through to the protocol
// client.
func (s *Streamer) UpdateToken(token string) {
	s.client.UpdateToken(token)
}

// Close detaches all consumers, stops buffering and the placeholder loop,
// and shuts the camera connection down. Safe to call more than once.
func (s *Streamer) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.phStop)
	cs := s.consumers
	s.consumers = nil
	s.buffering = false
	s.buf.clear()
	s.activeFlag.Store(false)
	s.mu.Unlock()

	for _, c := range cs {
		if c.talkback != nil {
			c.talkback.stop()
		}
	}
	return s.client.Close(true)
}

// updateActiveLocked recomputes the activity flag from attached consumers
// and buffering state. Must be called with mu held.
func (s *Streamer) updateActiveLocked() {
	s.activeFlag.Store(len(s.consumers) > 0 || s.buffering)
}

// startStreamLocked connects to the camera if necessary and requests
// playback if it has not already been requested on this connection. Must be
// called with mu held.
func (s *Streamer) startStreamLocked() {
	if !s.streamable() {
		return
	}
	if !s.client.Connected() {
		err := s.client.Connect()
		if err != nil {
			s.log.Warning(pkg+"could not connect to camera", "error", err.Error())
			return
		}
		s.requested = false
	}
	if s.requested {
		return
	}
	err := s.client.StartPlayback()
	if err != nil {
		s.log.Debug(pkg+"could not start playback", "error", err.Error())
		return
	}
	s.requested = true
}

// stopStreamLocked shuts the camera connection down if nothing needs the
// stream any more. Must be called with mu held.
func (s *Streamer) stopStreamLocked() {
	if len(s.consumers) != 0 || s.buffering {
		return
	}
	s.requested = false
	err := s.client.Close(true)
	if err != nil {
		s.log.Debug(pkg+"could not close camera connection", "error", err.Error())
	}
}
