/*
NAME
  conn.go

DESCRIPTION
  conn.go provides the Nexus connection manager: TLS connect, close,
  reconnect and redirect handling, the keep-alive pinger, and the
  pending-message queue used while the connection is not yet authorized.

AUTHORS
  Saxon A. Nelson-Milton <saxon@ausocean.org>
  Dan Kortschak <dan@ausocean.org>
  Trek Hopton <trek@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package nexus provides a client for the Nexus binary streaming protocol
// used by networked cameras to deliver live and buffered audio/video and to
// accept two-way audio. One Client manages a single encrypted connection per
// camera, authenticates, negotiates playback, and demultiplexes interleaved
// audio/video packets to a PacketSink.
package nexus

import (
	"crypto/rand"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/ausocean/utils/logging"
	"github.com/pkg/errors"
)

// Indicate package when logging.
const pkg = "nexus: "

// The TLS port the camera streaming service listens on.
const nexusPort = "1443"

// defaultKeepAlive is the interval between keep-alive pings on an open
// connection.
const defaultKeepAlive = 15 * time.Second

// readBufSize is the socket read buffer size.
const readBufSize = 8 << 10

// Configuration errors.
var (
	errNoHost       = errors.New("no host provided")
	errNoCameraUUID = errors.New("no camera UUID provided")
	errNoToken      = errors.New("no access token provided")
	errNoLogger     = errors.New("no logger provided")
	errNoSink       = errors.New("no packet sink provided")
)

// MediaKind distinguishes demultiplexed elementary stream payloads.
type MediaKind int

// Media kinds routed to a PacketSink.
const (
	KindVideo MediaKind = iota
	KindAudio
)

// PacketSink receives demultiplexed elementary stream units and playback
// epoch notices from a Client. Route is called in wire order; Invalidate is
// called when a new playback epoch begins and previously delivered media is
// no longer contiguous with what follows.
type PacketSink interface {
	Route(kind MediaKind, payload []byte)
	Invalidate()
}

// AuthType selects the token encoding used during authentication.
type AuthType int

// Supported account token types.
const (
	AuthNest   AuthType = iota // Token embedded directly in the hello.
	AuthGoogle                 // Token wrapped in a nested authorize request.
)

// Config holds the connection parameters for a camera.
type Config struct {
	// Host is the initial streaming host. The server may redirect the
	// connection to a different host at any time.
	Host string

	// CameraUUID identifies the camera to the streaming service.
	CameraUUID string

	// AccessToken authenticates the client; its encoding in the handshake
	// depends on Auth.
	AccessToken string

	// Auth is the account token type.
	Auth AuthType

	// UserAgent is sent in the hello message.
	UserAgent string

	// Capabilities is the camera's advertised capability list, used to derive
	// the set of supported quality profiles.
	Capabilities []string

	// AudioEnabled indicates the camera's audio stream should be requested.
	AudioEnabled bool

	// Profile is the preferred quality profile identifier.
	Profile uint64

	// Logger will be used for logging.
	Logger logging.Logger
}

// Validate checks the Config and fills in defaults for unset fields.
func (c *Config) Validate() error {
	switch {
	case c.Host == "":
		return errNoHost
	case c.CameraUUID == "":
		return errNoCameraUUID
	case c.AccessToken == "":
		return errNoToken
	case c.Logger == nil:
		return errNoLogger
	}
	if c.UserAgent == "" {
		c.UserAgent = "Nest/5.78.0 (iOScom.nestlabs.jasper.release)"
	}
	if c.Profile == 0 {
		c.Profile = ProfileVideoH264_2Mbit
	}
	return nil
}

// packetEvent is a routable media unit produced while handling frames under
// the client mutex; delivery to the sink happens after the mutex is released.
type packetEvent struct {
	kind    MediaKind
	payload []byte
}

// Client is a Nexus protocol client for a single camera. All state is
// serialized by mu; the sink is only ever called with mu released.
type Client struct {
	cfg  Config
	log  logging.Logger
	sink PacketSink

	dial       func(host string) (net.Conn, error)
	keepAlive  time.Duration
	active     func() bool
	streamable func() bool

	// deviceID is random, generated once, and stable for the Client's
	// lifetime.
	deviceID string

	mu           sync.Mutex
	conn         net.Conn
	host         string
	authorized   bool
	pending      [][]byte
	acc          []byte
	redirectHost string // One-shot continuation applied when the socket closes.
	kaStop       chan struct{}
	session      session
}

// New returns a pointer to a new Client with the given configuration. The
// sink receives all demultiplexed media. No connection is made until Connect
// is called.
func New(cfg Config, sink PacketSink, options ...Option) (*Client, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("config struct is bad: %w", err)
	}
	if sink == nil {
		return nil, errNoSink
	}

	c := &Client{
		cfg:       cfg,
		log:       cfg.Logger,
		sink:      sink,
		host:      cfg.Host,
		keepAlive: defaultKeepAlive,
		deviceID:  newDeviceID(),
		dial: func(host string) (net.Conn, error) {
			return tls.Dial("tcp", net.JoinHostPort(host, nexusPort), &tls.Config{})
		},
	}
	c.session.clear()

	for _, option := range options {
		err := option(c)
		if err != nil {
			return nil, fmt.Errorf("error from option: %w", err)
		}
	}
	return c, nil
}

// Connect opens a connection to the current host if one is not already open,
// starts the keep-alive pinger and read loop, and begins authentication.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return nil
	}
	return c.connectLocked(c.host)
}

// connectLocked dials host and starts the connection service routines.
// Must be called with mu held.
func (c *Client) connectLocked(host string) error {
	c.log.Debug(pkg+"dialing", "host", host)
	conn, err := c.dial(host)
	if err != nil {
		return errors.Wrap(err, "could not dial streaming host")
	}
	c.host = host
	c.conn = conn
	c.authorized = false
	c.acc = nil
	c.kaStop = make(chan struct{})
	go c.readLoop(conn)
	go c.keepAliveLoop(c.kaStop)
	c.log.Info(pkg+"connected", "host", host)
	c.authenticateLocked(false)
	return nil
}

// Close closes the connection. If sendStop is true a stop playback message
// carrying the current session id is transmitted first. The session and the
// pending-message queue are always cleared.
func (c *Client) Close(sendStop bool) error {
	c.mu.Lock()
	conn := c.conn
	if conn != nil {
		if sendStop && c.session.id != 0 {
			c.sendLocked(msgStopPlayback, encodeStopPlayback(c.session.id))
		}
		// Supersede before closing so the read loop terminates silently
		// rather than treating this as a dropped connection.
		c.conn = nil
		c.stopKeepAliveLocked()
	}
	c.pending = nil
	c.acc = nil
	c.authorized = false
	c.redirectHost = ""
	c.session.clear()
	c.mu.Unlock()

	if conn != nil {
		c.log.Info(pkg + "connection closed")
		return conn.Close()
	}
	return nil
}

// Redirect moves the connection to a new host. If a socket is open, a
// one-shot continuation reconnects to the new host once the current socket
// has fully closed; otherwise the new host is connected directly.
func (c *Client) Redirect(host string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.redirectLocked(host)
}

func (c *Client) redirectLocked(host string) error {
	if c.conn != nil {
		c.log.Info(pkg+"redirecting on socket close", "host", host)
		c.redirectHost = host
		// The read loop observes the closure and runs the continuation.
		c.conn.Close()
		return nil
	}
	return c.connectLocked(host)
}

// Connected reports whether a socket is currently open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Playing reports whether a playback session is currently running.
func (c *Client) Playing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.playing
}

// Host returns the host the client is currently using.
func (c *Client) Host() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.host
}

// UpdateToken replaces the access token and issues a re-authorization
// without repeating the full hello.
func (c *Client) UpdateToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.AccessToken = token
	c.authenticateLocked(true)
}

// readLoop reads from conn, reassembles framed messages and dispatches them.
// Partial frames are retained in the accumulator and re-concatenated with the
// next read. Runs until the socket closes or the connection is superseded.
func (c *Client) readLoop(conn net.Conn) {
	buf := make([]byte, readBufSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			var invalidate bool
			var pkts []packetEvent
			c.mu.Lock()
			if conn != c.conn {
				c.mu.Unlock()
				return
			}
			c.acc = append(c.acc, buf[:n]...)
			for {
				f, rest, ok := nextFrame(c.acc)
				c.acc = rest
				if !ok {
					break
				}
				inv, ps := c.handleFrame(f)
				invalidate = invalidate || inv
				pkts = append(pkts, ps...)
			}
			c.mu.Unlock()

			// Sink calls happen outside the mutex so a sink may call back
			// into the client.
			if invalidate {
				c.sink.Invalidate()
			}
			for _, p := range pkts {
				c.sink.Route(p.kind, p.payload)
			}
		}
		if err != nil {
			c.handleClose(conn, err)
			return
		}
	}
}

// handleClose runs when a socket read fails. If a redirect continuation is
// pending it reconnects to the redirect host; otherwise, if there is still
// activity (consumers or buffering), it reconnects to the same host and
// re-issues the playback start request; otherwise the connection terminates
// cleanly.
func (c *Client) handleClose(conn net.Conn, err error) {
	c.mu.Lock()
	if conn != c.conn {
		// Deliberately closed or already replaced.
		c.mu.Unlock()
		return
	}
	conn.Close()
	c.conn = nil
	c.authorized = false
	c.acc = nil
	c.stopKeepAliveLocked()
	c.session.clear()

	target := c.redirectHost
	c.redirectHost = ""
	if target == "" {
		if c.active == nil || !c.active() {
			c.mu.Unlock()
			c.log.Info(pkg+"socket closed, no activity, terminating", "error", err.Error())
			return
		}
		target = c.host
	}

	c.log.Info(pkg+"socket closed, reconnecting", "host", target, "error", err.Error())
	cerr := c.connectLocked(target)
	if cerr != nil {
		c.mu.Unlock()
		c.log.Warning(pkg+"could not reconnect", "host", target, "error", cerr.Error())
		return
	}
	if c.active != nil && c.active() {
		serr := c.startPlaybackLocked()
		if serr != nil {
			c.log.Warning(pkg+"could not restart playback", "error", serr.Error())
		}
	}
	c.mu.Unlock()
}

// keepAliveLoop pings the server at a fixed interval while the connection
// that created it remains open.
func (c *Client) keepAliveLoop(stop chan struct{}) {
	ticker := time.NewTicker(c.keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			c.sendLocked(msgPing, nil)
			c.mu.Unlock()
		}
	}
}

func (c *Client) stopKeepAliveLocked() {
	if c.kaStop != nil {
		close(c.kaStop)
		c.kaStop = nil
	}
}

// sendLocked encodes and transmits a message. While the socket is connecting
// or not yet authorized, any message other than the hello or an authorize
// request is queued and flushed in order once the server acknowledges with
// OK. Write errors are swallowed; the close handler decides the next action.
func (c *Client) sendLocked(typ uint8, payload []byte) {
	b := encodeFrame(typ, payload)
	if c.conn == nil || (!c.authorized && typ != msgHello && typ != msgAuthorizeRequest) {
		c.pending = append(c.pending, b)
		return
	}
	_, err := c.conn.Write(b)
	if err != nil {
		c.log.Debug(pkg+"write failed", "type", int(typ), "error", err.Error())
	}
}

// flushPendingLocked sends all queued messages in order.
func (c *Client) flushPendingLocked() {
	for _, b := range c.pending {
		if c.conn == nil {
			break
		}
		_, err := c.conn.Write(b)
		if err != nil {
			c.log.Debug(pkg+"pending write failed", "error", err.Error())
		}
	}
	c.pending = nil
}

// newDeviceID returns a random device identifier, generated once per Client.
func newDeviceID() string {
	b := make([]byte, 8)
	_, err := rand.Read(b)
	if err != nil {
		return fmt.Sprintf("%016x", time.Now().UnixNano())
	}
	return fmt.Sprintf("%x", b)
}
