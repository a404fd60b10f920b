/*
NAME
  options.go

DESCRIPTION
  options.go provides option functions that can be supplied to nexus.New to
  modify the behaviour of the Client.

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
	"net"
	"time"

	"github.com/pkg/errors"
)

// Option is the signature of option functions accepted by New.
type Option func(*Client) error

// Option errors.
var (
	errKeepAliveNotPositive = errors.New("keep-alive interval is not positive")
	errDialerNil            = errors.New("dialer is nil")
)

// WithKeepAlive returns an Option that sets the interval between keep-alive
// pings on an open connection.
func WithKeepAlive(d time.Duration) Option {
	return func(c *Client) error {
		if d <= 0 {
			return errKeepAliveNotPositive
		}
		c.keepAlive = d
		return nil
	}
}

// WithDialer returns an Option that replaces the default TLS dialer. This is
// used for testing against scripted in-memory connections.
func WithDialer(dial func(host string) (net.Conn, error)) Option {
	return func(c *Client) error {
		if dial == nil {
			return errDialerNil
		}
		c.dial = dial
		return nil
	}
}

// WithActive returns an Option providing a callback that reports whether the
// camera still has attached consumers or active buffering. It decides
// whether a dropped socket is reconnected or allowed to terminate, and must
// not call back into the Client.
func WithActive(f func() bool) Option {
	return func(c *Client) error {
		c.active = f
		return nil
	}
}

// WithStreamable returns an Option providing a callback that reports whether
// the camera is online with streaming enabled. Playback start requests are
// refused while it reports false. It must not call back into the Client.
func WithStreamable(f func() bool) Option {
	return func(c *Client) error {
		c.streamable = f
		return nil
	}
}
