/*
NAME
  auth.go

DESCRIPTION
  auth.go provides the authentication handshake for the Nexus protocol. The
  first authentication on a connection sends a hello message identifying the
  camera and client; token refreshes and authorization failures send only an
  authorize request. The token encoding depends on the account type.

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

// Handshake constants.
const (
	protocolVersion = 3
	clientTypeWeb   = 3
)

// authenticateLocked performs the authentication handshake. With reauthOnly
// false the full hello is sent; with reauthOnly true only the token-refresh
// authorize request is sent. Must be called with mu held.
func (c *Client) authenticateLocked(reauthOnly bool) {
	if reauthOnly {
		c.log.Info(pkg + "re-authorizing")
		c.sendLocked(msgAuthorizeRequest, encodeAuthorizeRequest(c.tokenRequest()))
		return
	}

	h := hello{
		ProtocolVersion: protocolVersion,
		UUID:            c.cfg.CameraUUID,
		DeviceID:        c.deviceID,
		UserAgent:       c.cfg.UserAgent,
		ClientType:      clientTypeWeb,
	}
	switch c.cfg.Auth {
	case AuthGoogle:
		h.Authorize = encodeAuthorizeRequest(c.tokenRequest())
	default:
		h.SessionToken = c.cfg.AccessToken
	}

	c.log.Debug(pkg+"sending hello", "uuid", c.cfg.CameraUUID)
	c.sendLocked(msgHello, encodeHello(h))
}

// tokenRequest returns the authorize request for the configured account
// token type.
func (c *Client) tokenRequest() authorizeRequest {
	if c.cfg.Auth == AuthGoogle {
		return authorizeRequest{OliveToken: c.cfg.AccessToken}
	}
	return authorizeRequest{SessionToken: c.cfg.AccessToken}
}
