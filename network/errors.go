package network

import (
	"errors"
	"net"
	"syscall"
)

var (
	// ErrPeerClosed indicates the peer shut down the connection between requests.
	ErrPeerClosed = errors.New("network: peer closed connection")
	// ErrDisconnected indicates the transport was reset, aborted or closed mid-request.
	ErrDisconnected = errors.New("network: peer disconnected")
	// ErrRequestFailed is returned after an error response was sent to the peer.
	ErrRequestFailed = errors.New("network: request failed")
	// ErrRelayError indicates the relay answered with the generic error code.
	ErrRelayError = errors.New("network: relay returned error response")
	// ErrUnexpectedResponse indicates a response code that does not match the request.
	ErrUnexpectedResponse = errors.New("network: unexpected response")

	errRequesterNotListed = errors.New("network: requester missing from user list")
)

func isDisconnect(err error) bool {
	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, net.ErrClosed)
}
