// Package errs holds the sentinel errors shared by the session pipeline.
//
// Session-terminating failures wrap one of these with fmt.Errorf("...: %w")
// so the websocket supervisor can classify them with errors.Is.
package errs

import "errors"

var (
	// ErrUpstreamGeneration is returned when the reply generator fails or
	// returns an unusable response.
	ErrUpstreamGeneration = errors.New("reply generation failed")

	// ErrSynthesisUnavailable is returned when the voice catalog has no
	// usable voice at all.
	ErrSynthesisUnavailable = errors.New("no synthesis voices are available")

	// ErrProtocol is returned for text frames that do not parse into a known
	// control message shape.
	ErrProtocol = errors.New("protocol error")

	// ErrBusy is returned when the worker pool stays saturated past the
	// queue timeout.
	ErrBusy = errors.New("server busy, try again later")

	// ErrRegistryClosed is returned when registering a session after shutdown began.
	ErrRegistryClosed = errors.New("connection registry closed")
)

