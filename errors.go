// SPDX-License-Identifier: GPL-3.0-or-later

package udpstream

import "errors"

var (
	// ErrMissingPort indicates that no valid port could be obtained from
	// the arguments passed to [*Stream.Connect] or [*Dialer.Create].
	ErrMissingPort = errors.New("udpstream: port is required")

	// ErrInvalidHost indicates that the host is neither an IPv4 nor an IPv6 address.
	ErrInvalidHost = errors.New("udpstream: invalid host")

	// ErrResolution wraps name resolution failures.
	ErrResolution = errors.New("udpstream: cannot resolve host")

	// ErrAllocation wraps failures to allocate the underlying [Socket].
	ErrAllocation = errors.New("udpstream: cannot allocate socket")

	// ErrWriteAfterEnd is returned by [*Stream.Write] after [*Stream.End].
	ErrWriteAfterEnd = errors.New("udpstream: write after end")

	// ErrAlreadyConnected indicates that [*Stream.Connect] was called more than once.
	ErrAlreadyConnected = errors.New("udpstream: connect already called")
)
