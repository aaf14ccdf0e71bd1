// SPDX-License-Identifier: GPL-3.0-or-later

package udpstream

import "log/slog"

// SLogger is the structured logger used by this package.
//
// It is compatible with [*slog.Logger].
type SLogger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

var _ SLogger = &slog.Logger{}

// DefaultSLogger returns the default [SLogger], which discards all the logs.
func DefaultSLogger() SLogger {
	return slog.New(slog.DiscardHandler)
}
