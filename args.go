// SPDX-License-Identifier: GPL-3.0-or-later

package udpstream

import (
	"encoding/json"
	"math"
	"reflect"
	"strconv"
)

// DefaultHost is the host used when none is configured.
const DefaultHost = "127.0.0.1"

// ConnectCallback is invoked once the connect sequence completes.
//
// On success err is nil and s is the connected stream. On failure err
// is non-nil, s is nil, and the callback replaces [EventError].
type ConnectCallback func(err error, s *Stream)

// Options is the normalized configuration of a [*Stream].
//
// Construct using [ParseArgs] or as a literal.
type Options struct {
	// Host is the destination hostname or IP address.
	//
	// If empty, [DefaultHost] is used when connecting.
	Host string

	// Port is the destination port.
	//
	// Zero means that the port is missing.
	Port int

	// Callback is the OPTIONAL [ConnectCallback].
	Callback ConnectCallback
}

// ParseArgs normalizes the arguments of [*Stream.Connect] and [*Dialer.Create].
//
// The accepted call shapes are (options, cb), (port, host, cb), (port, cb),
// (cb), and (). The rules are, in order:
//
//  1. a trailing callable is the callback;
//  2. a leading number is the port;
//  3. a following string is the host;
//  4. the first remaining object ([Options], [*Options], or map[string]any)
//     is merged last and overrides the fields captured so far;
//  5. a port that is not an integer in 1..65535 is treated as missing.
//
// ParseArgs never panics, regardless of the arguments.
func ParseArgs(args ...any) Options {
	var opts Options

	if n := len(args); n > 0 {
		if cb, ok := asCallback(args[n-1]); ok {
			opts.Callback = cb
			args = args[:n-1]
		}
	}

	if len(args) > 0 {
		if port, ok := asNumber(args[0]); ok {
			opts.Port = port
			args = args[1:]
		}
	}

	if len(args) > 0 {
		if host, ok := args[0].(string); ok {
			opts.Host = host
			args = args[1:]
		}
	}

	for _, arg := range args {
		if mergeObject(&opts, arg) {
			break
		}
	}

	if opts.Port < 1 || opts.Port > math.MaxUint16 {
		opts.Port = 0
	}
	return opts
}

// asCallback returns the callback contained in arg, if any.
func asCallback(arg any) (ConnectCallback, bool) {
	switch fx := arg.(type) {
	case ConnectCallback:
		return fx, fx != nil
	case func(error, *Stream):
		return fx, fx != nil
	case func(error):
		if fx == nil {
			return nil, false
		}
		return func(err error, _ *Stream) { fx(err) }, true
	default:
		return nil, false
	}
}

// asNumber returns the port contained in a numeric arg.
//
// The second return value tells whether arg was numeric at all; the port
// is zero when arg was numeric but not an integer.
func asNumber(arg any) (int, bool) {
	if num, ok := arg.(json.Number); ok {
		return parsePort(string(num)), true
	}
	if arg == nil {
		return 0, false
	}
	v := reflect.ValueOf(arg)
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return clampPort(v.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		if v.Uint() > math.MaxUint16 {
			return 0, true
		}
		return int(v.Uint()), true
	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
			return 0, true
		}
		return clampPort(int64(f)), true
	default:
		return 0, false
	}
}

// clampPort maps out-of-range values to zero.
func clampPort(value int64) int {
	if value < 1 || value > math.MaxUint16 {
		return 0
	}
	return int(value)
}

// parsePort parses a decimal port or returns zero.
func parsePort(value string) int {
	port, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0
	}
	return clampPort(port)
}

// mergeObject merges arg into opts and returns whether arg was an object.
func mergeObject(opts *Options, arg any) bool {
	switch obj := arg.(type) {
	case Options:
		mergeOptions(opts, &obj)
		return true
	case *Options:
		if obj == nil {
			return false
		}
		mergeOptions(opts, obj)
		return true
	case map[string]any:
		if obj == nil {
			return false
		}
		mergeMap(opts, obj)
		return true
	default:
		return false
	}
}

func mergeOptions(opts, obj *Options) {
	if obj.Host != "" {
		opts.Host = obj.Host
	}
	if obj.Port != 0 {
		opts.Port = obj.Port
	}
	if obj.Callback != nil {
		opts.Callback = obj.Callback
	}
}

func mergeMap(opts *Options, obj map[string]any) {
	if value, found := obj["host"]; found {
		host, _ := value.(string)
		opts.Host = host
	}
	if value, found := obj["port"]; found {
		opts.Port = anyToPort(value)
	}
	if value, found := obj["callback"]; found {
		opts.Callback, _ = asCallback(value)
	}
}

// anyToPort converts a map value to a port, accepting numeric strings.
func anyToPort(value any) int {
	if s, ok := value.(string); ok {
		return parsePort(s)
	}
	port, _ := asNumber(value)
	return port
}
