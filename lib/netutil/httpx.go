// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil provides network and HTTP I/O utilities shared by the
// tunnel binaries.
//
// ReadResponse and ErrorBody bound HTTP body reads at MaxResponseSize so
// that a misbehaving signaling server cannot exhaust memory while a
// room id or an error message is read.
//
// IsExpectedCloseError classifies errors produced by normal connection
// teardown (websocket links, the interception link) so they are not
// logged as failures.
package netutil

import "io"

// MaxResponseSize bounds control-plane response body reads: 1 MB.
const MaxResponseSize int64 = 1 << 20

// ReadResponse reads a control-plane response body up to MaxResponseSize
// bytes.
func ReadResponse(body io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(body, MaxResponseSize))
}

// ErrorBody reads an HTTP error response body and returns it as a string for
// diagnostic error messages. Read errors are ignored; a partial or empty
// body is still useful in an error message.
func ErrorBody(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, MaxResponseSize))
	return string(data)
}
