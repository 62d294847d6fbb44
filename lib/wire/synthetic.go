// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"net/http"
	"strconv"
)

const unavailablePage = `<!DOCTYPE html>
<html>
<head><title>503 Service Unavailable</title></head>
<body>
<h1>Service Unavailable</h1>
<p>No peer tunnel is connected. Open the tunnel page and connect to a room, then retry.</p>
</body>
</html>
`

// Unavailable is returned when a request is issued while no tunnel
// session (or no tunneling page) is reachable.
func Unavailable() *Response {
	return synthetic(http.StatusServiceUnavailable, "text/html; charset=utf-8", unavailablePage)
}

// BadGateway is returned for every request still pending when the
// session carrying it drops.
func BadGateway() *Response {
	return synthetic(http.StatusBadGateway, "text/plain; charset=utf-8", "peer tunnel closed before the response arrived\n")
}

// GatewayTimeout is returned when a correlated reply does not arrive
// within the configured wait.
func GatewayTimeout() *Response {
	return synthetic(http.StatusGatewayTimeout, "text/plain; charset=utf-8", "peer tunnel reply timed out\n")
}

// NetworkError stands in for a response that could not be decoded.
func NetworkError() *Response {
	return synthetic(http.StatusBadGateway, "text/plain; charset=utf-8", "malformed response from peer tunnel\n")
}

// UnavailableFrame is the encoded form of Unavailable.
func UnavailableFrame() []byte { return EncodeResponse(Unavailable()) }

// BadGatewayFrame is the encoded form of BadGateway.
func BadGatewayFrame() []byte { return EncodeResponse(BadGateway()) }

// GatewayTimeoutFrame is the encoded form of GatewayTimeout.
func GatewayTimeoutFrame() []byte { return EncodeResponse(GatewayTimeout()) }

func synthetic(status int, contentType, body string) *Response {
	return &Response{
		StatusCode: status,
		StatusText: http.StatusText(status),
		Header: HeaderList{
			{Name: "Content-Type", Value: contentType},
			{Name: "Content-Length", Value: strconv.Itoa(len(body))},
		},
		Body: []byte(body),
	}
}
