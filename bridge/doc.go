// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package bridge connects an interception context to the tunneling page.
//
// The two run as separate processes joined by a link: a stream of CBOR
// [Message] items over a Unix socket. [Interceptor] is the interception
// side. It is an http.Handler that captures each request, encodes it as
// a serialized frame, and sends it over the link tagged with a fresh ID.
// The correlated reply is decoded, its sentinel redirect header is
// rewritten into Location, and the result completes the request.
// Requests under the reserved path prefix, and absolute URLs for other
// origins, are infrastructure traffic and pass through untouched.
//
// [Page] is the tunneling page's side. It listens on the socket, hands
// each request frame to a [Tunnel] (in practice a tunnel.Multiplexer)
// and writes the response frame back under the request's ID.
//
// The link's IDs are independent of the multiplexer's: each hop keeps
// its own correlation table. Every waiting request completes exactly
// once, with the reply, or with 503 when no link is attached, 502 when
// the link drops, or 504 when the reply timeout expires. Interceptor.Run
// redials a dropped link with exponential backoff.
package bridge
