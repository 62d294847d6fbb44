// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package tunnel moves serialized HTTP frames across a peer session.
//
// On the offering side, [Multiplexer] owns the data channel. Send
// assigns each request a fresh increasing identifier, writes its
// fragments followed by a zero-length terminator, and returns a channel
// that receives exactly one response frame: the peer's response, the
// 503 unavailable frame when no session is open, or the 502 bad gateway
// frame when the session ends first.
//
// On the answering side, [Responder] reassembles request frames,
// proxies them to a target with net/http/httputil, and writes the
// response frames back in request arrival order. [Hub] keeps one
// answering peer connection per client of a signaling room and hands
// each "http" channel to the responder.
//
// Frames carry no identifier on the data channel. Correlation follows
// from the channel being ordered and the responder answering in
// arrival order.
package tunnel
