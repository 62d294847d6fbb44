// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package wire converts HTTP requests and responses to and from the flat
// byte frames that travel through a peer tunnel.
//
// A frame is an HTTP/1.1 start line, CRLF-terminated header lines, a
// blank line, and the raw body. There is no chunked transfer encoding:
// bodies are fully materialized before encoding, so Content-Length is
// always computed from the realized body.
//
// [EncodeRequest] serializes a [Request] captured from an intercepted
// HTTP request (see [CaptureRequest]). It appends the synthesized Host,
// Origin, User-Agent, Content-Length and (when present) Referer headers
// after the caller's header list. [DecodeResponse] parses a response
// frame; a frame without the CRLF-CRLF header/body boundary is malformed
// and decodes to the synthetic [NetworkError] response together with
// [ErrMalformedFrame]. [EncodeResponse] is the inverse used by the
// answering peer and by the synthetic failure frames.
//
// The answering peer computes absolute redirect targets and carries them
// in the [LocationSentinel] header. [Response.RewriteRedirect] moves that
// value into Location and strips the sentinel before a response reaches
// its caller.
//
// Nothing in this package performs I/O beyond reading an intercepted
// request body, and nothing holds state between calls.
package wire
