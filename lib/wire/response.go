// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// LocationSentinel carries the absolute redirect target computed by the
// answering peer. It is part of the tunnel wire contract: the near side
// copies it into Location and removes it.
const LocationSentinel = "X-Peertunnel-Location"

// ErrMalformedFrame is returned by DecodeResponse when a frame has no
// CRLF-CRLF header/body boundary or an unparseable status line.
var ErrMalformedFrame = errors.New("wire: malformed frame")

var boundary = []byte("\r\n\r\n")

// Response describes one HTTP response carried through the tunnel.
type Response struct {
	StatusCode int
	StatusText string
	Header     HeaderList
	Body       []byte
}

// EncodeResponse serializes a response into a frame. Header fields are
// written exactly as given; nothing is synthesized.
func EncodeResponse(response *Response) []byte {
	var buffer bytes.Buffer
	buffer.Grow(128 + len(response.Body))

	buffer.WriteString("HTTP/1.1 ")
	buffer.WriteString(strconv.Itoa(response.StatusCode))
	if response.StatusText != "" {
		buffer.WriteByte(' ')
		buffer.WriteString(response.StatusText)
	}
	for _, field := range response.Header {
		writeField(&buffer, field.Name, field.Value)
	}
	buffer.WriteString(crlf + crlf)
	buffer.Write(response.Body)
	return buffer.Bytes()
}

// DecodeResponse parses a response frame. The body is the frame's bytes
// after the first CRLF-CRLF, unmodified. When the frame is malformed the
// returned response is NetworkError() and the error wraps
// ErrMalformedFrame, so callers can hand the response on either way.
func DecodeResponse(frame []byte) (*Response, error) {
	index := bytes.Index(frame, boundary)
	if index < 0 {
		return NetworkError(), fmt.Errorf("%w: no header boundary in %d bytes", ErrMalformedFrame, len(frame))
	}

	lines := strings.Split(string(frame[:index]), crlf)

	statusFields := strings.Fields(lines[0])
	if len(statusFields) < 2 {
		return NetworkError(), fmt.Errorf("%w: status line %q", ErrMalformedFrame, lines[0])
	}
	statusCode, err := strconv.Atoi(statusFields[1])
	if err != nil {
		return NetworkError(), fmt.Errorf("%w: status code %q", ErrMalformedFrame, statusFields[1])
	}

	response := &Response{
		StatusCode: statusCode,
		StatusText: strings.Join(statusFields[2:], " "),
	}

	for _, line := range lines[1:] {
		name, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		value, _ = strings.CutPrefix(value, " ")
		response.Header = append(response.Header, Field{Name: name, Value: value})
	}

	response.Body = frame[index+len(boundary):]
	return response, nil
}

// RewriteRedirect replaces Location with the LocationSentinel value and
// removes the sentinel. Returns false, leaving the response untouched,
// when no sentinel is present.
func (r *Response) RewriteRedirect() bool {
	if !r.Header.Has(LocationSentinel) {
		return false
	}
	target := r.Header.Get(LocationSentinel)
	r.Header = r.Header.Del(LocationSentinel).Set("Location", target)
	return true
}

// contentLength is the Content-Length to report for a response to
// method. The target's value is only kept for bodiless HEAD responses.
func (r *Response) contentLength(method string) string {
	if method == http.MethodHead && len(r.Body) == 0 {
		if declared := r.Header.Get("Content-Length"); declared != "" {
			if _, err := strconv.ParseUint(declared, 10, 63); err == nil {
				return declared
			}
		}
	}
	return strconv.Itoa(len(r.Body))
}

// hopHeaders describe the framing of the original hop and are recomputed
// when a response is written back to a local caller.
var hopHeaders = []string{"Connection", "Content-Length", "Keep-Alive", "Transfer-Encoding"}

// Write sends the response to a local HTTP caller that made a method
// request. Content-Length is recomputed from the body, except for an
// empty HEAD response, which keeps the length the target reported.
func (r *Response) Write(writer http.ResponseWriter, method string) error {
	header := writer.Header()
	for _, field := range r.Header {
		header.Add(field.Name, field.Value)
	}
	for _, name := range hopHeaders {
		header.Del(name)
	}
	header.Set("Content-Length", r.contentLength(method))
	writer.WriteHeader(r.StatusCode)
	_, err := writer.Write(r.Body)
	return err
}
