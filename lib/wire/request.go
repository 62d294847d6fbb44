// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

const crlf = "\r\n"

// DefaultUserAgent is synthesized when an intercepted request carries no
// User-Agent of its own.
const DefaultUserAgent = "peertunnel"

// synthesizedHeaders are derived from the request context at encode time
// and therefore never copied from the caller's header list.
var synthesizedHeaders = map[string]bool{
	"host":           true,
	"origin":         true,
	"user-agent":     true,
	"content-length": true,
	"referer":        true,
}

// Request describes one intercepted HTTP request. It is immutable once
// captured: encoders read it, nothing writes it.
type Request struct {
	// Method is the request method, e.g. "GET".
	Method string

	// URL is the absolute request URL with any fragment removed.
	URL string

	// Header holds the caller's header fields in order. Names are
	// lower-case, matching what a browser Headers iteration yields.
	Header HeaderList

	// Body is the fully materialized request body. Nil when the request
	// had no body.
	Body []byte

	// Host, Origin, UserAgent and Referrer are synthesized from the
	// request context. Referrer is empty when the request carried no
	// referrer, in which case no Referer line is encoded.
	Host      string
	Origin    string
	UserAgent string
	Referrer  string
}

// HasBody reports whether the request carries a body.
func (r *Request) HasBody() bool {
	return r.Body != nil
}

// CaptureRequest materializes an intercepted request into a Request.
// origin is the origin the intercepting context serves; relative request
// URLs are resolved against it. The body is read to EOF and closed.
func CaptureRequest(request *http.Request, origin *url.URL) (*Request, error) {
	target := *request.URL
	if !target.IsAbs() {
		target.Scheme = origin.Scheme
		target.Host = origin.Host
	}
	target.Fragment = ""
	target.RawFragment = ""

	var body []byte
	if request.Body != nil && request.Body != http.NoBody {
		data, err := io.ReadAll(request.Body)
		request.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("reading request body: %w", err)
		}
		if len(data) > 0 || request.ContentLength > 0 {
			body = data
		}
	}

	names := make([]string, 0, len(request.Header))
	for name := range request.Header {
		if synthesizedHeaders[strings.ToLower(name)] {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	var header HeaderList
	for _, name := range names {
		for _, value := range request.Header[name] {
			header = append(header, Field{Name: strings.ToLower(name), Value: value})
		}
	}

	userAgent := request.Header.Get("User-Agent")
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	return &Request{
		Method:    request.Method,
		URL:       target.String(),
		Header:    header,
		Body:      body,
		Host:      target.Host,
		Origin:    origin.Scheme + "://" + origin.Host,
		UserAgent: userAgent,
		Referrer:  request.Referer(),
	}, nil
}

// EncodeRequest serializes a request into a frame: the request line, the
// caller's headers, the synthesized headers, a blank line, and the body
// bytes verbatim.
func EncodeRequest(request *Request) []byte {
	var buffer bytes.Buffer
	buffer.Grow(256 + len(request.Body))

	buffer.WriteString(request.Method)
	buffer.WriteByte(' ')
	buffer.WriteString(request.URL)
	buffer.WriteString(" HTTP/1.1")

	for _, field := range request.Header {
		writeField(&buffer, field.Name, field.Value)
	}

	writeField(&buffer, "Host", request.Host)
	if request.Origin != "" {
		writeField(&buffer, "Origin", request.Origin)
	}
	if request.UserAgent != "" {
		writeField(&buffer, "User-Agent", request.UserAgent)
	}
	writeField(&buffer, "Content-Length", strconv.Itoa(len(request.Body)))
	if request.Referrer != "" {
		writeField(&buffer, "Referer", request.Referrer)
	}

	buffer.WriteString(crlf + crlf)
	buffer.Write(request.Body)
	return buffer.Bytes()
}

func writeField(buffer *bytes.Buffer, name, value string) {
	buffer.WriteString(crlf)
	buffer.WriteString(name)
	buffer.WriteString(": ")
	buffer.WriteString(value)
}
