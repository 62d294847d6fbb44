// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package fragment moves arbitrarily large frames across a
// message-oriented channel.
//
// A frame is sent as ceil(len/max) non-empty chunks, left to right,
// followed by one zero-length terminator chunk. The terminator is always
// sent, including for frames that fit in a single message, so the
// receiver never has to guess whether a transfer is complete. The
// channel is assumed ordered and reliable (an ordered SCTP data
// channel); there is no reordering or loss recovery here.
package fragment

import (
	"bytes"
	"errors"
	"fmt"
)

// MaxChunk is the largest chunk written to a data channel: one byte
// under 16 KiB, the largest message every WebRTC implementation accepts.
const MaxChunk = 16*1024 - 1

// ErrUnterminated is returned by Reassemble when the chunk sequence ends
// without a terminator.
var ErrUnterminated = errors.New("fragment: sequence has no terminator")

// Split returns the chunks for data: the data chunks, each at most
// maxChunk bytes, then the empty terminator. Data chunks alias data.
// Panics if maxChunk is not positive.
func Split(data []byte, maxChunk int) [][]byte {
	if maxChunk <= 0 {
		panic(fmt.Sprintf("fragment: invalid chunk size %d", maxChunk))
	}

	count := (len(data) + maxChunk - 1) / maxChunk
	chunks := make([][]byte, 0, count+1)
	for offset := 0; offset < len(data); offset += maxChunk {
		end := min(offset+maxChunk, len(data))
		chunks = append(chunks, data[offset:end:end])
	}
	return append(chunks, []byte{})
}

// Reassembler accumulates chunks of one transfer at a time. The zero
// value is ready to use. A Reassembler is not safe for concurrent use;
// its owner serializes Push calls in arrival order.
type Reassembler struct {
	buffer bytes.Buffer
	chunks int
}

// Push adds one received chunk. When chunk is the terminator, Push
// returns the complete frame and true, and the Reassembler is reset for
// the next transfer. The returned frame does not alias any pushed chunk.
func (r *Reassembler) Push(chunk []byte) ([]byte, bool) {
	if len(chunk) > 0 {
		r.buffer.Write(chunk)
		r.chunks++
		return nil, false
	}

	frame := bytes.Clone(r.buffer.Bytes())
	if frame == nil {
		frame = []byte{}
	}
	r.buffer.Reset()
	r.chunks = 0
	return frame, true
}

// Pending reports the number of data chunks and bytes buffered for the
// transfer in progress.
func (r *Reassembler) Pending() (chunks int, size int) {
	return r.chunks, r.buffer.Len()
}

// Reassemble concatenates a complete chunk sequence. Chunks after the
// first terminator are ignored.
func Reassemble(chunks [][]byte) ([]byte, error) {
	var reassembler Reassembler
	for _, chunk := range chunks {
		if frame, done := reassembler.Push(chunk); done {
			return frame, nil
		}
	}
	return nil, ErrUnterminated
}
