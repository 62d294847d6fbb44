// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"io"
	"slices"
	"testing"
)

// sampleMessage has the shape of a link message: a tag, an id, a list
// of pairs and a raw byte payload.
type sampleMessage struct {
	Type    string      `cbor:"type"`
	ID      uint64      `cbor:"id"`
	Pairs   [][2]string `cbor:"pairs,omitempty"`
	Payload []byte      `cbor:"payload,omitempty"`
}

func (m sampleMessage) equal(other sampleMessage) bool {
	return m.Type == other.Type && m.ID == other.ID &&
		slices.Equal(m.Pairs, other.Pairs) && bytes.Equal(m.Payload, other.Payload)
}

// encode writes each value as one stream item and returns the bytes.
func encode(t *testing.T, values ...any) []byte {
	t.Helper()
	var buffer bytes.Buffer
	encoder := NewEncoder(&buffer)
	for _, value := range values {
		if err := encoder.Encode(value); err != nil {
			t.Fatalf("Encode: %v", err)
		}
	}
	return buffer.Bytes()
}

func TestEncodeDeterministic(t *testing.T) {
	message := sampleMessage{Type: "response", ID: 7, Payload: []byte{0, 1, 2}}
	first := encode(t, message)
	second := encode(t, message)
	if !bytes.Equal(first, second) {
		t.Errorf("deterministic encoding violated: %x != %x", first, second)
	}

	// Map keys are sorted, so field order in the source cannot matter.
	reordered := encode(t, map[string]any{"id": uint64(7), "type": "response", "payload": []byte{0, 1, 2}})
	if !bytes.Equal(first, reordered) {
		t.Errorf("struct and map encodings differ: %x != %x", first, reordered)
	}
}

func TestEncoderDecoderStream(t *testing.T) {
	messages := []sampleMessage{
		{Type: "request", ID: 1, Payload: []byte("one")},
		{Type: "request", ID: 2, Payload: bytes.Repeat([]byte{0xff}, 70000)},
		{Type: "response", ID: 1},
	}

	var buffer bytes.Buffer
	encoder := NewEncoder(&buffer)
	for _, message := range messages {
		if err := encoder.Encode(message); err != nil {
			t.Fatalf("Encode: %v", err)
		}
	}

	decoder := NewDecoder(&buffer)
	for index, want := range messages {
		var got sampleMessage
		if err := decoder.Decode(&got); err != nil {
			t.Fatalf("Decode message %d: %v", index, err)
		}
		if !got.equal(want) {
			t.Errorf("message %d: got type=%s id=%d len=%d", index, got.Type, got.ID, len(got.Payload))
		}
	}

	var extra sampleMessage
	if err := decoder.Decode(&extra); err != io.EOF {
		t.Errorf("Decode past end = %v, want io.EOF", err)
	}
}

func TestOmitemptyRespected(t *testing.T) {
	withPayload := encode(t, sampleMessage{Type: "request", Payload: []byte("x")})
	withoutPayload := encode(t, sampleMessage{Type: "request"})
	if len(withoutPayload) >= len(withPayload) {
		t.Errorf("omitempty not applied: %d bytes without payload, %d with", len(withoutPayload), len(withPayload))
	}
}

func TestUnknownFieldsIgnored(t *testing.T) {
	data := encode(t, map[string]any{"type": "response", "id": 3, "future": true})
	var decoded sampleMessage
	if err := NewDecoder(bytes.NewReader(data)).Decode(&decoded); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.Type != "response" || decoded.ID != 3 {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestDecodeInvalidCBOR(t *testing.T) {
	var decoded sampleMessage
	if err := NewDecoder(bytes.NewReader([]byte{0xff, 0xfe, 0xfd})).Decode(&decoded); err == nil {
		t.Error("expected error for invalid CBOR")
	}
}
