// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the CBOR configuration for the link between the
// interception context and the tunneling page.
//
// JSON is reserved for the signaling wire, which browsers and other
// implementations speak. The link is internal to one machine and carries
// raw serialized frames, so it uses CBOR: byte strings travel without
// base64 inflation and each message is one self-delimiting item on the
// stream.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2), so equal
// messages produce equal bytes.
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
//
// Link message types carry `cbor` struct tags; they are never JSON.
package codec
