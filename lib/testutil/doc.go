// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers.
//
// [SocketDir] creates a short temporary directory in /tmp for Unix
// domain sockets, whose paths are limited to 108 bytes; t.TempDir()
// paths can exceed that.
//
// [RequireReceive] and [RequireClosed] wait on channels
// with a timeout so tests never hang on a lost event.
// [RequireEventually] polls state that has no event to wait on. These
// are the only real wall-clock timeouts in the test suite; reply
// timeouts and redial delays are tested with lib/clock.Fake.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
package testutil
