// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock is the injectable time source for the interception
// bridge: reply deadlines are armed with AfterFunc and link redial
// waits use After.
//
// Production code holds a [Clock] and uses [Real]. Tests use [Fake],
// which stands still until Advance is called:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	interceptor := bridge.NewInterceptor(bridge.InterceptorConfig{Clock: fake})
//	// ... issue a request ...
//	fake.WaitForTimers(1)
//	fake.Advance(replyTimeout) // the pending request resolves with 504
//
// WaitForTimers blocks until the code under test has registered its
// timer, which removes the race between registration and Advance.
package clock
