/*
Copyright 2026 The Tesoro Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Adapted from github.com/kcp-dev/kcp/staging/src/github.com/kcp-dev/sdk/testing/helpers/eventually.go
*/

package testing

import (
	"time"

	"github.com/stretchr/testify/require"
)

const (
	// Timeout is the default timeout for Eventually assertions in tests.
	Timeout = 10 * time.Second

	// PollInterval is the default polling interval for Eventually assertions.
	PollInterval = 20 * time.Millisecond
)

// TestingT is the subset of testing.T used by these helpers.
type TestingT interface {
	Helper()
	Logf(format string, args ...interface{})
}

// Eventually asserts that given condition will be met in waitFor time, periodically checking target function
// each tick. In addition to require.Eventually, this function t.Logs the reason string value returned by the condition
// function (eventually after 20% of the wait time) to aid in debugging.
func Eventually(t TestingT, condition func() (success bool, reason string), waitFor time.Duration, tick time.Duration, msgAndArgs ...interface{}) {
	t.Helper()

	var last string
	start := time.Now()
	require.Eventually(t.(require.TestingT), func() bool {
		t.Helper()

		ok, msg := condition()
		if time.Since(start) > waitFor/5 {
			if !ok && msg != "" && msg != last {
				last = msg
				t.Logf("Waiting for condition, but got: %s", msg)
			} else if ok && msg != "" && last != "" {
				t.Logf("Condition became true: %s", msg)
			}
		}
		return ok
	}, waitFor, tick, msgAndArgs...)
}
