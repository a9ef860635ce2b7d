//go:build e2e

// Package e2e provides end-to-end tests for the RTP QoS monitor.
//
// These tests are isolated from the standard test suite via build tags.
// They require a Chrome browser (auto-downloaded by Rod if not present)
// and are intended for CI pipelines or explicit local testing.
//
// Running E2E tests:
//
//	go test -tags=e2e ./e2e/...
//
// Running all tests except E2E:
//
//	go test ./...
//
// E2E tests use:
//   - Rod for browser automation (Chrome DevTools Protocol)
//   - the qos-monitor server for WebRTC signaling and reports
//   - BrowserClient from pkg/rtpqos/testutil for Chrome helpers
//
// Each test starts its own server on a random port and launches
// its own browser instance. Chrome's fake audio device stands in for the
// microphone.
package e2e
