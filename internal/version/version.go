// Package version carries the core version stamped into envelopes and
// target manifests.
package version

// Version is the running core version.
const Version = "0.6.0"
