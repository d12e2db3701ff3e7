// Package version holds build-time identity for k7 binaries.
package version

// Version is overridden at build time via -ldflags.
var Version = "dev"

// BinaryName is the name of the k7 CLI binary. No log line or HTTP response
// in this module includes it.
var BinaryName = "k7"
