// Package version exposes build information for the service_started event
// and the startup log.
//
// Version, git commit and build time are set at compile time via -ldflags:
//
//	go build -ldflags "-X github.com/kbukum/eventbridge/version.Version=1.2.0"
package version
