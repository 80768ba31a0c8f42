// Package control exposes session control over gRPC for local tooling.
package control

import "time"

// Service identity
const (
	ServiceName = "voicegate.v1.SessionControl"

	methodStart  = "/" + ServiceName + "/Start"
	methodStop   = "/" + ServiceName + "/Stop"
	methodStatus = "/" + ServiceName + "/Status"
	methodWatch  = "/" + ServiceName + "/Watch"
)

// Client configuration defaults
const (
	// Keepalive configuration
	DefaultKeepaliveTime    = 10 * time.Second
	DefaultKeepaliveTimeout = 3 * time.Second

	// Health check configuration
	HealthCheckTimeout = 2 * time.Second
)
