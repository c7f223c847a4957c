package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts
const (
	ServerRequestTimeout  = 60 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

const DBPingTimeout = 5 * time.Second

// Inbound processing
const (
	DispatchTimeout     = 2 * time.Minute
	OutboundSendTimeout = 15 * time.Second
)

// Pairing TTL bounds, in minutes
const (
	PairingDefaultTTLMinutes = 15
	PairingMinTTLMinutes     = 3
	PairingMaxTTLMinutes     = 240
)

// Background jobs
const (
	CleanupJobInterval     = 30 * time.Minute
	PairingRetentionPeriod = 7 * 24 * time.Hour
)

const DefaultRateLimitPerMin = 60

// Event fan-out queue size; records beyond this are dropped.
const EventQueueSize = 1024
