// Package config provides configuration defaults and utilities
// for the tabarch daemon.
//
// This package defines all configurable constants with documented defaults.
// Users can override these values via config.yaml or command line flags.
package config

import "time"

// =============================================================================
// Archive Defaults
// =============================================================================

const (
	// DefaultPeriod is how long an archive file stays open before rotation.
	// Override via config: archive.period
	DefaultPeriod = time.Hour

	// DefaultSizeFraction is the fraction of the scratch filesystem's total
	// capacity used as the size threshold when archive.size_limit is unset.
	DefaultSizeFraction = 0.25

	// DefaultGroup is the root group path for table columns.
	// Override via config: archive.group
	DefaultGroup = "/"

	// DefaultReservedPrefix is the byte prefix reserved ahead of the container
	// superblock. The compatibility header needs at least 128 of these bytes.
	DefaultReservedPrefix = 512
)

// =============================================================================
// Migration Defaults
// =============================================================================

const (
	// MigrationPollWait is how long a rotation waits for the previous
	// migration before logging a stall warning and blocking.
	MigrationPollWait = 10 * time.Millisecond
)

// =============================================================================
// Feed Defaults
// =============================================================================

const (
	// DefaultFeedMaxMessageSize limits feed message size to prevent OOM.
	// 64 MiB covers any reasonable table batch.
	DefaultFeedMaxMessageSize = 64 * 1024 * 1024

	// DefaultFeedPongWait is the time allowed to read the next pong.
	DefaultFeedPongWait = 60 * time.Second

	// DefaultFeedWriteWait is the time allowed to write a message to the peer.
	DefaultFeedWriteWait = 10 * time.Second

	// DefaultFeedReconnectMin is the initial reconnect backoff.
	DefaultFeedReconnectMin = time.Second

	// DefaultFeedReconnectMax is the reconnect backoff ceiling.
	DefaultFeedReconnectMax = 30 * time.Second
)

// =============================================================================
// Consumer Defaults
// =============================================================================

const (
	// LatencyWarnFraction is the fraction of the observed inter-update
	// interval beyond which processing time triggers a backpressure warning.
	LatencyWarnFraction = 0.75

	// LatencySketchAccuracy is the DDSketch relative accuracy for
	// processing-time quantiles (0.01 = 1% error).
	LatencySketchAccuracy = 0.01
)
