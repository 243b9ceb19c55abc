package constants

import "time"

// Twitch IRC endpoint and wire limits
const (
	// TwitchIRCAddress is the plain-text Twitch chat endpoint
	TwitchIRCAddress = "irc.chat.twitch.tv:6667"
	// MaxChatMessageLength is Twitch's PRIVMSG body limit
	MaxChatMessageLength = 500
)

// Connection manager timing
const (
	// DefaultReconnectBackoff is the fixed delay between reconnect attempts
	DefaultReconnectBackoff = 5 * time.Second
	// DefaultPingWindow is the keepalive window for PING/PONG tracking
	DefaultPingWindow = 3 * time.Minute
	// DefaultRegistrationTimeout bounds the wait for GLOBALUSERSTATE after registering
	DefaultRegistrationTimeout = 30 * time.Second
	// DefaultWriteTimeout bounds a single frame write+flush
	DefaultWriteTimeout = 10 * time.Second
	// DefaultDialTimeout bounds establishing the TCP connection
	DefaultDialTimeout = 10 * time.Second
)

// Manifest watching
const (
	// DefaultWatchInterval is how often the scripts are polled for changes
	DefaultWatchInterval = 100 * time.Millisecond
	// DefaultWatchThreshold is the minimum mtime advance that counts as a change
	DefaultWatchThreshold = 100 * time.Millisecond
	// ManifestReadRetryDelay is the pause between reads while the manifest is empty
	ManifestReadRetryDelay = 10 * time.Millisecond
	// ManifestReadTimeout bounds retrying an empty manifest file
	ManifestReadTimeout = 2 * time.Second
)

// Channel buffer sizes
const (
	// EventChannelBufferSize is the buffer size for connection events
	EventChannelBufferSize = 64
	// ResponseChannelBufferSize is the buffer size for outbound responses
	ResponseChannelBufferSize = 256
	// RerouteChannelBufferSize is the buffer size for re-routed chat messages
	RerouteChannelBufferSize = 32
)

// Chat history batching
const (
	// DefaultHistoryMaxBatch is the number of rows that forces a flush
	DefaultHistoryMaxBatch = 100
	// DefaultHistoryFlushEvery is the periodic flush interval
	DefaultHistoryFlushEvery = 1500 * time.Millisecond
	// DefaultHistoryBuffer is the queue size before messages are dropped
	DefaultHistoryBuffer = 4096
	// DefaultHistoryFlushTimeout bounds a single batch insert
	DefaultHistoryFlushTimeout = 5 * time.Second
)

// Logging defaults
const (
	// DefaultLogMaxSize is the default maximum log file size in MB
	DefaultLogMaxSize = 100
	// DefaultLogMaxAge is the default maximum number of days to retain old logs
	DefaultLogMaxAge = 30
)

// Token masking
const (
	// MinSecretLengthForMasking is the minimum secret length to apply masking
	MinSecretLengthForMasking = 10
	// SecretMaskPrefixLength is the length of prefix to show before masking
	SecretMaskPrefixLength = 4
	// SecretMaskSuffixLength is the length of suffix to show after masking
	SecretMaskSuffixLength = 2
)
