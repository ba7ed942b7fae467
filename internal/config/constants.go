package config

import "time"

// Application constants
const (
	AppName    = "prolicense"
	AppDirName = "prolicense"

	// License server
	DefaultServerURL      = "https://api.synkra.ai"
	DefaultPurchaseURL    = "https://synkra.ai/pro"
	DefaultRequestTimeout = 10 * time.Second

	// Cache lifetime defaults applied when a record carries zero
	DefaultCacheValidDays  = 30
	DefaultGracePeriodDays = 7

	// Background behaviour
	DefaultSyncInterval  = time.Minute
	DefaultWatchDebounce = 250 * time.Millisecond
)
