package ports

import "time"

const (
	DefaultGroupWindow    = 10 * time.Second // Acceptance window of a freshly formed merchant group
	DefaultSweepInterval  = 2 * time.Second
	DefaultSweepBatchSize = 100
	MaxCASAttempts        = 3 // Re-reads of an order after a lost conditional write
	PriceScale            = 8 // Fractional digits of one zatoshi
)
