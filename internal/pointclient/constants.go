package pointclient

import "time"

// Defaults for a featurization run.
const (
	DefaultBaseURL   = "http://localhost:4042"
	DefaultBatchSize = 1000
	DefaultTimeout   = 5 * time.Minute
)

// Worker configuration constants.
const (
	WorkerChannelMultiplier = 2
)

// Runner configuration constants.
const (
	PercentageMultiplier = 100
)
