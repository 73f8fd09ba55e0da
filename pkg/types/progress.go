package types

import "time"

// TrialProgress reports the outcome of one benchmark trial
type TrialProgress struct {
	Protocol string        // Protocol under test
	Trial    int           // 1-based index of the finished trial
	Trials   int           // Trials planned for this protocol
	Elapsed  time.Duration // Total time of the trial
	Err      error         // Non-nil when the trial failed
}
