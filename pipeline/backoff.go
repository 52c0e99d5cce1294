package pipeline

import "time"

// Backoff computes min(cap, base * 2^retries), the schedule named for CI
// RPC retries (base 1s, cap 60s) and PMP/PTP row retries (base 5s, cap 1h).
func Backoff(retries uint32, base, cap time.Duration) time.Duration {
	if retries == 0 {
		return base
	}
	d := base
	for i := uint32(0); i < retries; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}

const (
	// ChainRPCBackoffBase/Cap is the CI exponential backoff schedule (§4.1).
	ChainRPCBackoffBase = time.Second
	ChainRPCBackoffCap  = 60 * time.Second

	// RowBackoffBase/Cap is the PTP/PMP row retry schedule (§4.2, §4.3).
	RowBackoffBase = 5 * time.Second
	RowBackoffCap  = time.Hour

	// DefaultMaxRetries is how many attempts a pending row gets before it is
	// demoted to the rejected table.
	DefaultMaxRetries = 10
)
