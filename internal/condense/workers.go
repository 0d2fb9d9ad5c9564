package condense

import "github.com/novelcondense/novelcondense/internal/core"

// Worker pool bounds.
const (
	MinWorkers = 1
	MaxWorkers = 10
)

// freeTierRPM caps how much of a credential's rpm counts toward concurrency.
const freeTierRPM = 15

// PoolSize derives how many chapters to process in parallel. A configured
// value wins. Otherwise each credential contributes at most 15 rpm; a single
// credential gets one worker per 5 rpm and several share one worker per 30.
func PoolSize(creds []core.Credential, configured int) int {
	if configured > 0 {
		return clampWorkers(configured)
	}
	if len(creds) == 0 {
		return MinWorkers
	}
	total := 0
	for _, cred := range creds {
		total += min(cred.RPM, freeTierRPM)
	}
	if len(creds) == 1 {
		return clampWorkers(total / 5)
	}
	return clampWorkers(total / 30)
}

func clampWorkers(n int) int {
	return max(MinWorkers, min(n, MaxWorkers))
}
