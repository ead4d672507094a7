package plugin

/*
	CalcRate

	Returns a positive integer rate per second,
	used for the loop diagnostics and the dispatch rate on the display.
*/

import (
	"sync"
	"time"
)

// RateMeter keeps the previous count per key
// and turns a running counter into a per-second rate.
type RateMeter struct {
	MU       sync.Mutex
	PrevVal  map[string]int64
	PrevTime map[string]time.Time
}

func NewRateMeter() *RateMeter {
	return &RateMeter{
		PrevVal:  make(map[string]int64),
		PrevTime: make(map[string]time.Time),
	}
}

// Observe records /current/ for /key/ and returns the rate since the last observation.
// The first observation of a key has no rate and returns 0.
func (rm *RateMeter) Observe(key string, current int64, timestamp time.Time) int64 {
	rm.MU.Lock()
	defer rm.MU.Unlock()

	// If it's not even initialized, fix that too
	if rm.PrevVal == nil {
		rm.PrevVal = make(map[string]int64)
		rm.PrevTime = make(map[string]time.Time)
	}

	var rate int64
	if prev, exists := rm.PrevVal[key]; exists {
		rate = CalcRate(current, prev, timestamp, rm.PrevTime[key])
	}
	rm.PrevVal[key] = current
	rm.PrevTime[key] = timestamp
	return rate
}

// CalcRate is a generic rate calculator that
// receives two sequential events and their timestamps
// and returns a single integer as the rate (per second)
func CalcRate(curr, prev int64, currtime, prevtime time.Time) int64 {
	delta := curr - prev
	timeDelta := currtime.Sub(prevtime).Seconds()
	if timeDelta <= 0 {
		return 0
	}

	// Handle counter reset (to 0)
	if delta < 0 {
		delta = curr
	}

	return int64(float64(delta) / timeDelta)
}
