package cuebridge

import "time"

// undershoot keeps the loop from oversleeping into the next MIDI burst
const undershoot = 0.925

// CyclePeriod converts a loop frequency (frames per second) into a period
func CyclePeriod(loopFrequency float64) time.Duration {
	if loopFrequency <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / loopFrequency)
}

// Throttle is how long to sleep after a cycle that took /elapsed/
func Throttle(cycle, elapsed time.Duration) time.Duration {
	remaining := cycle - elapsed
	if remaining <= 0 {
		return 0
	}
	return time.Duration(float64(remaining) * undershoot)
}
