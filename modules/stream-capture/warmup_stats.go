package streamcapture

import (
	"math"
	"time"
)

const (
	// fpsStabilityThreshold is the maximum FPS standard deviation as a fraction of mean FPS.
	// Example: 15 FPS mean → stable if stddev < 2.25 FPS
	fpsStabilityThreshold = 0.15

	// jitterStabilityThreshold is the maximum mean jitter as a fraction of the expected
	// inter-frame interval. Example: 15 FPS (66ms) → stable if jitter < 13ms
	jitterStabilityThreshold = 0.20
)

// CalculateFPSStats computes cadence statistics from frame timestamps.
//
// This function:
//  1. Calculates mean FPS over totalDuration
//  2. Calculates instantaneous FPS for each positive frame interval
//  3. Finds min/max instantaneous FPS and their standard deviation around the mean
//  4. Calculates jitter (absolute deviation from the expected interval)
//  5. Determines stability (stddev < 15% of mean AND jitter < 20% of interval)
//
// The camera graph enforces its frame rate with videorate, so an unstable result
// points at the sensor or USB bandwidth rather than at the worker.
func CalculateFPSStats(frameTimes []time.Time, totalDuration time.Duration) *WarmupStats {
	n := len(frameTimes)
	stats := &WarmupStats{FramesReceived: n, Duration: totalDuration}
	if n == 0 || totalDuration <= 0 {
		return stats
	}

	stats.FPSMean = float64(n) / totalDuration.Seconds()

	instantaneous := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		if interval := frameTimes[i].Sub(frameTimes[i-1]).Seconds(); interval > 0 {
			instantaneous = append(instantaneous, 1.0/interval)
		}
	}
	if len(instantaneous) == 0 {
		return stats
	}

	stats.FPSMin, stats.FPSMax = instantaneous[0], instantaneous[0]
	for _, fps := range instantaneous {
		stats.FPSMin = math.Min(stats.FPSMin, fps)
		stats.FPSMax = math.Max(stats.FPSMax, fps)
	}
	stats.FPSStdDev = stdDevAround(instantaneous, stats.FPSMean)

	expectedInterval := 1.0 / stats.FPSMean
	jitters := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		actual := frameTimes[i].Sub(frameTimes[i-1]).Seconds()
		j := math.Abs(actual - expectedInterval)
		jitters = append(jitters, j)
		stats.JitterMax = math.Max(stats.JitterMax, j)
	}
	stats.JitterMean = mean(jitters)
	stats.JitterStdDev = stdDevAround(jitters, stats.JitterMean)

	fpsStable := stats.FPSStdDev < stats.FPSMean*fpsStabilityThreshold
	jitterStable := stats.JitterMean < expectedInterval*jitterStabilityThreshold
	stats.IsStable = fpsStable && jitterStable

	return stats
}

func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stdDevAround(values []float64, center float64) float64 {
	var sumSquares float64
	for _, v := range values {
		d := v - center
		sumSquares += d * d
	}
	return math.Sqrt(sumSquares / float64(len(values)))
}
