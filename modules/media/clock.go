package media

import "time"

var epoch = time.Now()

// NowUS returns monotonic microseconds since process start. Frame and chunk
// timestamps use this clock so they never go backwards across worker restarts.
func NowUS() int64 {
	return time.Since(epoch).Microseconds()
}
