package framebus

import "sort"

// CalculateDropRate returns the fraction of deliveries that were dropped (0.0 to 1.0).
// Returns 0.0 if nothing has been sent or dropped.
func CalculateDropRate(stats BusStats) float64 {
	return ratio(stats.TotalDropped, stats.TotalSent+stats.TotalDropped)
}

// CalculateSubscriberDropRate returns the drop rate for a specific subscriber.
// Returns 0.0 if the subscriber is unknown or has seen no traffic.
func CalculateSubscriberDropRate(stats BusStats, subscriberID string) float64 {
	sub, exists := stats.Subscribers[subscriberID]
	if !exists {
		return 0.0
	}
	return ratio(sub.Dropped, sub.Sent+sub.Dropped)
}

// SlowSubscribers returns, sorted, the ids whose drop rate exceeds threshold.
//
// The bridge status names these as slow consumers of outbound video
// (typically "engine" when the remote push stalls).
func SlowSubscribers(stats BusStats, threshold float64) []string {
	var slow []string
	for id := range stats.Subscribers {
		if CalculateSubscriberDropRate(stats, id) > threshold {
			slow = append(slow, id)
		}
	}
	sort.Strings(slow)
	return slow
}

func ratio(part, total uint64) float64 {
	if total == 0 {
		return 0.0
	}
	return float64(part) / float64(total)
}
