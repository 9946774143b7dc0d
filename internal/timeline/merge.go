package timeline

import "fmt"

// Merge interleaves per-stream time-ordered event slices into one globally
// ordered slice. Ordering across streams is by timestamp; for equal
// timestamps the earlier stream argument wins, which keeps the merge stable
// and deterministic. Each input must be non-decreasing in At; a violation is
// reported as an error rather than silently reordered, because it means a
// reporter broke its contract.
func Merge(streams ...[]Event) ([]Event, error) {
	total := 0
	for i, s := range streams {
		for j := 1; j < len(s); j++ {
			if s[j].At < s[j-1].At {
				return nil, fmt.Errorf("stream %d out of order at index %d: %v after %v",
					i, j, s[j].At, s[j-1].At)
			}
		}
		total += len(s)
	}

	out := make([]Event, 0, total)
	heads := make([]int, len(streams))
	for {
		best := -1
		for i, s := range streams {
			h := heads[i]
			if h >= len(s) {
				continue
			}
			if best == -1 || s[h].At < streams[best][heads[best]].At {
				best = i
			}
		}
		if best == -1 {
			return out, nil
		}
		out = append(out, streams[best][heads[best]])
		heads[best]++
	}
}

// Split partitions a recorded, possibly interleaved event sequence back into
// its logical reporter streams, preserving relative order within each.
func Split(events []Event) [NumStreams][]Event {
	var streams [NumStreams][]Event
	for _, e := range events {
		i := StreamOf(e.Kind)
		streams[i] = append(streams[i], e)
	}
	return streams
}
