package normalize

// DelayBucket groups latencies for the delay bar.
type DelayBucket int

const (
	DelayUnreachable DelayBucket = iota
	DelayLow
	DelayMedium
	DelayHigh
)

const (
	lowDelayMax    = 150
	mediumDelayMax = 300
)

func (b DelayBucket) String() string {
	switch b {
	case DelayLow:
		return "low"
	case DelayMedium:
		return "medium"
	case DelayHigh:
		return "high"
	default:
		return "unreachable"
	}
}

// BucketOf maps a delay in ms to its bucket. 0 (and negatives) mean unreachable.
func BucketOf(delay int) DelayBucket {
	switch {
	case delay <= 0:
		return DelayUnreachable
	case delay <= lowDelayMax:
		return DelayLow
	case delay <= mediumDelayMax:
		return DelayMedium
	default:
		return DelayHigh
	}
}

// DelayStats counts nodes per bucket.
type DelayStats struct {
	Low         int `json:"low"`
	Medium      int `json:"medium"`
	High        int `json:"high"`
	Unreachable int `json:"unreachable"`
}

// Total returns the number of counted nodes.
func (s DelayStats) Total() int { return s.Low + s.Medium + s.High + s.Unreachable }

// CountDelays aggregates the current delay of every node.
func CountDelays(nodes []ProxyNode) DelayStats {
	var s DelayStats
	for _, n := range nodes {
		switch BucketOf(n.Delay()) {
		case DelayLow:
			s.Low++
		case DelayMedium:
			s.Medium++
		case DelayHigh:
			s.High++
		default:
			s.Unreachable++
		}
	}
	return s
}
