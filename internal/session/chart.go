package session

import "time"

// ChartPoint is one availability sample for the active conversation.
type ChartPoint struct {
	Time time.Time
	Both bool
}

// PresenceChart is a fixed-capacity ring of availability samples, oldest
// dropped first. It backs the "were we both here" strip rendered alongside an
// open conversation.
type PresenceChart struct {
	capacity int
	points   []ChartPoint
}

// NewPresenceChart returns an empty chart holding at most capacity samples.
func NewPresenceChart(capacity int) *PresenceChart {
	if capacity <= 0 {
		capacity = 50
	}
	return &PresenceChart{capacity: capacity}
}

// Add appends a sample, evicting the oldest when full.
func (c *PresenceChart) Add(p ChartPoint) {
	c.points = append(c.points, p)
	if len(c.points) > c.capacity {
		c.points = c.points[len(c.points)-c.capacity:]
	}
}

// Points returns a copy of the samples, oldest first.
func (c *PresenceChart) Points() []ChartPoint {
	out := make([]ChartPoint, len(c.points))
	copy(out, c.points)
	return out
}

// BothRatio is the fraction of samples where both participants were online.
// Zero when no samples have been taken.
func (c *PresenceChart) BothRatio() float64 {
	if len(c.points) == 0 {
		return 0
	}
	both := 0
	for _, p := range c.points {
		if p.Both {
			both++
		}
	}
	return float64(both) / float64(len(c.points))
}

// Reset drops all samples, typically when switching conversations.
func (c *PresenceChart) Reset() {
	c.points = c.points[:0]
}
