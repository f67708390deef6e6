package message

import "fmt"

// StatusPolicy decides how a delivery receipt changes a stored status.
type StatusPolicy string

const (
	// PolicyMonotonic only moves forward along sent < delivered < read.
	PolicyMonotonic StatusPolicy = "monotonic"
	// PolicyLastWriteWins stores whatever receipt arrived last.
	PolicyLastWriteWins StatusPolicy = "last_write_wins"
)

func ParseStatusPolicy(s string) (StatusPolicy, error) {
	switch StatusPolicy(s) {
	case "", PolicyMonotonic:
		return PolicyMonotonic, nil
	case PolicyLastWriteWins:
		return PolicyLastWriteWins, nil
	default:
		return "", fmt.Errorf("unknown status policy %q", s)
	}
}

// Next returns the status to store after incoming arrives, and whether it
// differs from current.
func (p StatusPolicy) Next(current, incoming DeliveryStatus) (DeliveryStatus, bool) {
	if incoming == StatusNone || incoming == current {
		return current, false
	}
	if p == PolicyLastWriteWins {
		return incoming, true
	}
	if incoming.Rank() > current.Rank() {
		return incoming, true
	}
	return current, false
}
