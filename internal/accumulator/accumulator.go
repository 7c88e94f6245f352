// Package accumulator turns raw cumulative counter samples into per-interval
// usage deltas. It is a pure state machine: no I/O, no clock, no goroutines.
// The monitor loop owns one instance and feeds it one sample per tick.
package accumulator

// Transition reports an association change observed on a tick.
type Transition int

const (
	TransitionNone Transition = iota
	TransitionAssociated
	TransitionDisassociated
)

// Delta is the usage attributed to one polling interval.
type Delta struct {
	BytesSent     int64
	BytesReceived int64
}

func (d Delta) Total() int64 {
	return d.BytesSent + d.BytesReceived
}

// Accumulator tracks the counter baseline for the network currently joined.
// Not safe for concurrent use; the polling loop is its single owner.
type Accumulator struct {
	target       string
	network      string
	lastSent     int64
	lastReceived int64
}

// New returns an accumulator metering the target network. An empty target
// meters whichever network the host joins.
func New(target string) *Accumulator {
	return &Accumulator{target: target}
}

// Tick feeds one sample and returns the delta earned by this interval.
//
// A sample on a non-matching (or empty) network resets the baseline so no
// cross-network bytes ever leak into a delta. The first tick on a matching
// network only captures the baseline. On later ticks each side clamps to
// zero when its counter moved backwards; a reset therefore costs at most one
// interval of undercount and the baseline re-captures the same tick.
func (a *Accumulator) Tick(network string, sent, received int64) (Delta, Transition) {
	if !a.matches(network) {
		if a.network == "" {
			return Delta{}, TransitionNone
		}
		a.reset()
		return Delta{}, TransitionDisassociated
	}

	if network != a.network {
		a.network = network
		a.lastSent = sent
		a.lastReceived = received
		return Delta{}, TransitionAssociated
	}

	delta := Delta{
		BytesSent:     clampDelta(sent, a.lastSent),
		BytesReceived: clampDelta(received, a.lastReceived),
	}
	a.lastSent = sent
	a.lastReceived = received
	return delta, TransitionNone
}

// Associated reports whether a baseline is currently held.
func (a *Accumulator) Associated() bool {
	return a.network != ""
}

// Network returns the network the current baseline belongs to.
func (a *Accumulator) Network() string {
	return a.network
}

func (a *Accumulator) matches(network string) bool {
	if network == "" {
		return false
	}
	return a.target == "" || network == a.target
}

func (a *Accumulator) reset() {
	a.network = ""
	a.lastSent = 0
	a.lastReceived = 0
}

func clampDelta(current, last int64) int64 {
	if current < last {
		return 0
	}
	return current - last
}
