package roster

import "sort"

// PlayerSet is the set of player identifiers observed online by one probe.
//
// A nil PlayerSet is a valid empty set for reads. State uses nil to mean
// "no baseline yet", so keep the two uses apart: probes always return a
// non-nil set (see NewPlayerSet).
type PlayerSet map[string]struct{}

// NewPlayerSet builds a set from names. Duplicates collapse.
func NewPlayerSet(names ...string) PlayerSet {
	s := make(PlayerSet, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

func (s PlayerSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

func (s PlayerSet) Len() int { return len(s) }

// Sorted returns the members in ascending order.
func (s PlayerSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Minus returns the members of s that are not in other, sorted.
func (s PlayerSet) Minus(other PlayerSet) []string {
	var out []string
	for n := range s {
		if !other.Has(n) {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}

func (s PlayerSet) Equal(other PlayerSet) bool {
	if len(s) != len(other) {
		return false
	}
	for n := range s {
		if !other.Has(n) {
			return false
		}
	}
	return true
}

// Clone returns an independent copy. Cloning nil yields an empty, non-nil set.
func (s PlayerSet) Clone() PlayerSet {
	out := make(PlayerSet, len(s))
	for n := range s {
		out[n] = struct{}{}
	}
	return out
}

// Availability is the last known reachability of the monitored server.
type Availability int

const (
	// Unknown means no probe has completed yet in this run.
	Unknown Availability = iota
	Up
	Down
)

func (a Availability) String() string {
	switch a {
	case Up:
		return "up"
	case Down:
		return "down"
	default:
		return "unknown"
	}
}

// State is the tracker's memory between probes.
//
// LastRoster is nil exactly when there is no baseline: before the first
// successful probe, and after any failure.
type State struct {
	LastRoster   PlayerSet
	Availability Availability
}

// HasBaseline reports whether the next success will be diffed.
func (s State) HasBaseline() bool { return s.LastRoster != nil }

// reset is the failure transition: mark the server down and drop the
// baseline so the next success starts fresh instead of being diffed
// against a stale roster.
func (s State) reset() State {
	return State{LastRoster: nil, Availability: Down}
}

// Snapshot is a read-only copy of State for other goroutines.
type Snapshot struct {
	Availability string   `json:"availability"`
	Baseline     bool     `json:"baseline"`
	Players      []string `json:"players"`
}

func (s State) Snapshot() Snapshot {
	players := []string{}
	if s.LastRoster != nil {
		players = s.LastRoster.Sorted()
	}
	return Snapshot{
		Availability: s.Availability.String(),
		Baseline:     s.HasBaseline(),
		Players:      players,
	}
}

// Outcome is the result of one probe: either a roster or a failure.
type Outcome struct {
	Players PlayerSet
	Err     error
}

// Success wraps a roster. A nil roster is treated as empty.
func Success(players PlayerSet) Outcome {
	if players == nil {
		players = PlayerSet{}
	}
	return Outcome{Players: players}
}

// Failure wraps a probe error. A nil error is replaced so the outcome still
// reads as a failure.
func Failure(err error) Outcome {
	if err == nil {
		err = errUnspecified
	}
	return Outcome{Err: err}
}

func (o Outcome) OK() bool { return o.Err == nil }

// EventKind identifies a detected transition.
type EventKind int

const (
	PlayerJoined EventKind = iota + 1
	PlayerLeft
	ServerDown
	ServerUp
)

func (k EventKind) String() string {
	switch k {
	case PlayerJoined:
		return "player_joined"
	case PlayerLeft:
		return "player_left"
	case ServerDown:
		return "server_down"
	case ServerUp:
		return "server_up"
	default:
		return "unknown"
	}
}

// Event is one transition produced by Step. Player is set only for
// PlayerJoined and PlayerLeft.
type Event struct {
	Kind   EventKind
	Player string
}

func (e Event) String() string {
	if e.Player == "" {
		return e.Kind.String()
	}
	return e.Kind.String() + "(" + e.Player + ")"
}
