package roster

import "errors"

var errUnspecified = errors.New("probe failed")

// Step applies one probe outcome to the tracker state and returns the
// transitions to report plus the next state.
//
// Step is pure: the same (o, s) always yields the same result, and s is
// never modified. Events are ordered ServerUp first, then joins, then
// leaves, each group sorted by player name.
func Step(o Outcome, s State) ([]Event, State) {
	if !o.OK() {
		return stepFailure(s)
	}
	return stepSuccess(o.Players, s)
}

func stepSuccess(players PlayerSet, s State) ([]Event, State) {
	var events []Event

	if s.Availability == Down {
		events = append(events, Event{Kind: ServerUp})
	}

	if s.HasBaseline() {
		for _, name := range players.Minus(s.LastRoster) {
			events = append(events, Event{Kind: PlayerJoined, Player: name})
		}
		for _, name := range s.LastRoster.Minus(players) {
			events = append(events, Event{Kind: PlayerLeft, Player: name})
		}
	}

	return events, State{LastRoster: players.Clone(), Availability: Up}
}

func stepFailure(s State) ([]Event, State) {
	var events []Event
	// Only Up -> Down is a transition worth reporting. Unknown -> Down means
	// the server was never seen this run; Down -> Down was already reported.
	if s.Availability == Up {
		events = append(events, Event{Kind: ServerDown})
	}
	return events, s.reset()
}
