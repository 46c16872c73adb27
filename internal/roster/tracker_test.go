package roster

import (
	"errors"
	"reflect"
	"testing"
)

var errTimeout = errors.New("i/o timeout")

func joined(name string) Event { return Event{Kind: PlayerJoined, Player: name} }
func left(name string) Event   { return Event{Kind: PlayerLeft, Player: name} }

func assertEvents(t *testing.T, got, want []Event) {
	t.Helper()
	if len(got) == 0 && len(want) == 0 {
		return
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
}

func TestStepScenario(t *testing.T) {
	t.Parallel()

	st := State{}

	ev, st := Step(Success(NewPlayerSet("alice")), st)
	assertEvents(t, ev, nil)
	if st.Availability != Up || !st.LastRoster.Equal(NewPlayerSet("alice")) {
		t.Fatalf("state after baseline = %+v", st)
	}

	ev, st = Step(Success(NewPlayerSet("alice", "bob")), st)
	assertEvents(t, ev, []Event{joined("bob")})

	ev, st = Step(Failure(errTimeout), st)
	assertEvents(t, ev, []Event{{Kind: ServerDown}})
	if st.Availability != Down || st.LastRoster != nil {
		t.Fatalf("state after failure = %+v, want Down with no baseline", st)
	}

	ev, st = Step(Success(NewPlayerSet("carol")), st)
	assertEvents(t, ev, []Event{{Kind: ServerUp}})

	ev, st = Step(Success(NewPlayerSet()), st)
	assertEvents(t, ev, []Event{left("carol")})
	if st.LastRoster == nil || st.LastRoster.Len() != 0 {
		t.Fatalf("empty success must keep an empty (non-nil) baseline, got %+v", st.LastRoster)
	}
}

func TestStepIdenticalRostersAreSilent(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		names []string
	}{
		{name: "empty", names: nil},
		{name: "one", names: []string{"alice"}},
		{name: "many", names: []string{"alice", "bob", "carol", "dave"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, st := Step(Success(NewPlayerSet(tt.names...)), State{})
			ev, _ := Step(Success(NewPlayerSet(tt.names...)), st)
			assertEvents(t, ev, nil)
		})
	}
}

func TestStepDiffMatchesSetDifference(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		a, b       []string
		wantJoined []string
		wantLeft   []string
	}{
		{name: "join only", a: []string{"a"}, b: []string{"a", "b", "c"}, wantJoined: []string{"b", "c"}},
		{name: "leave only", a: []string{"a", "b", "c"}, b: []string{"b"}, wantLeft: []string{"a", "c"}},
		{name: "swap", a: []string{"a", "b"}, b: []string{"c", "d"}, wantJoined: []string{"c", "d"}, wantLeft: []string{"a", "b"}},
		{name: "from empty", a: nil, b: []string{"z", "y"}, wantJoined: []string{"y", "z"}},
		{name: "to empty", a: []string{"z", "y"}, b: nil, wantLeft: []string{"y", "z"}},
		{name: "mixed", a: []string{"a", "b", "c"}, b: []string{"b", "c", "d"}, wantJoined: []string{"d"}, wantLeft: []string{"a"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, st := Step(Success(NewPlayerSet(tt.a...)), State{})
			ev, _ := Step(Success(NewPlayerSet(tt.b...)), st)

			var gotJoined, gotLeft []string
			seen := map[string]bool{}
			for _, e := range ev {
				if seen[e.Player] {
					t.Fatalf("player %q reported twice in %v", e.Player, ev)
				}
				seen[e.Player] = true
				switch e.Kind {
				case PlayerJoined:
					gotJoined = append(gotJoined, e.Player)
				case PlayerLeft:
					gotLeft = append(gotLeft, e.Player)
				default:
					t.Fatalf("unexpected event %v between two successes", e)
				}
			}
			if !reflect.DeepEqual(gotJoined, tt.wantJoined) {
				t.Fatalf("joined = %v, want %v", gotJoined, tt.wantJoined)
			}
			if !reflect.DeepEqual(gotLeft, tt.wantLeft) {
				t.Fatalf("left = %v, want %v", gotLeft, tt.wantLeft)
			}
		})
	}
}

func TestStepConsecutiveFailuresReportOnce(t *testing.T) {
	t.Parallel()
	_, st := Step(Success(NewPlayerSet("alice")), State{})

	ev, st := Step(Failure(errTimeout), st)
	assertEvents(t, ev, []Event{{Kind: ServerDown}})

	for i := 0; i < 3; i++ {
		ev, st = Step(Failure(errTimeout), st)
		assertEvents(t, ev, nil)
	}
	if st.Availability != Down {
		t.Fatalf("availability = %v, want down", st.Availability)
	}
}

func TestStepFailureFromUnknownIsSilent(t *testing.T) {
	t.Parallel()
	ev, st := Step(Failure(errTimeout), State{})
	assertEvents(t, ev, nil)
	if st.Availability != Down {
		t.Fatalf("availability = %v, want down", st.Availability)
	}

	// Recovery from a down state that was never reported still announces Up.
	ev, _ = Step(Success(NewPlayerSet("alice")), st)
	assertEvents(t, ev, []Event{{Kind: ServerUp}})
}

func TestStepRecoveryRebaselines(t *testing.T) {
	t.Parallel()
	_, st := Step(Success(NewPlayerSet("a", "b", "c")), State{})
	_, st = Step(Failure(errTimeout), st)

	ev, st := Step(Success(NewPlayerSet("x", "y", "z")), st)
	assertEvents(t, ev, []Event{{Kind: ServerUp}})

	ev, _ = Step(Success(NewPlayerSet("x", "y")), st)
	assertEvents(t, ev, []Event{left("z")})
}

func TestStepServerUpPrecedesPlayerEvents(t *testing.T) {
	t.Parallel()
	// Down with a baseline cannot arise from Step itself, but Step must still
	// order events correctly for any state it is handed.
	st := State{LastRoster: NewPlayerSet("a"), Availability: Down}
	ev, _ := Step(Success(NewPlayerSet("b")), st)
	assertEvents(t, ev, []Event{{Kind: ServerUp}, joined("b"), left("a")})
}

func TestStepIsPure(t *testing.T) {
	t.Parallel()
	st := State{LastRoster: NewPlayerSet("alice", "bob"), Availability: Up}
	in := Success(NewPlayerSet("bob", "carol"))

	ev1, st1 := Step(in, st)
	ev2, st2 := Step(in, st)

	if !reflect.DeepEqual(ev1, ev2) {
		t.Fatalf("events differ across identical calls: %v vs %v", ev1, ev2)
	}
	if !reflect.DeepEqual(st1, st2) {
		t.Fatalf("states differ across identical calls: %+v vs %+v", st1, st2)
	}
	if !st.LastRoster.Equal(NewPlayerSet("alice", "bob")) || st.Availability != Up {
		t.Fatalf("input state was mutated: %+v", st)
	}

	// The new baseline must not alias the probe's set.
	in.Players["mallory"] = struct{}{}
	if st1.LastRoster.Has("mallory") {
		t.Fatal("new state aliases the outcome's player set")
	}
}

func TestFailureWithNilError(t *testing.T) {
	t.Parallel()
	if Failure(nil).OK() {
		t.Fatal("Failure(nil) must not read as success")
	}
	if !Success(nil).OK() || Success(nil).Players == nil {
		t.Fatal("Success(nil) must be a success with an empty roster")
	}
}

func TestSnapshot(t *testing.T) {
	t.Parallel()
	snap := State{}.Snapshot()
	if snap.Availability != "unknown" || snap.Baseline || len(snap.Players) != 0 {
		t.Fatalf("zero snapshot = %+v", snap)
	}
	snap = State{LastRoster: NewPlayerSet("b", "a"), Availability: Up}.Snapshot()
	if snap.Availability != "up" || !snap.Baseline || !reflect.DeepEqual(snap.Players, []string{"a", "b"}) {
		t.Fatalf("snapshot = %+v", snap)
	}
}
