package core

import "testing"

// TestTaskID_StringAndIsZero verifies TaskID zero-state and string behavior
// Given: a zero TaskID and a generated TaskID
// When: IsZero and String are called
// Then: the zero ID reports true and the generated ID is non-zero with a non-empty string
func TestTaskID_StringAndIsZero(t *testing.T) {
	var zero TaskID
	if !zero.IsZero() {
		t.Fatal("zero TaskID should report IsZero() == true")
	}

	id := GenerateTaskID()
	if id.IsZero() {
		t.Fatal("generated TaskID should not be zero")
	}
	if id.String() == "" {
		t.Fatal("TaskID.String() should not be empty")
	}
}

// TestGenerateTaskID_Unique verifies successive IDs never repeat
// Given: many calls to GenerateTaskID from concurrent goroutines
// When: every returned ID is collected
// Then: every ID is unique
func TestGenerateTaskID_Unique(t *testing.T) {
	const n = 1000
	ids := make(chan TaskID, n)
	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		go func() {
			for j := 0; j < n/10; j++ {
				ids <- GenerateTaskID()
			}
			done <- struct{}{}
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}
	close(ids)

	seen := make(map[TaskID]bool)
	for id := range ids {
		if seen[id] {
			t.Fatalf("duplicate TaskID generated: %v", id)
		}
		seen[id] = true
	}
}

// TestState_IsTerminal verifies terminal classification
// Given: every defined State value
// When: IsTerminal is called
// Then: only Completed and Cancelled report true
func TestState_IsTerminal(t *testing.T) {
	cases := map[State]bool{
		Invalid:   false,
		New:       false,
		Queued:    false,
		Running:   false,
		Suspended: false,
		Completed: true,
		Cancelled: true,
	}
	for state, want := range cases {
		if got := state.IsTerminal(); got != want {
			t.Errorf("State(%v).IsTerminal() = %v, want %v", state, got, want)
		}
	}
}

// TestValidTransition verifies the state graph only permits spec-named edges
// Given: the full cross product of State values
// When: validTransition is evaluated
// Then: only New->Queued, Queued->Running, Running->{Suspended,Completed},
// Suspended->{Queued,Cancelled} are true
func TestValidTransition(t *testing.T) {
	allowed := map[State]map[State]bool{
		New:       {Queued: true},
		Queued:    {Running: true},
		Running:   {Suspended: true, Completed: true},
		Suspended: {Queued: true, Cancelled: true},
	}
	states := []State{Invalid, New, Queued, Running, Suspended, Completed, Cancelled}
	for _, from := range states {
		for _, to := range states {
			want := allowed[from][to]
			if got := validTransition(from, to); got != want {
				t.Errorf("validTransition(%v, %v) = %v, want %v", from, to, got, want)
			}
		}
	}
}

// TestResolveWakeupSource_Priority verifies the fixed priority table
// Given: every combination of sleep flags
// When: resolveWakeupSource is called
// Then: WaitList beats DeadlineTimer beats Bootstrap beats CancelRequest,
// and CancelRequest never wins while NonCancellable is set
func TestResolveWakeupSource_Priority(t *testing.T) {
	cases := []struct {
		name  string
		flags SleepFlag
		want  WakeupSource
	}{
		{"none", 0, WakeupNone},
		{"wait_list_only", FlagWakeupByWaitList, WakeupWaitList},
		{"deadline_only", FlagWakeupByDeadlineTimer, WakeupDeadlineTimer},
		{"bootstrap_only", FlagWakeupByBootstrap, WakeupBootstrap},
		{"cancel_only", FlagWakeupByCancelRequest, WakeupCancelRequest},
		{"cancel_while_noncancellable", FlagWakeupByCancelRequest | FlagNonCancellable, WakeupNone},
		{"wait_list_beats_everything", FlagWakeupByWaitList | FlagWakeupByDeadlineTimer | FlagWakeupByBootstrap | FlagWakeupByCancelRequest, WakeupWaitList},
		{"deadline_beats_bootstrap_and_cancel", FlagWakeupByDeadlineTimer | FlagWakeupByBootstrap | FlagWakeupByCancelRequest, WakeupDeadlineTimer},
		{"bootstrap_beats_cancel", FlagWakeupByBootstrap | FlagWakeupByCancelRequest, WakeupBootstrap},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := resolveWakeupSource(tc.flags); got != tc.want {
				t.Errorf("resolveWakeupSource(%v) = %v, want %v", tc.flags, got, tc.want)
			}
		})
	}
}
