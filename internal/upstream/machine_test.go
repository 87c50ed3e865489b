package upstream

import (
	"testing"
	"time"
)

func testPolicy() BackoffPolicy {
	return BackoffPolicy{
		Base:        5 * time.Second,
		Max:         30 * time.Second,
		MaxAttempts: 5,
	}
}

func TestBackoffPolicy_Delay(t *testing.T) {
	p := testPolicy()

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 5 * time.Second},
		{2, 10 * time.Second},
		{3, 15 * time.Second},
		{4, 20 * time.Second},
		{6, 30 * time.Second},  // capped
		{10, 30 * time.Second}, // still capped
		{0, 5 * time.Second},   // clamped to first attempt
	}

	for _, tt := range tests {
		if got := p.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestBackoffPolicy_NonDecreasing(t *testing.T) {
	p := testPolicy()

	prev := time.Duration(0)
	for attempt := 1; attempt <= 20; attempt++ {
		d := p.Delay(attempt)
		if d < prev {
			t.Fatalf("delay decreased at attempt %d: %v < %v", attempt, d, prev)
		}
		prev = d
	}
}

func TestMachine_HappyPath(t *testing.T) {
	m := NewMachine(testPolicy())

	if m.State() != StateDisconnected {
		t.Fatalf("initial state = %v, want disconnected", m.State())
	}

	cmds := m.Apply(EvTokensReady)
	if m.State() != StateConnecting {
		t.Errorf("after EvTokensReady: state = %v, want connecting", m.State())
	}
	if len(cmds) != 1 {
		t.Fatalf("after EvTokensReady: got %d commands, want 1", len(cmds))
	}
	if _, ok := cmds[0].(Dial); !ok {
		t.Errorf("after EvTokensReady: command = %T, want Dial", cmds[0])
	}

	cmds = m.Apply(EvDialOK)
	if m.State() != StateAwaitingAck {
		t.Errorf("after EvDialOK: state = %v, want awaiting_ack", m.State())
	}
	if len(cmds) != 1 {
		t.Fatalf("after EvDialOK: got %d commands, want 1", len(cmds))
	}
	if _, ok := cmds[0].(OpenStream); !ok {
		t.Errorf("after EvDialOK: command = %T, want OpenStream", cmds[0])
	}

	cmds = m.Apply(EvFirstData)
	if m.State() != StateStreaming {
		t.Errorf("after EvFirstData: state = %v, want streaming", m.State())
	}
	if len(cmds) != 0 {
		t.Errorf("after EvFirstData: got %d commands, want 0", len(cmds))
	}
	if m.Attempts() != 0 {
		t.Errorf("attempts = %d, want 0 after successful stream", m.Attempts())
	}
}

func TestMachine_AckTimeoutIsImplicitSuccess(t *testing.T) {
	m := NewMachine(testPolicy())
	m.Apply(EvTokensReady)
	m.Apply(EvDialOK)

	m.Apply(EvAckTimeout)
	if m.State() != StateStreaming {
		t.Errorf("after EvAckTimeout: state = %v, want streaming", m.State())
	}
}

func TestMachine_ReconnectBackoffSequence(t *testing.T) {
	m := NewMachine(testPolicy())
	m.Apply(EvTokensReady)

	wantDelays := []time.Duration{5 * time.Second, 10 * time.Second, 15 * time.Second, 20 * time.Second}

	for i, want := range wantDelays {
		cmds := m.Apply(EvDialFailed)
		if m.State() != StateReconnecting {
			t.Fatalf("failure %d: state = %v, want reconnecting", i+1, m.State())
		}
		retry := findRetry(t, cmds)
		if retry.Delay != want {
			t.Errorf("failure %d: delay = %v, want %v", i+1, retry.Delay, want)
		}
		m.Apply(EvRetryDue)
		if m.State() != StateConnecting {
			t.Fatalf("after EvRetryDue: state = %v, want connecting", m.State())
		}
	}
}

func TestMachine_GivesUpAfterBudget(t *testing.T) {
	m := NewMachine(testPolicy())
	m.Apply(EvTokensReady)

	for i := 0; i < 4; i++ {
		m.Apply(EvDialFailed)
		m.Apply(EvRetryDue)
	}

	cmds := m.Apply(EvDialFailed)
	if m.State() != StateFailed {
		t.Fatalf("after exhausting budget: state = %v, want failed", m.State())
	}

	var gaveUp bool
	for _, cmd := range cmds {
		if g, ok := cmd.(GiveUp); ok {
			gaveUp = true
			if g.Attempts != 5 {
				t.Errorf("GiveUp.Attempts = %d, want 5", g.Attempts)
			}
		}
	}
	if !gaveUp {
		t.Error("expected a GiveUp command")
	}

	// Terminal: further transport events are ignored.
	if cmds := m.Apply(EvConnClosed); len(cmds) != 0 {
		t.Errorf("failed state reacted to EvConnClosed with %d commands", len(cmds))
	}
	if cmds := m.Apply(EvRetryDue); len(cmds) != 0 {
		t.Errorf("failed state reacted to EvRetryDue with %d commands", len(cmds))
	}
}

func TestMachine_RateLimitCostsExtraAttempts(t *testing.T) {
	m := NewMachine(testPolicy())
	m.Apply(EvTokensReady)
	m.Apply(EvDialOK)

	cmds := m.Apply(EvRateLimited)
	if m.Attempts() != 2 {
		t.Errorf("attempts after rate limit = %d, want 2", m.Attempts())
	}
	retry := findRetry(t, cmds)
	if retry.Delay != 10*time.Second {
		t.Errorf("delay after rate limit = %v, want 10s", retry.Delay)
	}

	// A second throttle reaches the budget faster than plain failures.
	m.Apply(EvRetryDue)
	m.Apply(EvRateLimited)
	if m.Attempts() != 4 {
		t.Errorf("attempts = %d, want 4", m.Attempts())
	}
	m.Apply(EvRetryDue)
	m.Apply(EvRateLimited)
	if m.State() != StateFailed {
		t.Errorf("state = %v, want failed after repeated throttling", m.State())
	}
}

func TestMachine_RateLimitWhileReconnectingLengthensRetry(t *testing.T) {
	m := NewMachine(testPolicy())
	m.Apply(EvTokensReady)
	m.Apply(EvDialFailed) // attempts=1, reconnecting, 5s retry pending

	cmds := m.Apply(EvRateLimited)
	if m.State() != StateReconnecting {
		t.Errorf("state = %v, want reconnecting", m.State())
	}
	if m.Attempts() != 2 {
		t.Errorf("attempts = %d, want 2", m.Attempts())
	}
	// The pending retry is replaced with the lengthened delay.
	retry := findRetry(t, cmds)
	if retry.Delay != 10*time.Second {
		t.Errorf("rescheduled delay = %v, want 10s", retry.Delay)
	}
}

func TestMachine_RateLimitWhileReconnectingCanExhaustBudget(t *testing.T) {
	m := NewMachine(testPolicy())
	m.Apply(EvTokensReady)

	// Burn to attempts=4, one short of the budget.
	for i := 0; i < 4; i++ {
		m.Apply(EvDialFailed)
		if i < 3 {
			m.Apply(EvRetryDue)
		}
	}
	if m.Attempts() != 4 || m.State() != StateReconnecting {
		t.Fatalf("setup: attempts=%d state=%v", m.Attempts(), m.State())
	}

	cmds := m.Apply(EvRateLimited)
	if m.State() != StateFailed {
		t.Fatalf("state = %v, want failed once the penalty spends the budget", m.State())
	}
	var gaveUp bool
	for _, cmd := range cmds {
		if g, ok := cmd.(GiveUp); ok {
			gaveUp = true
			if g.Attempts < 5 {
				t.Errorf("GiveUp.Attempts = %d, want >= 5", g.Attempts)
			}
		}
	}
	if !gaveUp {
		t.Error("expected a GiveUp command")
	}
}

func TestMachine_TokensUnavailableDoesNotBurnBudget(t *testing.T) {
	m := NewMachine(testPolicy())

	for i := 0; i < 10; i++ {
		m.Apply(EvTokensReady)
		cmds := m.Apply(EvTokensUnavailable)
		if m.State() != StateDisconnected {
			t.Fatalf("state = %v, want disconnected", m.State())
		}
		findRetry(t, cmds)
		m.Apply(EvRetryDue)
	}

	if m.Attempts() != 0 {
		t.Errorf("attempts = %d, want 0: credential gaps are not failures", m.Attempts())
	}
}

func TestMachine_ResetFromFailed(t *testing.T) {
	m := NewMachine(BackoffPolicy{Base: time.Second, Max: time.Second, MaxAttempts: 1})
	m.Apply(EvTokensReady)
	m.Apply(EvDialFailed)
	if m.State() != StateFailed {
		t.Fatalf("state = %v, want failed", m.State())
	}

	cmds := m.Apply(EvReset)
	if m.State() != StateConnecting {
		t.Errorf("after reset: state = %v, want connecting", m.State())
	}
	if m.Attempts() != 0 {
		t.Errorf("after reset: attempts = %d, want 0", m.Attempts())
	}
	if len(cmds) != 1 {
		t.Fatalf("after reset: got %d commands, want 1", len(cmds))
	}
	if _, ok := cmds[0].(Dial); !ok {
		t.Errorf("after reset: command = %T, want Dial", cmds[0])
	}

	// Reset outside failed is a no-op.
	if cmds := m.Apply(EvReset); len(cmds) != 0 {
		t.Errorf("reset while connecting produced %d commands", len(cmds))
	}
}

func TestMachine_ShutdownFromAnyState(t *testing.T) {
	states := []func(m *Machine){
		func(m *Machine) {},
		func(m *Machine) { m.Apply(EvTokensReady) },
		func(m *Machine) { m.Apply(EvTokensReady); m.Apply(EvDialOK) },
		func(m *Machine) { m.Apply(EvTokensReady); m.Apply(EvDialOK); m.Apply(EvFirstData) },
		func(m *Machine) { m.Apply(EvTokensReady); m.Apply(EvDialFailed) },
	}

	for i, setup := range states {
		m := NewMachine(testPolicy())
		setup(m)

		cmds := m.Apply(EvShutdown)
		if m.State() != StateClosing {
			t.Errorf("case %d: state = %v, want closing", i, m.State())
		}
		if len(cmds) != 1 {
			t.Fatalf("case %d: got %d commands, want 1", i, len(cmds))
		}
		if _, ok := cmds[0].(CloseConn); !ok {
			t.Errorf("case %d: command = %T, want CloseConn", i, cmds[0])
		}
	}
}

func findRetry(t *testing.T, cmds []Command) ScheduleRetry {
	t.Helper()
	for _, cmd := range cmds {
		if r, ok := cmd.(ScheduleRetry); ok {
			return r
		}
	}
	t.Fatalf("no ScheduleRetry in %v", cmds)
	return ScheduleRetry{}
}
