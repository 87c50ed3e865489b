package upstream

import "time"

// State is a connector lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateAwaitingAck
	StateStreaming
	StateReconnecting
	StateClosing
	StateFailed
)

// String returns the state name for logging.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAwaitingAck:
		return "awaiting_ack"
	case StateStreaming:
		return "streaming"
	case StateReconnecting:
		return "reconnecting"
	case StateClosing:
		return "closing"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// EventKind identifies an input to the state machine.
type EventKind int

const (
	EvTokensReady       EventKind = iota // Credentials obtained, ready to connect
	EvTokensUnavailable                  // Credential provider has nothing yet
	EvDialOK                             // Socket/handshake open
	EvDialFailed                         // Dial failed or timed out
	EvFirstData                          // First valid data frame received
	EvAckTimeout                         // No data within ack window, treat as implicit ack
	EvConnError                          // Transport error on a live connection
	EvConnClosed                         // Connection closed by peer or transport
	EvRateLimited                        // Upstream signalled throttling
	EvRetryDue                           // Scheduled reconnect timer fired
	EvReset                              // Manual re-login trigger
	EvShutdown                           // Process shutdown
)

// Command is a side effect the supervisor must execute after a
// transition. The machine itself never touches the network or clock.
type Command interface{ isCommand() }

// Dial opens a new upstream connection.
type Dial struct{}

// OpenStream sends the post-handshake sequence: heartbeat, settle
// delay, then the staggered subscription fan-out, then arms the
// implicit-ack timer.
type OpenStream struct{}

// CloseConn tears down the current connection and clears per-connection
// subscription bookkeeping.
type CloseConn struct{}

// ScheduleRetry arms the reconnect timer.
type ScheduleRetry struct{ Delay time.Duration }

// GiveUp reports that the retry budget is exhausted.
type GiveUp struct{ Attempts int }

func (Dial) isCommand()          {}
func (OpenStream) isCommand()    {}
func (CloseConn) isCommand()     {}
func (ScheduleRetry) isCommand() {}
func (GiveUp) isCommand()        {}

// BackoffPolicy computes reconnect delays. Delay grows linearly with
// the attempt counter and is capped: min(base x attempt, max). A
// rate-limit signal advances the counter by more than one, lengthening
// the next delay.
type BackoffPolicy struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int
}

// Delay returns the wait before the given attempt (1-based).
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.Base * time.Duration(attempt)
	if d > p.Max {
		d = p.Max
	}
	return d
}

// rateLimitPenalty is how many extra attempts a throttling signal
// costs compared to a generic failure.
const rateLimitPenalty = 2

// Machine is the pure connector state machine. It owns the state and
// the reconnect attempt counter; Apply returns the commands the
// supervisor must run. Not safe for concurrent use: exactly one
// goroutine (the supervisor) drives it.
type Machine struct {
	policy   BackoffPolicy
	state    State
	attempts int
}

// NewMachine returns a machine in StateDisconnected.
func NewMachine(policy BackoffPolicy) *Machine {
	return &Machine{policy: policy}
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

// Attempts returns the current reconnect attempt counter.
func (m *Machine) Attempts() int { return m.attempts }

// Apply feeds one event through the machine and returns the side
// effects to execute. Events that make no sense in the current state
// are ignored and return no commands.
func (m *Machine) Apply(ev EventKind) []Command {
	switch ev {
	case EvTokensReady:
		if m.state == StateDisconnected {
			m.state = StateConnecting
			return []Command{Dial{}}
		}

	case EvTokensUnavailable:
		// Credential gap is a configuration problem, not a transport
		// failure: stay put, do not burn the retry budget.
		if m.state == StateDisconnected || m.state == StateConnecting {
			m.state = StateDisconnected
			return []Command{ScheduleRetry{Delay: m.policy.Base}}
		}

	case EvDialOK:
		if m.state == StateConnecting {
			m.state = StateAwaitingAck
			return []Command{OpenStream{}}
		}

	case EvDialFailed, EvConnError, EvConnClosed:
		switch m.state {
		case StateConnecting, StateAwaitingAck, StateStreaming:
			return m.failAttempt(1)
		}

	case EvRateLimited:
		switch m.state {
		case StateConnecting, StateAwaitingAck, StateStreaming:
			return m.failAttempt(rateLimitPenalty)
		case StateReconnecting:
			// Throttle notice after the close already scheduled a
			// retry: penalize the counter and re-arm the timer with
			// the lengthened delay, or give up if that spends the
			// budget.
			m.attempts += rateLimitPenalty - 1
			if m.attempts >= m.policy.MaxAttempts {
				m.state = StateFailed
				return []Command{GiveUp{Attempts: m.attempts}}
			}
			return []Command{ScheduleRetry{Delay: m.policy.Delay(m.attempts)}}
		}

	case EvFirstData:
		if m.state == StateAwaitingAck {
			m.state = StateStreaming
			m.attempts = 0
		}

	case EvAckTimeout:
		// No explicit ack protocol upstream: absence of rejection
		// within the window counts as success.
		if m.state == StateAwaitingAck {
			m.state = StateStreaming
			m.attempts = 0
		}

	case EvRetryDue:
		if m.state == StateReconnecting || m.state == StateDisconnected {
			m.state = StateConnecting
			return []Command{Dial{}}
		}

	case EvReset:
		if m.state == StateFailed {
			m.attempts = 0
			m.state = StateConnecting
			return []Command{Dial{}}
		}

	case EvShutdown:
		if m.state != StateClosing {
			m.state = StateClosing
			return []Command{CloseConn{}}
		}
	}

	return nil
}

// failAttempt advances the attempt counter by cost and either schedules
// the next connect or gives up when the budget is spent.
func (m *Machine) failAttempt(cost int) []Command {
	m.attempts += cost

	if m.attempts >= m.policy.MaxAttempts {
		m.state = StateFailed
		return []Command{CloseConn{}, GiveUp{Attempts: m.attempts}}
	}

	m.state = StateReconnecting
	return []Command{CloseConn{}, ScheduleRetry{Delay: m.policy.Delay(m.attempts)}}
}
