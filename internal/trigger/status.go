package trigger

import "time"

// Status is a point-in-time snapshot of the switch. It reflects the last
// evaluation; reading it never advances the phase.
type Status struct {
	Phase              Phase           `json:"phase"`
	PhaseEnteredAt     time.Time       `json:"phaseEnteredAt"`
	TimeInPhase        time.Duration   `json:"timeInPhase"`
	LastActivity       time.Time       `json:"lastActivity"`
	InactivityWindow   time.Duration   `json:"inactivityWindow"`
	VerificationWindow time.Duration   `json:"verificationWindow"`
	NextDeadline       *time.Time      `json:"nextDeadline,omitempty"`
	TimeRemaining      time.Duration   `json:"timeRemaining"`
	Releasing          bool            `json:"releasing"`
	LastRelease        *ReleaseSummary `json:"lastRelease,omitempty"`
	// PendingRelease is the ID of an interrupted release waiting to be
	// resumed by the next evaluation.
	PendingRelease string `json:"pendingRelease,omitempty"`
	Error          string `json:"error,omitempty"`
}

// Status returns the current snapshot.
func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	s := Status{
		Phase:              m.phase,
		PhaseEnteredAt:     m.phaseEnteredAt,
		LastActivity:       m.lastActivity,
		InactivityWindow:   m.cfg.InactivityWindow,
		VerificationWindow: m.cfg.VerificationWindow,
		Releasing:          m.releasing,
	}
	if m.pending != nil {
		s.PendingRelease = m.pending.id
	}
	if !m.phaseEnteredAt.IsZero() {
		s.TimeInPhase = now.Sub(m.phaseEnteredAt)
	}
	if m.lastRelease != nil {
		r := *m.lastRelease
		s.LastRelease = &r
	}
	if err := m.readyLocked(); err != nil {
		s.Error = err.Error()
		return s
	}

	var deadline time.Time
	switch m.phase {
	case PhaseActive:
		deadline = m.lastActivity.Add(m.cfg.InactivityWindow)
	case PhaseVerifying:
		deadline = m.phaseEnteredAt.Add(m.cfg.VerificationWindow)
	}
	if !deadline.IsZero() {
		s.NextDeadline = &deadline
		if rem := deadline.Sub(now); rem > 0 {
			s.TimeRemaining = rem
		}
	}
	return s
}
