package scanner

import (
	"context"
	"fmt"
	"sync"

	"qrsafe/internal/domain"
)

type State int

const (
	StateIdle State = iota
	StateScanning
	StateValidating
	StateResultShown
	StateRated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateValidating:
		return "validating"
	case StateResultShown:
		return "result_shown"
	case StateRated:
		return "rated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var transitions = map[State][]State{
	StateIdle:        {StateScanning, StateResultShown},
	StateScanning:    {StateValidating, StateIdle},
	StateValidating:  {StateResultShown, StateIdle},
	StateResultShown: {StateRated, StateScanning, StateResultShown, StateIdle},
	StateRated:       {StateRated, StateScanning, StateResultShown, StateIdle},
}

// TransitionError reports an event that is not valid in the current state.
type TransitionError struct {
	From, To State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("scanner: invalid transition %s -> %s", e.From, e.To)
}

// Session is the scan lifecycle of one user, independent of any view:
// Idle -> Scanning -> Validating -> ResultShown -> Rated. Opening a recorded
// entry shows it without scanning. Reset returns to Idle from anywhere; a
// failed scan returns to Idle with the error kept.
type Session struct {
	svc     *Service
	voterID string

	mu      sync.Mutex
	state   State
	result  Result
	lastErr error
}

func NewSession(svc *Service, voterID string) *Session {
	return &Session{svc: svc, voterID: voterID}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Result returns the last shown result.
func (s *Session) Result() Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// Err returns the error that ended the last scan, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Start arms the session for a payload.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = nil
	return s.move(StateScanning)
}

// Submit runs the pipeline for a decoded payload. On success the session
// shows the result; on failure it fails back to Idle.
func (s *Session) Submit(ctx context.Context, payload string) (Result, error) {
	s.mu.Lock()
	if err := s.move(StateValidating); err != nil {
		s.mu.Unlock()
		return Result{}, err
	}
	s.mu.Unlock()

	res, err := s.svc.Scan(ctx, payload)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateValidating {
		// Reset while the pipeline ran.
		return res, ErrSuperseded
	}
	if err != nil {
		s.fail(err)
		return res, err
	}
	s.result = res
	return res, s.move(StateResultShown)
}

// Open shows a recorded history entry so it can be rated.
func (s *Session) Open(ctx context.Context, entryID string) (Result, error) {
	e, err := s.svc.history.Get(ctx, entryID)
	if err != nil {
		return Result{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.move(StateResultShown); err != nil {
		return Result{}, err
	}
	s.lastErr = nil
	s.result = Result{Identifier: e.Identifier, Assessment: e.Assessment, Entry: e, Duplicate: true}
	return s.result, nil
}

// Rate votes on the shown result; a nil verdict retracts the vote.
// Rejected votes keep the session where it was.
func (s *Session) Rate(ctx context.Context, verdict *domain.Verdict) (domain.ScanHistoryEntry, error) {
	s.mu.Lock()
	if s.state != StateResultShown && s.state != StateRated {
		err := &TransitionError{From: s.state, To: StateRated}
		s.mu.Unlock()
		return domain.ScanHistoryEntry{}, err
	}
	entryID := s.result.Entry.ID
	s.mu.Unlock()

	e, err := s.svc.Vote(ctx, s.voterID, entryID, verdict)
	if err != nil {
		return e, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateIdle {
		// Reset while the vote was in flight; the vote itself is stored.
		return e, nil
	}
	s.result.Entry = e
	return e, s.move(StateRated)
}

// Reset abandons the current scan.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateIdle
	s.result = Result{}
	s.lastErr = nil
}

func (s *Session) fail(err error) {
	s.lastErr = err
	s.state = StateIdle
	s.result = Result{}
}

func (s *Session) move(to State) error {
	for _, allowed := range transitions[s.state] {
		if allowed == to {
			s.state = to
			return nil
		}
	}
	return &TransitionError{From: s.state, To: to}
}
