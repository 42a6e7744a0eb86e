package events

const (
	KindSessionStarted Kind = "conversation.session_started"
	KindPhaseChanged   Kind = "conversation.phase_changed"
	KindSessionEnded   Kind = "conversation.session_ended"

	KindConnectionChanged Kind = "connection.changed"
)

type SessionStarted struct {
	Base
	SessionID string
}

func NewSessionStarted(sessionID string) SessionStarted {
	return SessionStarted{Base: NewBase(KindSessionStarted), SessionID: sessionID}
}

// PhaseChanged carries phase names so receivers need not import the
// orchestrator.
type PhaseChanged struct {
	Base
	From string
	To   string
}

func NewPhaseChanged(from, to string) PhaseChanged {
	return PhaseChanged{Base: NewBase(KindPhaseChanged), From: from, To: to}
}

type SessionEnded struct {
	Base
	SessionID string
	Err       error
}

func NewSessionEnded(sessionID string, err error) SessionEnded {
	return SessionEnded{Base: NewBase(KindSessionEnded), SessionID: sessionID, Err: err}
}

type ConnectionChanged struct {
	Base
	State   string
	Attempt int
}

func NewConnectionChanged(state string, attempt int) ConnectionChanged {
	return ConnectionChanged{Base: NewBase(KindConnectionChanged), State: state, Attempt: attempt}
}
