package orchestration

import (
	"maps"
	"time"

	"github.com/koscakluka/ema-kiosk/core/vad"
	"github.com/koscakluka/ema-kiosk/core/voiceerrors"
)

// ServerVAD is the backend's own view of voice activity.
type ServerVAD struct {
	IsSpeech    bool
	EnergyLevel float64
	Confidence  float64
}

// Snapshot is a point-in-time view of the kiosk for rendering.
type Snapshot struct {
	SessionID string
	State     State
	Messages  []Message
	// Errors holds the latest error of each class until it is reset.
	Errors map[voiceerrors.Kind]*voiceerrors.Error

	Level     vad.Reading
	ServerVAD ServerVAD

	Step           string
	VisitorInfo    map[string]any
	CalendarResult map[string]any

	// ResetAt is when a completed conversation will be cleared.
	ResetAt time.Time
}

// Err returns the stored error of kind, if any.
func (s Snapshot) Err(kind voiceerrors.Kind) *voiceerrors.Error {
	return s.Errors[kind]
}

func (o *Orchestrator) buildSnapshot() Snapshot {
	snap := Snapshot{
		State:          o.state,
		Messages:       o.messages,
		Errors:         make(map[voiceerrors.Kind]*voiceerrors.Error, len(o.errs)),
		Level:          o.level,
		ServerVAD:      o.serverVAD,
		Step:           o.step,
		VisitorInfo:    maps.Clone(o.visitorInfo),
		CalendarResult: maps.Clone(o.calendarResult),
		ResetAt:        o.resetAt,
	}
	if o.session != nil {
		snap.SessionID = o.session.id
	}
	for kind, err := range o.errs {
		copied := *err
		snap.Errors[kind] = &copied
	}
	return snap
}

// publish stores the current view and offers it on the updates channel,
// replacing any view nobody has read yet.
func (o *Orchestrator) publish() {
	snap := o.buildSnapshot()

	o.snapshotMu.Lock()
	o.snapshot = snap
	o.snapshotMu.Unlock()

	select {
	case <-o.updates:
	default:
	}
	select {
	case o.updates <- snap:
	default:
	}
}
