package orchestration

import "github.com/koscakluka/ema-kiosk/core/events"

func (o *Orchestrator) emit(event events.Event) {
	if o.eventHandler == nil {
		return
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			logger.Error("event handler panicked", "kind", event.Kind(), "panic", recovered)
		}
	}()
	o.eventHandler(event)
}

// setState replaces the conversation state and announces phase changes.
func (o *Orchestrator) setState(next State) {
	prev := o.state
	o.state = next

	if prev.Phase() != next.Phase() {
		logger.Info("conversation phase changed", "from", prev.Phase(), "to", next.Phase())
		o.emit(events.NewPhaseChanged(prev.Phase().String(), next.Phase().String()))
	}
}
