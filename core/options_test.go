package orchestration

import (
	"testing"
	"time"

	"github.com/koscakluka/ema-kiosk/core/sessions"
	"github.com/koscakluka/ema-kiosk/core/voicesocket"
)

func TestNewOrchestratorDefaults(t *testing.T) {
	o := NewOrchestrator()
	defer o.Close()

	if o.completionResetDelay != DefaultCompletionResetDelay {
		t.Fatalf("unexpected reset delay %s", o.completionResetDelay)
	}
	if o.maxAudioFailures != DefaultMaxAudioFailures {
		t.Fatalf("unexpected failure limit %d", o.maxAudioFailures)
	}
	if _, ok := o.issuer.(sessions.LocalIssuer); !ok {
		t.Fatalf("expected local session ids by default, got %T", o.issuer)
	}
	if o.newSocket == nil {
		t.Fatalf("expected a default socket factory")
	}
	if _, ok := o.Snapshot().State.(IdleState); !ok {
		t.Fatalf("expected idle state")
	}
}

func TestOptionsIgnoreNonPositiveValues(t *testing.T) {
	o := NewOrchestrator(
		WithCompletionResetDelay(0),
		WithMaxAudioFailures(-1),
		WithMaxUtterance(0),
		WithAfterFunc(nil),
	)
	defer o.Close()

	if o.completionResetDelay != DefaultCompletionResetDelay || o.maxAudioFailures != DefaultMaxAudioFailures {
		t.Fatalf("expected defaults to be kept")
	}
	if o.maxUtterance <= 0 || o.afterFunc == nil {
		t.Fatalf("expected defaults to be kept")
	}
}

func TestDefaultSocketFactoryUsesSessionID(t *testing.T) {
	cfg := voicesocket.DefaultConfig()
	cfg.BaseURL = "http://kiosk.local:8000"

	socket := defaultSocketFactory(cfg)("abc", func(voicesocket.StateChange) {})
	client, ok := socket.(*voicesocket.Client)
	if !ok {
		t.Fatalf("expected a voice socket client, got %T", socket)
	}
	if client.SessionID() != "abc" {
		t.Fatalf("expected session id abc, got %q", client.SessionID())
	}
	if client.State() != voicesocket.StateDisconnected {
		t.Fatalf("expected a fresh client to be disconnected")
	}
}

func TestWithCompletionResetDelay(t *testing.T) {
	o := NewOrchestrator(WithCompletionResetDelay(3 * time.Second))
	defer o.Close()

	if o.completionResetDelay != 3*time.Second {
		t.Fatalf("unexpected reset delay %s", o.completionResetDelay)
	}
}
