// Package sessions issues the opaque token that identifies one kiosk
// conversation on the voice backend.
package sessions

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/koscakluka/ema-kiosk/core/voiceerrors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
)

type Issuer interface {
	Issue(ctx context.Context) (string, error)
}

// LocalIssuer mints random tokens for backends that accept any session id.
type LocalIssuer struct{}

func (LocalIssuer) Issue(context.Context) (string, error) {
	return uuid.NewString(), nil
}

// HTTPIssuer asks the backend for a new conversation.
type HTTPIssuer struct {
	BaseURL string
	Client  *http.Client
}

func NewHTTPIssuer(baseURL string) *HTTPIssuer {
	return &HTTPIssuer{
		BaseURL: baseURL,
		Client: &http.Client{
			Timeout: 10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport,
				otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
					return "issue session " + r.URL.Path
				})),
		},
	}
}

type issueRequest struct {
	Source    string `json:"source"`
	StartedAt string `json:"started_at"`
}

type issueResponse struct {
	SessionID string `json:"session_id"`
}

func (i *HTTPIssuer) Issue(ctx context.Context) (string, error) {
	ctx, span := tracer.Start(ctx, "issue session")
	defer span.End()

	url := strings.TrimRight(i.BaseURL, "/") + "/conversations"
	span.SetAttributes(attribute.String("request.url", url))

	body, err := sonic.Marshal(issueRequest{Source: "kiosk", StartedAt: time.Now().UTC().Format(time.RFC3339)})
	if err != nil {
		return "", fmt.Errorf("error marshalling session request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		span.RecordError(err)
		return "", voiceerrors.Wrap(err, voiceerrors.KindValidation, "invalid_api_url", "invalid session service address")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := i.Client.Do(req)
	if err != nil {
		span.RecordError(err)
		return "", voiceerrors.Wrap(fmt.Errorf("error sending session request: %w", err),
			voiceerrors.KindConnection, "session_unavailable", "could not reach the conversation service")
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("response.status_code", resp.StatusCode))
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		return "", voiceerrors.Wrap(fmt.Errorf("error reading session response: %w", err),
			voiceerrors.KindConnection, "session_unavailable", "could not reach the conversation service")
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		err := fmt.Errorf("non-OK HTTP status: %s", resp.Status)
		span.RecordError(err)
		logger.Warn("session request rejected", "status", resp.StatusCode, "body", string(respBody))
		return "", voiceerrors.Wrap(err, voiceerrors.KindConnection, "session_rejected", "the conversation service refused a new session")
	}

	var parsed issueResponse
	if err := sonic.Unmarshal(respBody, &parsed); err != nil || parsed.SessionID == "" {
		if err == nil {
			err = fmt.Errorf("response missing session_id")
		}
		span.RecordError(err)
		return "", voiceerrors.Wrap(err, voiceerrors.KindProcessing, "session_malformed", "the conversation service sent an invalid session")
	}
	return parsed.SessionID, nil
}
