package action

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Dispatcher posts delegated requests to the external executor. Dispatch is
// fire-and-forget: failures are logged by the caller, never retried, and
// never block the conversation.
type Dispatcher struct {
	HTTPClient *http.Client
	URL        string
}

func NewDispatcher(url string) *Dispatcher {
	// generous timeout: the executor may be a slow automation chain
	return &Dispatcher{HTTPClient: &http.Client{Timeout: 60 * time.Second}, URL: url}
}

type dispatchPayload struct {
	SessionID string `json:"sessionId"`
	Action    string `json:"action"`
	Request   string `json:"request"`
	Timestamp int64  `json:"timestamp"`
}

// Dispatch sends one delegated request. Callers run it in a goroutine.
func (d *Dispatcher) Dispatch(ctx context.Context, sessionID, action, request string) error {
	if d.URL == "" {
		return fmt.Errorf("dispatch: webhook url not configured")
	}
	body, _ := json.Marshal(dispatchPayload{
		SessionID: sessionID,
		Action:    action,
		Request:   request,
		Timestamp: time.Now().UnixMilli(),
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := d.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("dispatch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("dispatch: status=%d body=%s", resp.StatusCode, string(b))
	}
	return nil
}
