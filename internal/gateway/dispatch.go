package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// DelegationMessage is the JSON body POSTed to an agent's inbox, matching
// the wire format of spec §6.
type DelegationMessage struct {
	TaskID                string `json:"task_id"`
	Type                  string `json:"type"`
	DescriptionSanitised  string `json:"description_sanitised"`
	Priority              string `json:"priority"`
	DelegatedBy           string `json:"delegated_by"`
	CreatedAt             string `json:"created_at"` // RFC3339
}

// Dispatcher posts signed messages to the gateway's per-agent inbox
// endpoint. It retries exactly once, and only on a network-level failure —
// an HTTP error status is a terminal result the caller must handle itself
// (spec §4.4: delivery failures escalate to a ticket, they don't retry
// silently).
type Dispatcher struct {
	baseURL string
	keys    KeyStore
	selfID  string
	client  *http.Client
}

// NewDispatcher creates a Dispatcher posting to baseURL, signing each
// request as selfID using selfID's currently active AgentKey (looked up
// from keys per request, spec §4.4(a)) rather than a single shared secret.
// An empty selfID defaults to "main", the only agent this repo's daemon
// ever dispatches delegation messages as.
func NewDispatcher(baseURL string, keys KeyStore, selfID string, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if selfID == "" {
		selfID = "main"
	}
	return &Dispatcher{
		baseURL: baseURL,
		keys:    keys,
		selfID:  selfID,
		client:  &http.Client{Timeout: timeout},
	}
}

// Send delivers msg to assignedTo's inbox. It retries once on a
// transport-level error (connection refused, DNS failure, timeout); an
// HTTP error status is never retried (spec §5: "not 4xx/5xx").
func (d *Dispatcher) Send(ctx context.Context, assignedTo string, msg DelegationMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(500 * time.Millisecond):
			}
		}
		err := d.post(ctx, assignedTo, body)
		if err == nil {
			return nil
		}
		lastErr = err
		if !isNetworkError(err) {
			return err
		}
	}
	return lastErr
}

func (d *Dispatcher) post(ctx context.Context, assignedTo string, body []byte) error {
	path := "/agent/" + assignedTo + "/message"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	keyHash, err := d.keys.ActiveAgentKeyHash(ctx, d.selfID)
	if err != nil {
		return fmt.Errorf("no active agent key for %s: %w", d.selfID, err)
	}

	ts := strconv.FormatInt(time.Now().Unix(), 10)
	nonce := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Agent-Id", d.selfID)
	req.Header.Set("X-Timestamp", ts)
	req.Header.Set("X-Nonce", nonce)
	req.Header.Set("X-Signature", Sign(keyHash, http.MethodPost, path, ts, nonce, body))

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func isNetworkError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr)
}
