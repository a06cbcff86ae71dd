package status

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// WebhookPublisher posts artifacts to a Discord-compatible webhook. The
// target string is the webhook URL itself; message ids come back from the
// webhook and address later edits and deletes.
type WebhookPublisher struct {
	hc     *http.Client
	logger *zap.Logger
}

// NewWebhookPublisher creates a publisher sharing one HTTP client.
func NewWebhookPublisher(timeout time.Duration, logger *zap.Logger) *WebhookPublisher {
	return &WebhookPublisher{
		hc:     &http.Client{Timeout: timeout},
		logger: logger,
	}
}

type webhookEmbed struct {
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Color       int             `json:"color"`
	Fields      []ArtifactField `json:"fields,omitempty"`
	Timestamp   string          `json:"timestamp"`
}

type webhookPayload struct {
	Embeds []webhookEmbed `json:"embeds"`
}

func embedFor(a *Artifact) webhookEmbed {
	return webhookEmbed{
		Title:       a.Title,
		Description: a.Description,
		Color:       a.Color,
		Fields:      a.Fields,
		Timestamp:   a.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// Publish posts the artifact and returns the created message id. The
// ?wait=true query makes the webhook return the message instead of 204.
func (p *WebhookPublisher) Publish(ctx context.Context, target string, a *Artifact) (string, error) {
	var created struct {
		ID string `json:"id"`
	}
	if err := p.do(ctx, http.MethodPost, target+"?wait=true", a, &created); err != nil {
		return "", err
	}
	if created.ID == "" {
		return "", fmt.Errorf("webhook returned no message id")
	}
	return created.ID, nil
}

// Update edits an existing webhook message in place.
func (p *WebhookPublisher) Update(ctx context.Context, target, messageID string, a *Artifact) error {
	return p.do(ctx, http.MethodPatch, target+"/messages/"+messageID, a, nil)
}

// Delete removes a webhook message.
func (p *WebhookPublisher) Delete(ctx context.Context, target, messageID string) error {
	return p.do(ctx, http.MethodDelete, target+"/messages/"+messageID, nil, nil)
}

func (p *WebhookPublisher) do(ctx context.Context, method, url string, a *Artifact, out any) error {
	var body io.Reader
	if a != nil {
		payload, err := json.Marshal(webhookPayload{Embeds: []webhookEmbed{embedFor(a)}})
		if err != nil {
			return err
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	if a != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.hc.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrMessageNotFound, url)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, snippet)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode webhook response: %w", err)
		}
	}
	return nil
}
