// Package push delivers alert notifications to user devices and mailboxes.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const defaultFCMEndpoint = "https://fcm.googleapis.com/fcm/send"

// FCMClient sends push notifications through Firebase Cloud Messaging. It
// implements notify.Pusher.
type FCMClient struct {
	serverKey  string
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewFCMClient creates an FCM sender with the given server key.
func NewFCMClient(serverKey string, timeout time.Duration, logger *slog.Logger) *FCMClient {
	return &FCMClient{
		serverKey:  serverKey,
		endpoint:   defaultFCMEndpoint,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// PushToDevice sends one notification to one device token.
func (c *FCMClient) PushToDevice(ctx context.Context, token, title, body string) error {
	payload := fcmRequest{
		To: token,
		Notification: fcmNotification{
			Title: title,
			Body:  body,
			Sound: "default",
		},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("serialize push payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "key="+c.serverKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("push request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("fcm error: status %d: %s", resp.StatusCode, msg)
	}

	var out fcmResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode fcm response: %w", err)
	}
	if out.Failure > 0 {
		return fmt.Errorf("fcm rejected delivery: %s", out.firstError())
	}
	return nil
}

// FCM legacy HTTP API types.

type fcmRequest struct {
	To           string          `json:"to"`
	Notification fcmNotification `json:"notification"`
}

type fcmNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Sound string `json:"sound,omitempty"`
}

type fcmResponse struct {
	Success int `json:"success"`
	Failure int `json:"failure"`
	Results []struct {
		Error string `json:"error"`
	} `json:"results"`
}

func (r fcmResponse) firstError() string {
	for _, res := range r.Results {
		if res.Error != "" {
			return res.Error
		}
	}
	return "unknown error"
}
