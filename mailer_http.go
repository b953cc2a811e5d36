package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// HTTPMailer posts messages to a JSON email API such as Resend
type HTTPMailer struct {
	endpoint string
	apiKey   string
	from     string
	client   *http.Client
}

type HTTPMailerOption func(*HTTPMailer)

func WithHTTPClient(client *http.Client) HTTPMailerOption {
	return func(m *HTTPMailer) {
		if client != nil {
			m.client = client
		}
	}
}

func WithMailerTimeout(timeout time.Duration) HTTPMailerOption {
	return func(m *HTTPMailer) {
		if timeout > 0 {
			m.client.Timeout = timeout
		}
	}
}

func NewHTTPMailer(endpoint, apiKey, from string, opts ...HTTPMailerOption) (*HTTPMailer, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, goerrors.New("mail api url is required", goerrors.CategoryValidation)
	}
	if strings.TrimSpace(from) == "" {
		return nil, goerrors.New("mail sender address is required", goerrors.CategoryValidation)
	}

	m := &HTTPMailer{
		endpoint: endpoint,
		apiKey:   apiKey,
		from:     from,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m, nil
}

type sendMailRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Text    string   `json:"text"`
}

func (m *HTTPMailer) Send(ctx context.Context, to, subject, body string) error {
	payload, err := json.Marshal(sendMailRequest{
		From:    m.from,
		To:      []string{to},
		Subject: subject,
		Text:    body,
	})
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode mail request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(payload))
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to build mail request")
	}

	req.Header.Set("Content-Type", "application/json")
	if m.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+m.apiKey)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "mail api request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return goerrors.New(
			fmt.Sprintf("mail api returned %d", resp.StatusCode),
			goerrors.CategoryOperation,
		).WithMetadata(map[string]any{
			"status":   resp.StatusCode,
			"response": strings.TrimSpace(string(msg)),
		})
	}

	return nil
}
