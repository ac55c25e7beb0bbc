package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"
)

// APISender sends through a transactional email provider's HTTP API
// (Resend-compatible: bearer key, JSON body, tags as name/value pairs).
type APISender struct {
	endpoint   string
	apiKey     string
	from       string
	httpClient *http.Client
}

type apiTag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type apiRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
	Tags    []apiTag `json:"tags,omitempty"`
}

type apiResponse struct {
	ID string `json:"id"`
}

func NewAPISender(endpoint, apiKey, from string) (*APISender, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("EMAIL_API_URL not set")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("EMAIL_API_KEY not set")
	}
	if from == "" {
		return nil, fmt.Errorf("EMAIL_FROM not set")
	}
	return &APISender{
		endpoint:   endpoint,
		apiKey:     apiKey,
		from:       from,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (a *APISender) SendEmail(ctx context.Context, msg Message) (SendResult, error) {
	payload := apiRequest{
		From:    a.from,
		To:      []string{msg.To},
		Subject: msg.Subject,
		HTML:    msg.HTML,
	}
	names := make([]string, 0, len(msg.Tags))
	for name := range msg.Tags {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		payload.Tags = append(payload.Tags, apiTag{Name: name, Value: msg.Tags[name]})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return SendResult{}, fmt.Errorf("failed to encode email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return SendResult{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return SendResult{}, fmt.Errorf("email api request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode >= 300 {
		return SendResult{}, fmt.Errorf("email api error %s: %s", resp.Status, string(respBody))
	}

	var parsed apiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil || parsed.ID == "" {
		parsed.ID = fmt.Sprintf("api-%d", time.Now().UnixNano())
	}

	return SendResult{
		MessageID: parsed.ID,
		SentAt:    time.Now(),
	}, nil
}
