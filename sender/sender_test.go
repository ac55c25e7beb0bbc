package sender

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPISender_SendEmail(t *testing.T) {
	var got apiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer re_test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg_123"}`))
	}))
	defer srv.Close()

	s, err := NewAPISender(srv.URL, "re_test", "LogBloga <orders@logbloga.com>")
	require.NoError(t, err)

	res, err := s.SendEmail(context.Background(), Message{
		To:      "buyer@example.com",
		Subject: "Receipt",
		HTML:    "<p>hi</p>",
		Tags:    map[string]string{"order_id": "o-1", "category": "payment_receipt"},
	})
	require.NoError(t, err)
	assert.Equal(t, "msg_123", res.MessageID)
	assert.Equal(t, []string{"buyer@example.com"}, got.To)
	assert.Equal(t, []apiTag{{Name: "category", Value: "payment_receipt"}, {Name: "order_id", Value: "o-1"}}, got.Tags)
}

func TestAPISender_ProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"invalid from"}`, http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	s, err := NewAPISender(srv.URL, "re_test", "orders@logbloga.com")
	require.NoError(t, err)

	_, err = s.SendEmail(context.Background(), Message{To: "a@b.c", Subject: "x", HTML: "y"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "422")
}

func TestNewSMTPSender_RequiresSettings(t *testing.T) {
	_, err := NewSMTPSender("", "587", "u", "p", "")
	assert.EqualError(t, err, "SMTP_HOST not set")

	s, err := NewSMTPSender("smtp.example.com", "587", "u", "p", "")
	require.NoError(t, err)
	assert.Equal(t, "u", s.from)
}

func TestSMTPSender_SendEmail(t *testing.T) {
	s, err := NewSMTPSender("smtp.example.com", "587", "user", "pass", "orders@logbloga.com")
	require.NoError(t, err)

	var gotAddr string
	var gotMsg []byte
	s.send = func(addr string, _ smtp.Auth, _ string, to []string, msg []byte) error {
		gotAddr = addr
		gotMsg = msg
		return nil
	}

	_, err = s.SendEmail(context.Background(), Message{To: "buyer@example.com", Subject: "Hello", HTML: "<b>x</b>"})
	require.NoError(t, err)
	assert.Equal(t, "smtp.example.com:587", gotAddr)
	assert.True(t, strings.HasPrefix(string(gotMsg), "From: orders@logbloga.com\r\n"))
	assert.Contains(t, string(gotMsg), "Subject: Hello\r\n")

	s.send = func(string, smtp.Auth, string, []string, []byte) error { return errors.New("connection refused") }
	_, err = s.SendEmail(context.Background(), Message{To: "buyer@example.com"})
	assert.ErrorContains(t, err, "smtp send failed")
}
