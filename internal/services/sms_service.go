package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ajar-app/backend/internal/config"
)

// SMSSender sends a single message to an E.164 number and returns the
// provider's message identifier when it has one.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) (string, error)
}

type SMSService struct {
	cfg           *config.Config
	client        *http.Client
	twilioBaseURL string
	sevenBaseURL  string
}

func NewSMSService(cfg *config.Config) *SMSService {
	return &SMSService{
		cfg:           cfg,
		client:        &http.Client{Timeout: 10 * time.Second},
		twilioBaseURL: "https://api.twilio.com",
		sevenBaseURL:  "https://gateway.seven.io",
	}
}

// SendSMS makes a single delivery attempt; no retry. A slow gateway is
// bounded by the client timeout and surfaces as a delivery failure.
func (s *SMSService) SendSMS(ctx context.Context, to, body string) (string, error) {
	switch strings.ToLower(s.cfg.SMSProvider) {
	case "seven":
		return s.sendViaSeven(ctx, to, body)
	case "twilio":
		return s.sendViaTwilio(ctx, to, body)
	default:
		return s.sendViaTwilio(ctx, to, body)
	}
}

// Twilio Messages API: POST https://api.twilio.com/2010-04-01/Accounts/{sid}/Messages.json
// BasicAuth: account SID / auth token
// Form: To=<E164>&Body=<msg> plus MessagingServiceSid or From
func (s *SMSService) sendViaTwilio(ctx context.Context, to, body string) (string, error) {
	if s.cfg.TwilioAccountSID == "" || s.cfg.TwilioAuthToken == "" {
		return "", fmt.Errorf("twilio credentials missing")
	}
	form := url.Values{}
	form.Set("To", to)
	form.Set("Body", body)
	if s.cfg.TwilioMessagingServiceSID != "" {
		form.Set("MessagingServiceSid", s.cfg.TwilioMessagingServiceSID)
	} else {
		form.Set("From", s.cfg.TwilioPhoneNumber)
	}

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", s.twilioBaseURL, s.cfg.TwilioAccountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(s.cfg.TwilioAccountSID, s.cfg.TwilioAuthToken)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("twilio send failed: %d", resp.StatusCode)
	}

	var out struct {
		Sid string `json:"sid"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("twilio response decode: %w", err)
	}
	return out.Sid, nil
}

// seven.io API v1: POST https://gateway.seven.io/api/sms
// Header: X-Api-Key: <key>
// Form: to=<E164>&text=<msg>&from=<id>
func (s *SMSService) sendViaSeven(ctx context.Context, to, body string) (string, error) {
	if s.cfg.SevenAPIKey == "" {
		return "", fmt.Errorf("seven api key missing")
	}
	form := url.Values{}
	form.Set("to", to)
	form.Set("text", body)
	if s.cfg.SMSFrom != "" {
		form.Set("from", s.cfg.SMSFrom)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.sevenBaseURL+"/api/sms", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Api-Key", s.cfg.SevenAPIKey)
	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("seven send failed: %d", resp.StatusCode)
	}
	return "", nil
}
