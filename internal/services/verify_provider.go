package services

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ajar-app/backend/internal/config"
)

// StartResult is the outcome of starting a verification.
type StartResult struct {
	// MessageID is the provider's opaque delivery identifier, if any.
	MessageID string
	// Code is the locally issued code. Empty when the provider manages
	// the code lifecycle itself.
	Code string
}

// CodeProvider is the delivery strategy the verification service is
// built against: either local code management over a plain SMS gateway,
// or a hosted verify service that owns issue and check end to end.
// The strategy is chosen at construction, never per request.
type CodeProvider interface {
	Mode() string
	// Managed reports whether the provider owns the code lifecycle.
	Managed() bool
	Start(ctx context.Context, phone string) (*StartResult, error)
	Check(ctx context.Context, phone, code string) (bool, error)
}

// --- local strategy ---

type localCodeProvider struct {
	sender SMSSender
}

// NewLocalCodeProvider issues random 6-digit codes and delivers them as
// a templated SMS body. Codes are matched against the store by the
// verification service, not by this provider.
func NewLocalCodeProvider(sender SMSSender) CodeProvider {
	return &localCodeProvider{sender: sender}
}

func (p *localCodeProvider) Mode() string  { return "local" }
func (p *localCodeProvider) Managed() bool { return false }

func (p *localCodeProvider) Start(ctx context.Context, phone string) (*StartResult, error) {
	code, err := generateCode()
	if err != nil {
		return nil, err
	}
	body := fmt.Sprintf("Your Ajar verification code is: %s", code)
	messageID, err := p.sender.SendSMS(ctx, phone, body)
	if err != nil {
		return nil, err
	}
	return &StartResult{MessageID: messageID, Code: code}, nil
}

func (p *localCodeProvider) Check(ctx context.Context, phone, code string) (bool, error) {
	return false, errors.New("local provider does not perform checks")
}

// generateCode draws a uniform 6-digit numeric code (100000-999999).
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(100000+n.Int64(), 10), nil
}

// --- delegated strategy (Twilio Verify) ---

type twilioVerifyProvider struct {
	cfg     *config.Config
	client  *http.Client
	baseURL string
}

// NewTwilioVerifyProvider delegates the whole code lifecycle to the
// Twilio Verify service identified by TWILIO_VERIFY_SERVICE_SID.
func NewTwilioVerifyProvider(cfg *config.Config) CodeProvider {
	return &twilioVerifyProvider{
		cfg:     cfg,
		client:  &http.Client{Timeout: 10 * time.Second},
		baseURL: "https://verify.twilio.com/v2",
	}
}

func (p *twilioVerifyProvider) Mode() string  { return "twilio_verify" }
func (p *twilioVerifyProvider) Managed() bool { return true }

// Twilio Verify v2: POST https://verify.twilio.com/v2/Services/{sid}/Verifications
// Form: To=<E164>&Channel=sms
func (p *twilioVerifyProvider) Start(ctx context.Context, phone string) (*StartResult, error) {
	form := url.Values{}
	form.Set("To", phone)
	form.Set("Channel", "sms")

	var out struct {
		Sid    string `json:"sid"`
		Status string `json:"status"`
	}
	if err := p.post(ctx, "Verifications", form, &out); err != nil {
		return nil, err
	}
	return &StartResult{MessageID: out.Sid}, nil
}

// Check forwards to VerificationChecks; only status "approved" counts.
// A 404 means Twilio no longer holds a pending verification for the
// number, which is the expired case, not a transport failure.
func (p *twilioVerifyProvider) Check(ctx context.Context, phone, code string) (bool, error) {
	if p.cfg.TwilioAccountSID == "" || p.cfg.TwilioAuthToken == "" || p.cfg.TwilioVerifyServiceSID == "" {
		return false, fmt.Errorf("twilio verify not configured")
	}
	form := url.Values{}
	form.Set("To", phone)
	form.Set("Code", code)

	endpoint := fmt.Sprintf("%s/Services/%s/VerificationChecks", p.baseURL, p.cfg.TwilioVerifyServiceSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(p.cfg.TwilioAccountSID, p.cfg.TwilioAuthToken)

	resp, err := p.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, fmt.Errorf("twilio verify check failed: %d", resp.StatusCode)
	}

	var out struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("twilio verify response decode: %w", err)
	}
	return out.Status == "approved", nil
}

func (p *twilioVerifyProvider) post(ctx context.Context, resource string, form url.Values, out interface{}) error {
	if p.cfg.TwilioAccountSID == "" || p.cfg.TwilioAuthToken == "" || p.cfg.TwilioVerifyServiceSID == "" {
		return fmt.Errorf("twilio verify not configured")
	}
	endpoint := fmt.Sprintf("%s/Services/%s/%s", p.baseURL, p.cfg.TwilioVerifyServiceSID, resource)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(p.cfg.TwilioAccountSID, p.cfg.TwilioAuthToken)

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("twilio verify start failed: %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
