package channels

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/spec-kit/repair-service/pkg/util"
)

var phonePattern = regexp.MustCompile(`^\+?[0-9]{7,15}$`)

// HTTPSMSGateway posts messages to a form-encoded SMS gateway API.
type HTTPSMSGateway struct {
	baseURL  string
	apiKey   string
	senderID string
	client   *http.Client
	logger   *zap.Logger
}

type gatewayResponse struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
	Error     string `json:"error"`
}

// NewHTTPSMSGateway builds the adapter. A zero timeout defaults to 10s.
func NewHTTPSMSGateway(baseURL, apiKey, senderID string, timeout time.Duration, logger *zap.Logger) *HTTPSMSGateway {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPSMSGateway{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		senderID: senderID,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

// SendSMS submits body to phoneNumber.
func (g *HTTPSMSGateway) SendSMS(ctx context.Context, phoneNumber, body string) (string, error) {
	phone := normalizePhone(phoneNumber)
	if !phonePattern.MatchString(phone) {
		return "", apperrors.NewChannelPermanent("sms", fmt.Errorf("invalid phone number %q", phoneNumber))
	}

	form := url.Values{}
	form.Set("senderid", g.senderID)
	form.Set("mobile", phone)
	form.Set("msg", body)
	form.Set("msgType", "text")
	form.Set("output", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/send", strings.NewReader(form.Encode()))
	if err != nil {
		return "", apperrors.NewChannelPermanent("sms", fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if g.apiKey != "" {
		req.Header.Set("apikey", g.apiKey)
	}

	start := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		g.logger.Warn("sms gateway unreachable", zap.Error(err))
		return "", apperrors.NewChannelTransient("sms", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	g.logger.Debug("sms gateway responded",
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)))

	if err := classifyStatus(resp.StatusCode, raw); err != nil {
		return "", err
	}

	var parsed gatewayResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", apperrors.NewChannelTransient("sms", fmt.Errorf("decode gateway response: %w", err))
	}
	if parsed.Error != "" {
		return "", apperrors.NewChannelPermanent("sms", errors.New(parsed.Error))
	}
	return parsed.MessageID, nil
}

func classifyStatus(status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests, status >= 500:
		return apperrors.NewChannelTransient("sms", fmt.Errorf("gateway status %d: %s", status, body))
	default:
		return apperrors.NewChannelPermanent("sms", fmt.Errorf("gateway status %d: %s", status, body))
	}
}

func normalizePhone(phone string) string {
	return strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(strings.TrimSpace(phone))
}
