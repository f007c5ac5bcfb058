package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"saasbase/internal/types"
)

// resendAPIBase is the default Resend API base URL, overridable in tests via
// ResendClientConfig.BaseURL.
const resendAPIBase = "https://api.resend.com"

// ResendClientConfig holds the configuration for creating a ResendClient.
type ResendClientConfig struct {
	APIKey      types.SecretString
	FromAddress string
	FromName    string
	BaseURL     string
	Logger      *slog.Logger
}

// ResendClient implements EmailSender against the Resend /emails API.
type ResendClient struct {
	base        *BaseClient
	apiKey      types.SecretString
	fromAddress string
	fromName    string
	baseURL     string
	logger      *slog.Logger
}

// NewResendClient creates a ResendClient on the given HTTP client.
func NewResendClient(httpClient *http.Client, cfg ResendClientConfig) *ResendClient {
	return NewResendClientWithBase(
		NewBaseClient(httpClient, "resend", DefaultRetryPolicy()),
		cfg,
	)
}

// NewResendClientWithBase creates a ResendClient with a caller-provided
// BaseClient.
func NewResendClientWithBase(base *BaseClient, cfg ResendClientConfig) *ResendClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = resendAPIBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ResendClient{
		base:        base,
		apiKey:      cfg.APIKey,
		fromAddress: cfg.FromAddress,
		fromName:    cfg.FromName,
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		logger:      logger,
	}
}

type resendEmailPayload struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

type resendErrorResponse struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// Send delivers one transactional email. Resend answers 200 with the message
// ID on success; the ID is logged but not returned since callers never
// branch on it.
func (c *ResendClient) Send(ctx context.Context, msg EmailMessage) error {
	from := c.fromAddress
	if c.fromName != "" {
		from = fmt.Sprintf("%s <%s>", c.fromName, c.fromAddress)
	}

	body, err := json.Marshal(resendEmailPayload{
		From:    from,
		To:      []string{msg.To},
		Subject: msg.Subject,
		HTML:    msg.HTML,
	})
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to marshal email payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/emails", bytes.NewReader(body))
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to create email request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey.Unmask())

	resp, err := c.base.Do(req)
	if err != nil {
		if _, ok := err.(*types.AppError); ok {
			return err
		}
		return types.NewAppError(types.ErrCodeUpstreamEmail, fmt.Sprintf("email request failed: %v", err), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		var result struct {
			ID string `json:"id"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
			c.logger.InfoContext(ctx, "email accepted", slog.String("message_id", result.ID))
		}
		return nil
	}

	respBody, _ := io.ReadAll(resp.Body)
	var resendErr resendErrorResponse
	message := string(respBody)
	if err := json.Unmarshal(respBody, &resendErr); err == nil && resendErr.Message != "" {
		message = resendErr.Message
	}
	return types.NewAppError(types.ErrCodeUpstreamEmail,
		fmt.Sprintf("Resend error (%d): %s", resp.StatusCode, message), nil)
}

var _ EmailSender = (*ResendClient)(nil)
