package c2dm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/catch/postal/pkg/push"
)

// SendURL is the C2DM send endpoint.
const SendURL = "https://android.apis.google.com/c2dm/send"

// Delivery errors mapped from the response body.
var (
	ErrQuotaExceeded       = errors.New("quota exceeded")
	ErrDeviceQuotaExceeded = errors.New("device quota exceeded")
	ErrMissingRegistration = errors.New("missing registration")
	ErrInvalidRegistration = errors.New("invalid registration")
	ErrMismatchSenderID    = errors.New("mismatch sender id")
	ErrNotRegistered       = errors.New("not registered")
	ErrMessageTooBig       = errors.New("message too big")
	ErrMissingCollapseKey  = errors.New("missing collapse key")
	ErrUnknown             = errors.New("an unknown error occurred")
)

// errorBodies maps the literal response bodies to error kinds. The removed
// flag marks bodies that mean the registration id is dead and should be
// reported through the identity-removed callback.
var errorBodies = map[string]struct {
	err     error
	removed bool
}{
	"Error=QuotaExceeded":       {ErrQuotaExceeded, false},
	"Error=DeviceQuotaExceeded": {ErrDeviceQuotaExceeded, false},
	"Error=MissingRegistration": {ErrMissingRegistration, true},
	"Error=InvalidRegistration": {ErrInvalidRegistration, true},
	"Error=MismatchSenderId":    {ErrMismatchSenderID, false},
	"Error=NotRegistered":       {ErrNotRegistered, true},
	"Error=MessageTooBig":       {ErrMessageTooBig, false},
	"Error=MissingCollapseKey":  {ErrMissingCollapseKey, false},
}

// Client sends notifications to Android devices through C2DM.
type Client struct {
	authToken  string
	url        string
	httpClient *http.Client
	logger     zerolog.Logger
	onRemoved  push.IdentityRemovedFunc
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient substitutes the HTTP client used for sends.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithURL overrides the send endpoint.
func WithURL(url string) Option {
	return func(c *Client) { c.url = url }
}

// NewClient returns a Client authenticating with the given ClientLogin
// token.
func NewClient(authToken string, logger zerolog.Logger, opts ...Option) *Client {
	c := &Client{
		authToken:  authToken,
		url:        SendURL,
		httpClient: http.DefaultClient,
		logger:     logger.With().Str("component", "c2dm-client").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnIdentityRemoved registers the callback invoked when C2DM reports a
// registration id as dead. It must be set before the first Deliver.
func (c *Client) OnIdentityRemoved(fn push.IdentityRemovedFunc) {
	c.onRemoved = fn
}

// Deliver posts message to the device identified by registrationID and maps
// the response body to a result. A body beginning with "id=" is success.
func (c *Client) Deliver(ctx context.Context, registrationID string, message *Message) error {
	params := message.Params()
	params.Set("registration_id", registrationID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, strings.NewReader(params.Encode()))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "GoogleLogin auth="+c.authToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if !utf8.Valid(body) {
		return ErrUnknown
	}

	text := strings.TrimRight(string(body), "\r\n")
	if strings.HasPrefix(text, "id=") {
		return nil
	}

	mapped, ok := errorBodies[text]
	if !ok {
		c.logger.Warn().Str("body", text).Int("status", resp.StatusCode).Msg("unrecognized C2DM response")
		return ErrUnknown
	}
	if mapped.removed && c.onRemoved != nil {
		c.onRemoved(registrationID)
	}
	return mapped.err
}
