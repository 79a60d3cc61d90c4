package gcm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/catch/postal/pkg/push"
)

// SendURL is the GCM send endpoint.
const SendURL = "https://android.googleapis.com/gcm/send"

// Per-recipient error strings that mean the registration id is dead.
const (
	errNotRegistered       = "NotRegistered"
	errInvalidRegistration = "InvalidRegistration"
)

// ErrRequestFailed is returned when the service rejects the request as a
// whole (authentication failure, malformed JSON, server error).
var ErrRequestFailed = errors.New("GCM request failed")

// Client sends notifications to Android devices through GCM. A single
// Deliver may carry several registration ids; results are per-recipient.
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

// NewClient returns a Client authenticating with the given API key.
func NewClient(authToken string, logger zerolog.Logger, opts ...Option) *Client {
	c := &Client{
		authToken:  authToken,
		url:        SendURL,
		httpClient: http.DefaultClient,
		logger:     logger.With().Str("component", "gcm-client").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnIdentityRemoved registers the callback invoked when GCM reports a
// registration id as dead. It must be set before the first Deliver.
func (c *Client) OnIdentityRemoved(fn push.IdentityRemovedFunc) {
	c.onRemoved = fn
}

// Deliver posts message to the devices identified by registrationIDs and
// parses the per-recipient result array. Recipients reported NotRegistered
// or InvalidRegistration are passed to the identity-removed callback;
// canonical registration_id rewrites are logged but not migrated. Other
// per-recipient errors are logged; only a request-level failure is returned.
func (c *Client) Deliver(ctx context.Context, registrationIDs []string, message *Message) error {
	if len(registrationIDs) == 0 {
		return nil
	}

	body, err := json.Marshal(request{
		RegistrationIDs: registrationIDs,
		CollapseKey:     message.CollapseKey,
		Data:            message.Data,
		DelayWhileIdle:  message.DelayWhileIdle,
		TimeToLive:      message.TimeToLive,
		DryRun:          message.DryRun,
	})
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "key="+c.authToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn().Int("status", resp.StatusCode).Msg("GCM rejected the request")
		return fmt.Errorf("%w: status %d", ErrRequestFailed, resp.StatusCode)
	}

	var parsed response
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	for i, res := range parsed.Results {
		if i >= len(registrationIDs) {
			break
		}
		id := registrationIDs[i]
		switch {
		case res.Error == errNotRegistered || res.Error == errInvalidRegistration:
			if c.onRemoved != nil {
				c.onRemoved(id)
			}
		case res.Error != "":
			c.logger.Warn().Str("error", res.Error).Msg("GCM delivery failed")
		case res.RegistrationID != "":
			// Google is asking us to migrate to a canonical id. Migration is
			// deferred; the rewrite is only recorded.
			c.logger.Info().
				Str("registration_id", id).
				Str("canonical_id", res.RegistrationID).
				Msg("GCM reported a canonical registration id")
		}
	}
	return nil
}
