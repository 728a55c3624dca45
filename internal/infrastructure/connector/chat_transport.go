package connector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/slack-go/slack"

	"github.com/taskstream/integration-hub/internal/domain/integration"
)

// ChatIdentity is the bot identity returned by an auth test.
type ChatIdentity struct {
	Team   string
	User   string
	UserID string
}

// ChatTransport is the wire client of the chat adapter.
type ChatTransport interface {
	AuthTest(ctx context.Context) (ChatIdentity, error)
	// PostMessage posts text to channel and returns the message timestamp.
	PostMessage(ctx context.Context, channel, text string) (string, error)
}

// ChatTransportFactory builds a transport for a validated config.
type ChatTransportFactory func(name string, cfg integration.ChatConfig) ChatTransport

// WithChatTransport replaces the Slack transport, mainly for tests.
func WithChatTransport(factory ChatTransportFactory) Option {
	return func(o *options) {
		o.chat = factory
	}
}

// slackTransport talks to the Slack Web API through github.com/slack-go/slack.
type slackTransport struct {
	name   string
	client *slack.Client
}

// NewSlackTransport returns a token-authenticated Slack transport.
func NewSlackTransport(name string, cfg integration.ChatConfig) ChatTransport {
	opts := []slack.Option{
		slack.OptionHTTPClient(&http.Client{Timeout: cfg.Timeout}),
	}
	if cfg.BaseURL != "" {
		apiURL := cfg.BaseURL
		if !strings.HasSuffix(apiURL, "/") {
			apiURL += "/"
		}
		opts = append(opts, slack.OptionAPIURL(apiURL))
	}
	return &slackTransport{
		name:   name,
		client: slack.New(cfg.Token, opts...),
	}
}

func (t *slackTransport) AuthTest(ctx context.Context) (ChatIdentity, error) {
	resp, err := t.client.AuthTestContext(ctx)
	if err != nil {
		return ChatIdentity{}, t.classify(ctx, err)
	}
	return ChatIdentity{Team: resp.Team, User: resp.User, UserID: resp.UserID}, nil
}

func (t *slackTransport) PostMessage(ctx context.Context, channel, text string) (string, error) {
	_, timestamp, err := t.client.PostMessageContext(ctx, channel, slack.MsgOptionText(text, false))
	if err != nil {
		return "", t.classify(ctx, err)
	}
	return timestamp, nil
}

// Slack API error codes by class.
var (
	slackAuthErrors = map[string]bool{
		"invalid_auth":     true,
		"not_authed":       true,
		"account_inactive": true,
		"token_revoked":    true,
		"token_expired":    true,
		"missing_scope":    true,
	}
	slackPayloadErrors = map[string]bool{
		"channel_not_found": true,
		"not_in_channel":    true,
		"is_archived":       true,
		"msg_too_long":      true,
		"no_text":           true,
		"invalid_blocks":    true,
	}
)

func (t *slackTransport) classify(ctx context.Context, err error) error {
	var apiErr slack.SlackErrorResponse
	if errors.As(err, &apiErr) {
		switch {
		case slackAuthErrors[apiErr.Err]:
			return &AuthError{Integration: t.name, Reason: apiErr.Err}
		case slackPayloadErrors[apiErr.Err]:
			return fmt.Errorf("%w: %s: %s", integration.ErrInvalidPayload, t.name, apiErr.Err)
		default:
			return fmt.Errorf("%w: %s: %s", integration.ErrConnectionFailed, t.name, apiErr.Err)
		}
	}

	var rateErr *slack.RateLimitedError
	if errors.As(err, &rateErr) {
		return fmt.Errorf("%w: %s: rate limited, retry after %s", integration.ErrConnectionFailed, t.name, rateErr.RetryAfter)
	}

	var statusErr slack.StatusCodeError
	if errors.As(err, &statusErr) {
		return classifyStatus(t.name, statusErr.Code, statusErr.Status)
	}

	return transportError(ctx, t.name, err)
}
