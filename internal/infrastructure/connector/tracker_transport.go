package connector

import (
	"context"
	"fmt"
	"net/http"

	jira "github.com/andygrunwald/go-jira"

	"github.com/taskstream/integration-hub/internal/domain/integration"
)

// TrackerTransport is the wire client of the issue tracker adapter.
type TrackerTransport interface {
	// Myself returns the account name behind the credentials.
	Myself(ctx context.Context) (string, error)
	// CreateIssue creates req and returns the new issue key.
	CreateIssue(ctx context.Context, req integration.IssueRequest) (string, error)
}

// TrackerTransportFactory builds a transport for a validated config.
type TrackerTransportFactory func(name string, cfg integration.TrackerConfig) (TrackerTransport, error)

// WithTrackerTransport replaces the Jira transport, mainly for tests.
func WithTrackerTransport(factory TrackerTransportFactory) Option {
	return func(o *options) {
		o.tracker = factory
	}
}

// jiraTransport talks to the Jira REST API through github.com/andygrunwald/go-jira.
type jiraTransport struct {
	name   string
	client *jira.Client
}

// NewJiraTransport returns a Jira transport using basic auth with an API token.
func NewJiraTransport(name string, cfg integration.TrackerConfig) (TrackerTransport, error) {
	auth := jira.BasicAuthTransport{
		Username: cfg.Username,
		Password: cfg.APIToken,
	}
	httpClient := auth.Client()
	httpClient.Timeout = cfg.Timeout

	client, err := jira.NewClient(httpClient, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: tracker client: %v", integration.ErrInvalidPayload, err)
	}
	return &jiraTransport{name: name, client: client}, nil
}

func (t *jiraTransport) Myself(ctx context.Context) (string, error) {
	user, resp, err := t.client.User.GetSelfWithContext(ctx)
	if err != nil {
		return "", t.classify(ctx, resp, err)
	}
	if user.DisplayName != "" {
		return user.DisplayName, nil
	}
	return user.Name, nil
}

func (t *jiraTransport) CreateIssue(ctx context.Context, req integration.IssueRequest) (string, error) {
	issue := &jira.Issue{
		Fields: &jira.IssueFields{
			Summary:     req.Summary,
			Description: req.Description,
			Type:        jira.IssueType{Name: req.IssueType},
			Priority:    &jira.Priority{Name: req.Priority},
			Project:     jira.Project{Key: req.ProjectKey},
		},
	}

	created, resp, err := t.client.Issue.CreateWithContext(ctx, issue)
	if err != nil {
		return "", t.classify(ctx, resp, err)
	}
	return created.Key, nil
}

func (t *jiraTransport) classify(ctx context.Context, resp *jira.Response, err error) error {
	if ctx.Err() == nil && resp != nil && resp.Response != nil && resp.StatusCode >= http.StatusBadRequest {
		return classifyStatus(t.name, resp.StatusCode, err.Error())
	}
	return transportError(ctx, t.name, err)
}
