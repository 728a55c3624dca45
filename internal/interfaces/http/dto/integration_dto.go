package dto

import (
	"github.com/taskstream/integration-hub/internal/domain/integration"
)

// SendEmailRequest is the body of POST /api/v1/email/send
type SendEmailRequest struct {
	Subject     string   `json:"subject" binding:"required,max=998"`
	Body        string   `json:"body" binding:"max=1048576"`
	Recipients  []string `json:"recipients" binding:"required,min=1,max=100,dive,required,email"`
	ContentType string   `json:"contentType" binding:"omitempty,oneof=text/plain text/html"`
}

// ToMessage converts the request to the adapter payload
func (r SendEmailRequest) ToMessage() integration.EmailMessage {
	recipients := make([]string, len(r.Recipients))
	copy(recipients, r.Recipients)
	return integration.EmailMessage{
		Subject:     r.Subject,
		Body:        r.Body,
		Recipients:  recipients,
		ContentType: r.ContentType,
	}
}

// PostChatRequest is the body of POST /api/v1/slack/post
type PostChatRequest struct {
	Channel string `json:"channel" binding:"max=80"`
	Text    string `json:"text" binding:"required,max=40000"`
}

// ToMessage converts the request to the adapter payload
func (r PostChatRequest) ToMessage() integration.ChatMessage {
	return integration.ChatMessage{
		Channel: r.Channel,
		Text:    r.Text,
	}
}

// CreateIssueRequest is the body of POST /api/v1/jira/create
type CreateIssueRequest struct {
	Summary     string `json:"summary" binding:"required,max=255"`
	Description string `json:"description" binding:"max=32767"`
	IssueType   string `json:"issueType" binding:"max=64"`
	Priority    string `json:"priority" binding:"max=64"`
	ProjectKey  string `json:"projectKey" binding:"omitempty,max=32,alphanum"`
}

// ToRequest converts the request to the adapter payload
func (r CreateIssueRequest) ToRequest() integration.IssueRequest {
	return integration.IssueRequest{
		Summary:     r.Summary,
		Description: r.Description,
		IssueType:   r.IssueType,
		Priority:    r.Priority,
		ProjectKey:  r.ProjectKey,
	}
}

// IntegrationList is the data of GET /api/v1/integrations
type IntegrationList struct {
	Integrations []integration.IntegrationStatus `json:"integrations"`
	Overall      integration.OverallStatus       `json:"overallStatus"`
}

// HealthReport is the body of /health and /health/secure
type HealthReport struct {
	Service       string                                    `json:"service"`
	Timestamp     string                                    `json:"timestamp"`
	Integrations  map[string]integration.IntegrationStatus `json:"integrations"`
	OverallStatus integration.OverallStatus                 `json:"overallStatus"`
}
