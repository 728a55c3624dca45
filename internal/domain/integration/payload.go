package integration

import (
	"fmt"
	"net/mail"
	"strings"
)

// ---------------------------------------------------------------------------
// Email
// ---------------------------------------------------------------------------

const (
	// ContentTypePlain is the default email body type
	ContentTypePlain = "text/plain"
	// ContentTypeHTML is an HTML email body
	ContentTypeHTML = "text/html"
)

// EmailMessage is the payload of the email adapter.
type EmailMessage struct {
	Subject     string   `json:"subject"`
	Body        string   `json:"body"`
	Recipients  []string `json:"recipients"`
	ContentType string   `json:"contentType"`
}

// Normalize trims recipients and fills the default content type. Recipients
// is replaced with a fresh slice; the caller's backing array is never written.
func (m *EmailMessage) Normalize() {
	if m.ContentType == "" {
		m.ContentType = ContentTypePlain
	}
	out := make([]string, len(m.Recipients))
	for i, r := range m.Recipients {
		out[i] = strings.TrimSpace(r)
	}
	m.Recipients = out
}

// Validate checks the message against allowedDomains (empty allows any domain).
func (m *EmailMessage) Validate(allowedDomains []string) error {
	if len(m.Recipients) == 0 {
		return fmt.Errorf("%w: at least one recipient is required", ErrInvalidPayload)
	}
	if strings.TrimSpace(m.Subject) == "" {
		return fmt.Errorf("%w: subject is required", ErrInvalidPayload)
	}
	switch m.ContentType {
	case ContentTypePlain, ContentTypeHTML:
	default:
		return fmt.Errorf("%w: unsupported content type %q", ErrInvalidPayload, m.ContentType)
	}
	for _, r := range m.Recipients {
		addr, err := mail.ParseAddress(r)
		if err != nil {
			return fmt.Errorf("%w: invalid recipient %q", ErrInvalidPayload, r)
		}
		if !domainAllowed(addr.Address, allowedDomains) {
			return fmt.Errorf("%w: recipient domain not allowed: %q", ErrInvalidPayload, r)
		}
	}
	return nil
}

func domainAllowed(address string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	at := strings.LastIndexByte(address, '@')
	if at < 0 {
		return false
	}
	domain := strings.ToLower(address[at+1:])
	for _, d := range allowed {
		if domain == d {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Chat
// ---------------------------------------------------------------------------

// ChatMessage is the payload of the chat adapter.
type ChatMessage struct {
	Channel string `json:"channel"`
	Text    string `json:"text"`
}

// Normalize substitutes defaultChannel for an empty channel.
func (m *ChatMessage) Normalize(defaultChannel string) {
	m.Channel = strings.TrimSpace(m.Channel)
	if m.Channel == "" {
		m.Channel = defaultChannel
	}
}

// Validate validates the chat message
func (m *ChatMessage) Validate() error {
	if m.Channel == "" {
		return fmt.Errorf("%w: channel is required", ErrInvalidPayload)
	}
	if strings.TrimSpace(m.Text) == "" {
		return fmt.Errorf("%w: text is required", ErrInvalidPayload)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Issue tracker
// ---------------------------------------------------------------------------

const (
	// DefaultIssueType is used when the request leaves issueType empty
	DefaultIssueType = "Task"
	// DefaultPriority is used when the request leaves priority empty
	DefaultPriority = "Medium"
)

// IssueRequest is the payload of the issue tracker adapter.
type IssueRequest struct {
	Summary     string `json:"summary"`
	Description string `json:"description"`
	IssueType   string `json:"issueType"`
	Priority    string `json:"priority"`
	ProjectKey  string `json:"projectKey"`
}

// Normalize fills issue type, priority and project key defaults.
func (r *IssueRequest) Normalize(defaultProject string) {
	r.Summary = strings.TrimSpace(r.Summary)
	if r.IssueType == "" {
		r.IssueType = DefaultIssueType
	}
	if r.Priority == "" {
		r.Priority = DefaultPriority
	}
	if r.ProjectKey == "" {
		r.ProjectKey = defaultProject
	}
}

// Validate validates the issue request
func (r *IssueRequest) Validate() error {
	if r.Summary == "" {
		return fmt.Errorf("%w: summary is required", ErrInvalidPayload)
	}
	if len(r.Summary) > 255 {
		return fmt.Errorf("%w: summary exceeds 255 characters", ErrInvalidPayload)
	}
	if r.ProjectKey == "" {
		return fmt.Errorf("%w: project key is required", ErrInvalidPayload)
	}
	return nil
}
