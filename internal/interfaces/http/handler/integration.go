package handler

import (
	"github.com/gin-gonic/gin"

	appintegration "github.com/taskstream/integration-hub/internal/application/integration"
	"github.com/taskstream/integration-hub/internal/domain/integration"
	"github.com/taskstream/integration-hub/internal/interfaces/http/dto"
)

// IntegrationNames are the hub registry names each route dispatches to.
type IntegrationNames struct {
	Email   string
	Chat    string
	Tracker string
}

// IntegrationHandler exposes the adapters registered in the hub.
type IntegrationHandler struct {
	BaseHandler
	hub   *appintegration.Hub
	names IntegrationNames
}

// NewIntegrationHandler creates a new IntegrationHandler
func NewIntegrationHandler(hub *appintegration.Hub, names IntegrationNames) *IntegrationHandler {
	return &IntegrationHandler{hub: hub, names: names}
}

// SendEmail godoc
// @Summary      Send an email
// @Tags         email
// @Accept       json
// @Produce      json
// @Param        request body dto.SendEmailRequest true "Email"
// @Success      200 {object} dto.Response{data=integration.Receipt}
// @Failure      400 {object} dto.Response
// @Failure      503 {object} dto.Response
// @Router       /email/send [post]
func (h *IntegrationHandler) SendEmail(c *gin.Context) {
	var req dto.SendEmailRequest
	if !h.BindJSON(c, &req) {
		return
	}

	receipt, err := appintegration.Dispatch(c.Request.Context(), h.hub, h.names.Email, req.ToMessage())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, receipt)
}

// PostChat godoc
// @Summary      Post a chat message
// @Tags         chat
// @Accept       json
// @Produce      json
// @Param        request body dto.PostChatRequest true "Message"
// @Success      200 {object} dto.Response{data=integration.Receipt}
// @Router       /slack/post [post]
func (h *IntegrationHandler) PostChat(c *gin.Context) {
	var req dto.PostChatRequest
	if !h.BindJSON(c, &req) {
		return
	}

	receipt, err := appintegration.Dispatch(c.Request.Context(), h.hub, h.names.Chat, req.ToMessage())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, receipt)
}

// CreateIssue godoc
// @Summary      Create an issue
// @Tags         tracker
// @Accept       json
// @Produce      json
// @Param        request body dto.CreateIssueRequest true "Issue"
// @Success      201 {object} dto.Response{data=integration.Receipt}
// @Router       /jira/create [post]
func (h *IntegrationHandler) CreateIssue(c *gin.Context) {
	var req dto.CreateIssueRequest
	if !h.BindJSON(c, &req) {
		return
	}

	receipt, err := appintegration.Dispatch(c.Request.Context(), h.hub, h.names.Tracker, req.ToRequest())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, receipt)
}

// ListIntegrations returns the status of every registered integration,
// ordered by name.
func (h *IntegrationHandler) ListIntegrations(c *gin.Context) {
	statuses, overall := h.hub.Overall(c.Request.Context())

	list := make([]integration.IntegrationStatus, 0, len(statuses))
	for _, name := range h.hub.Names() {
		if st, ok := statuses[name]; ok {
			list = append(list, st)
		}
	}
	h.Success(c, dto.IntegrationList{Integrations: list, Overall: overall})
}
