package automation

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/crm-api/internal/handler"
	"github.com/jwalitptl/crm-api/internal/service/workflow"
	"github.com/jwalitptl/crm-api/pkg/httputil"
)

type EventRequest struct {
	Event      string                 `json:"event" binding:"required,trigger"`
	CustomerID uuid.UUID              `json:"customer_id" binding:"required"`
	Context    map[string]interface{} `json:"context"`
}

type EventResponse struct {
	WorkflowsMatched int         `json:"workflows_matched"`
	MessageIDs       []uuid.UUID `json:"message_ids"`
}

// Handler lets the CRM raise events such as deal.won for automation.
type Handler struct {
	service workflow.Service
}

func NewHandler(service workflow.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/automation/events", h.HandleEvent)
}

func (h *Handler) HandleEvent(c *gin.Context) {
	ownerID, ok := handler.Owner(c)
	if !ok {
		return
	}
	var req EventRequest
	if !handler.BindJSON(c, &req) {
		return
	}

	res, err := h.service.Trigger(c.Request.Context(), ownerID, req.Event, req.CustomerID, req.Context)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, EventResponse{
		WorkflowsMatched: res.WorkflowsMatched,
		MessageIDs:       res.MessageIDs(),
	})
}
