package outbound

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/crm-api/internal/handler"
	"github.com/jwalitptl/crm-api/internal/model"
	"github.com/jwalitptl/crm-api/internal/service/outbound"
	"github.com/jwalitptl/crm-api/pkg/httputil"
)

type CreateMessageRequest struct {
	CustomerID      uuid.UUID              `json:"customer_id" binding:"required"`
	Channel         string                 `json:"channel" binding:"omitempty,channel"`
	TemplateID      *uuid.UUID             `json:"template_id"`
	Body            string                 `json:"body" binding:"max=4000"`
	Variables       map[string]interface{} `json:"variables"`
	DelayMinutes    int                    `json:"delay_minutes" binding:"min=0"`
	NotBeforeAt     *time.Time             `json:"not_before_at"`
	CancelOnInbound bool                   `json:"cancel_on_inbound"`
}

type Handler struct {
	service outbound.Service
}

func NewHandler(service outbound.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	messages := r.Group("/outbound-messages")
	{
		messages.POST("", h.CreateMessage)
		messages.GET("", h.ListMessages)
		messages.GET("/:id", h.GetMessage)
		messages.POST("/:id/cancel", h.CancelMessage)
	}
}

func (h *Handler) CreateMessage(c *gin.Context) {
	ownerID, ok := handler.Owner(c)
	if !ok {
		return
	}
	var req CreateMessageRequest
	if !handler.BindJSON(c, &req) {
		return
	}

	msg, err := h.service.Create(c.Request.Context(), ownerID, model.EnqueueRequest{
		CustomerID:      req.CustomerID,
		Channel:         model.Channel(req.Channel),
		TemplateID:      req.TemplateID,
		Body:            req.Body,
		Variables:       req.Variables,
		DelayMinutes:    req.DelayMinutes,
		NotBeforeAt:     req.NotBeforeAt,
		CancelOnInbound: req.CancelOnInbound,
	})
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithCreated(c, msg)
}

func (h *Handler) ListMessages(c *gin.Context) {
	ownerID, ok := handler.Owner(c)
	if !ok {
		return
	}
	msgs, err := h.service.List(c.Request.Context(), ownerID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, msgs)
}

func (h *Handler) GetMessage(c *gin.Context) {
	ownerID, ok := handler.Owner(c)
	if !ok {
		return
	}
	id, ok := handler.ParseID(c, "id")
	if !ok {
		return
	}
	msg, err := h.service.Get(c.Request.Context(), ownerID, id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, msg)
}

func (h *Handler) CancelMessage(c *gin.Context) {
	ownerID, ok := handler.Owner(c)
	if !ok {
		return
	}
	id, ok := handler.ParseID(c, "id")
	if !ok {
		return
	}
	msg, err := h.service.Cancel(c.Request.Context(), ownerID, id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, msg)
}
