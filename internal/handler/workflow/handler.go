package workflow

import (
	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/crm-api/internal/handler"
	"github.com/jwalitptl/crm-api/internal/model"
	"github.com/jwalitptl/crm-api/internal/service/workflow"
	"github.com/jwalitptl/crm-api/pkg/httputil"
)

type Handler struct {
	service workflow.Service
}

func NewHandler(service workflow.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	workflows := r.Group("/workflows")
	{
		workflows.POST("", h.CreateWorkflow)
		workflows.GET("", h.ListWorkflows)
		workflows.GET("/:id", h.GetWorkflow)
		workflows.PATCH("/:id", h.UpdateWorkflow)
	}
}

func (h *Handler) CreateWorkflow(c *gin.Context) {
	ownerID, ok := handler.Owner(c)
	if !ok {
		return
	}
	var req workflow.CreateRequest
	if !handler.BindJSON(c, &req) {
		return
	}
	w, err := h.service.Create(c.Request.Context(), ownerID, req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithCreated(c, w)
}

func (h *Handler) ListWorkflows(c *gin.Context) {
	ownerID, ok := handler.Owner(c)
	if !ok {
		return
	}
	ws, err := h.service.List(c.Request.Context(), ownerID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, ws)
}

func (h *Handler) GetWorkflow(c *gin.Context) {
	ownerID, ok := handler.Owner(c)
	if !ok {
		return
	}
	id, ok := handler.ParseID(c, "id")
	if !ok {
		return
	}
	w, err := h.service.Get(c.Request.Context(), ownerID, id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, w)
}

func (h *Handler) UpdateWorkflow(c *gin.Context) {
	ownerID, ok := handler.Owner(c)
	if !ok {
		return
	}
	id, ok := handler.ParseID(c, "id")
	if !ok {
		return
	}
	var patch model.WorkflowPatch
	if !handler.BindJSON(c, &patch) {
		return
	}
	w, err := h.service.Update(c.Request.Context(), ownerID, id, patch)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, w)
}
