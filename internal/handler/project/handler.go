package project

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/projecthub/internal/document"
	"github.com/jwalitptl/projecthub/internal/handler"
	"github.com/jwalitptl/projecthub/internal/model"
	"github.com/jwalitptl/projecthub/internal/repository"
	projectService "github.com/jwalitptl/projecthub/internal/service/project"
	"github.com/jwalitptl/projecthub/pkg/httputil"
)

type Handler struct {
	service projectService.ProjectServicer
}

func NewHandler(service projectService.ProjectServicer) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	projects := r.Group("/projects")
	{
		projects.POST("", h.CreateProject)
		projects.GET("", h.ListProjects)
		projects.GET("/stats", h.GetStats)
		projects.GET("/search", h.SearchProjects)
		projects.GET("/overdue", h.ListOverdue)
		projects.GET("/stream", h.StreamProjects)
		projects.GET("/:id", h.GetProject)
		projects.PUT("/:id", h.UpdateProject)
		projects.DELETE("/:id", h.DeleteProject)
		projects.PATCH("/:id/progress", h.UpdateProgress)
		projects.PATCH("/:id/status", h.UpdateStatus)
		projects.POST("/:id/members", h.AddMember)
		projects.DELETE("/:id/members/:userId", h.RemoveMember)
	}
}

type progressRequest struct {
	Progress *int `json:"progress" binding:"required"`
}

type statusRequest struct {
	Status model.ProjectStatus `json:"status" binding:"required"`
}

type memberRequest struct {
	UserID     string           `json:"userId" binding:"required"`
	Role       model.MemberRole `json:"role"`
	Allocation int              `json:"allocation"`
}

func (h *Handler) CreateProject(c *gin.Context) {
	var req model.Project
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.BindError(c, err)
		return
	}
	p, err := h.service.Create(c.Request.Context(), &req)
	if err != nil {
		handler.Error(c, err)
		return
	}
	httputil.RespondWithCreated(c, p)
}

// ListProjects serves the cached listings when only the status or managerId
// shortcuts are given and pages through the repository otherwise.
func (h *Handler) ListProjects(c *gin.Context) {
	q, err := handler.ParseListQuery(c)
	if err != nil {
		handler.Error(c, err)
		return
	}
	status := c.Query("status")
	managerID := c.Query("managerId")

	if !q.Paginated && (status == "" || managerID == "") {
		var projects []model.Project
		ctx := c.Request.Context()
		switch {
		case status != "":
			projects, err = h.service.ListByStatus(ctx, model.ProjectStatus(status))
		case managerID != "":
			projects, err = h.service.ListByManager(ctx, managerID)
		default:
			projects, err = h.service.List(ctx)
		}
		if err != nil {
			handler.Error(c, err)
			return
		}
		httputil.RespondWithSuccess(c, projects)
		return
	}

	if status != "" {
		q.Filters = append(q.Filters, document.Where("status", document.OpEqual, status))
	}
	if managerID != "" {
		q.Filters = append(q.Filters, document.Where("managerId", document.OpEqual, managerID))
	}
	handler.Paginate(c, q, h.service.Paginate, h.service.Page)
}

func (h *Handler) GetProject(c *gin.Context) {
	p, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		handler.Error(c, err)
		return
	}
	httputil.RespondWithSuccess(c, p)
}

func (h *Handler) UpdateProject(c *gin.Context) {
	var req model.ProjectUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.BindError(c, err)
		return
	}
	p, err := h.service.Update(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		handler.Error(c, err)
		return
	}
	httputil.RespondWithSuccess(c, p)
}

func (h *Handler) DeleteProject(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		handler.Error(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) UpdateProgress(c *gin.Context) {
	var req progressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.BindError(c, err)
		return
	}
	p, err := h.service.UpdateProgress(c.Request.Context(), c.Param("id"), *req.Progress)
	if err != nil {
		handler.Error(c, err)
		return
	}
	httputil.RespondWithSuccess(c, p)
}

func (h *Handler) UpdateStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.BindError(c, err)
		return
	}
	p, err := h.service.UpdateStatus(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		handler.Error(c, err)
		return
	}
	httputil.RespondWithSuccess(c, p)
}

func (h *Handler) AddMember(c *gin.Context) {
	var req memberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.BindError(c, err)
		return
	}
	p, err := h.service.AddTeamMember(c.Request.Context(), c.Param("id"), model.TeamMember{
		UserID:     req.UserID,
		Role:       req.Role,
		Allocation: req.Allocation,
	})
	if err != nil {
		handler.Error(c, err)
		return
	}
	httputil.RespondWithCreated(c, p)
}

func (h *Handler) RemoveMember(c *gin.Context) {
	p, err := h.service.RemoveTeamMember(c.Request.Context(), c.Param("id"), c.Param("userId"))
	if err != nil {
		handler.Error(c, err)
		return
	}
	httputil.RespondWithSuccess(c, p)
}

func (h *Handler) GetStats(c *gin.Context) {
	stats, err := h.service.Stats(c.Request.Context())
	if err != nil {
		handler.Error(c, err)
		return
	}
	httputil.RespondWithSuccess(c, stats)
}

func (h *Handler) SearchProjects(c *gin.Context) {
	projects, err := h.service.Search(c.Request.Context(), c.Query("q"))
	if err != nil {
		handler.Error(c, err)
		return
	}
	httputil.RespondWithSuccess(c, projects)
}

func (h *Handler) ListOverdue(c *gin.Context) {
	projects, err := h.service.Overdue(c.Request.Context())
	if err != nil {
		handler.Error(c, err)
		return
	}
	httputil.RespondWithSuccess(c, projects)
}

// StreamProjects pushes the projects matching the where parameters every
// time the result changes.
func (h *Handler) StreamProjects(c *gin.Context) {
	q, err := handler.ParseListQuery(c)
	if err != nil {
		handler.Error(c, err)
		return
	}
	if status := c.Query("status"); status != "" {
		q.Filters = append(q.Filters, document.Where("status", document.OpEqual, status))
	}
	var opts *repository.QueryOptions
	if q.OrderBy != nil {
		opts = &repository.QueryOptions{OrderBy: q.OrderBy}
	}
	handler.Stream(c, func(ctx context.Context, onData func([]model.Project), onError func(error)) (repository.Unsubscribe, error) {
		return h.service.Subscribe(ctx, q.Filters, opts, onData, onError)
	})
}
