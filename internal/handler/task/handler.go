package task

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/projecthub/internal/document"
	"github.com/jwalitptl/projecthub/internal/handler"
	"github.com/jwalitptl/projecthub/internal/model"
	"github.com/jwalitptl/projecthub/internal/repository"
	taskService "github.com/jwalitptl/projecthub/internal/service/task"
	"github.com/jwalitptl/projecthub/pkg/httputil"
)

type Handler struct {
	service taskService.TaskServicer
}

func NewHandler(service taskService.TaskServicer) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	tasks := r.Group("/tasks")
	{
		tasks.POST("", h.CreateTask)
		tasks.GET("", h.ListTasks)
		tasks.GET("/stats", h.GetStats)
		tasks.GET("/overdue", h.ListOverdue)
		tasks.GET("/due-today", h.ListDueToday)
		tasks.GET("/stream", h.StreamTasks)
		tasks.GET("/:id", h.GetTask)
		tasks.GET("/:id/stream", h.StreamTask)
		tasks.PUT("/:id", h.UpdateTask)
		tasks.DELETE("/:id", h.DeleteTask)
		tasks.PATCH("/:id/status", h.UpdateStatus)
		tasks.PATCH("/:id/assign", h.Assign)
		tasks.PATCH("/:id/move", h.Move)
		tasks.POST("/:id/checklist", h.AddChecklistItem)
		tasks.PATCH("/:id/checklist/:itemId", h.ToggleChecklistItem)
	}
	r.GET("/projects/:id/board", h.GetBoard)
}

type statusRequest struct {
	Status model.TaskStatus `json:"status" binding:"required"`
}

type assignRequest struct {
	AssigneeID string `json:"assigneeId"`
}

type checklistRequest struct {
	Text string `json:"text" binding:"required"`
}

// moveRequest places a task at Index within the Status column. Indexes past
// either end are clamped.
type moveRequest struct {
	Status model.TaskStatus `json:"status" binding:"required"`
	Index  int              `json:"index"`
}

func (h *Handler) CreateTask(c *gin.Context) {
	var req model.Task
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.BindError(c, err)
		return
	}
	t, err := h.service.Create(c.Request.Context(), &req)
	if err != nil {
		handler.Error(c, err)
		return
	}
	httputil.RespondWithCreated(c, t)
}

// shortcuts turns the projectId, assigneeId and status parameters into
// filters, returning them in that order of precedence.
func shortcuts(c *gin.Context) []document.Filter {
	var filters []document.Filter
	for _, name := range []string{"projectId", "assigneeId", "status"} {
		if v := c.Query(name); v != "" {
			filters = append(filters, document.Where(name, document.OpEqual, v))
		}
	}
	return filters
}

func (h *Handler) ListTasks(c *gin.Context) {
	q, err := handler.ParseListQuery(c)
	if err != nil {
		handler.Error(c, err)
		return
	}
	extra := shortcuts(c)

	if !q.Paginated && len(extra) <= 1 {
		var tasks []model.Task
		ctx := c.Request.Context()
		switch {
		case c.Query("projectId") != "":
			tasks, err = h.service.ListByProject(ctx, c.Query("projectId"))
		case c.Query("assigneeId") != "":
			tasks, err = h.service.ListByAssignee(ctx, c.Query("assigneeId"))
		case c.Query("status") != "":
			tasks, err = h.service.ListByStatus(ctx, model.TaskStatus(c.Query("status")))
		default:
			tasks, err = h.service.List(ctx)
		}
		if err != nil {
			handler.Error(c, err)
			return
		}
		httputil.RespondWithSuccess(c, tasks)
		return
	}

	q.Filters = append(q.Filters, extra...)
	handler.Paginate(c, q, h.service.Paginate, h.service.Page)
}

func (h *Handler) GetTask(c *gin.Context) {
	t, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		handler.Error(c, err)
		return
	}
	httputil.RespondWithSuccess(c, t)
}

func (h *Handler) UpdateTask(c *gin.Context) {
	var req model.TaskUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.BindError(c, err)
		return
	}
	t, err := h.service.Update(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		handler.Error(c, err)
		return
	}
	httputil.RespondWithSuccess(c, t)
}

func (h *Handler) DeleteTask(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		handler.Error(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) UpdateStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.BindError(c, err)
		return
	}
	t, err := h.service.UpdateStatus(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		handler.Error(c, err)
		return
	}
	httputil.RespondWithSuccess(c, t)
}

// Assign sets the assignee; an empty assigneeId unassigns the task.
func (h *Handler) Assign(c *gin.Context) {
	var req assignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.BindError(c, err)
		return
	}
	t, err := h.service.Assign(c.Request.Context(), c.Param("id"), req.AssigneeID)
	if err != nil {
		handler.Error(c, err)
		return
	}
	httputil.RespondWithSuccess(c, t)
}

func (h *Handler) Move(c *gin.Context) {
	var req moveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.BindError(c, err)
		return
	}
	t, err := h.service.Move(c.Request.Context(), c.Param("id"), req.Status, req.Index)
	if err != nil {
		handler.Error(c, err)
		return
	}
	httputil.RespondWithSuccess(c, t)
}

func (h *Handler) AddChecklistItem(c *gin.Context) {
	var req checklistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.BindError(c, err)
		return
	}
	t, err := h.service.AddChecklistItem(c.Request.Context(), c.Param("id"), req.Text)
	if err != nil {
		handler.Error(c, err)
		return
	}
	httputil.RespondWithCreated(c, t)
}

func (h *Handler) ToggleChecklistItem(c *gin.Context) {
	t, err := h.service.ToggleChecklistItem(c.Request.Context(), c.Param("id"), c.Param("itemId"))
	if err != nil {
		handler.Error(c, err)
		return
	}
	httputil.RespondWithSuccess(c, t)
}

func (h *Handler) GetStats(c *gin.Context) {
	stats, err := h.service.Stats(c.Request.Context())
	if err != nil {
		handler.Error(c, err)
		return
	}
	httputil.RespondWithSuccess(c, stats)
}

func (h *Handler) ListOverdue(c *gin.Context) {
	tasks, err := h.service.Overdue(c.Request.Context())
	if err != nil {
		handler.Error(c, err)
		return
	}
	httputil.RespondWithSuccess(c, tasks)
}

func (h *Handler) ListDueToday(c *gin.Context) {
	tasks, err := h.service.DueToday(c.Request.Context())
	if err != nil {
		handler.Error(c, err)
		return
	}
	httputil.RespondWithSuccess(c, tasks)
}

func (h *Handler) GetBoard(c *gin.Context) {
	board, err := h.service.Board(c.Request.Context(), c.Param("id"))
	if err != nil {
		handler.Error(c, err)
		return
	}
	httputil.RespondWithSuccess(c, board)
}

func (h *Handler) StreamTasks(c *gin.Context) {
	q, err := handler.ParseListQuery(c)
	if err != nil {
		handler.Error(c, err)
		return
	}
	filters := append(q.Filters, shortcuts(c)...)
	var opts *repository.QueryOptions
	if q.OrderBy != nil {
		opts = &repository.QueryOptions{OrderBy: q.OrderBy}
	}
	handler.Stream(c, func(ctx context.Context, onData func([]model.Task), onError func(error)) (repository.Unsubscribe, error) {
		return h.service.Subscribe(ctx, filters, opts, onData, onError)
	})
}

// StreamTask pushes the task on every change and null once it is deleted.
func (h *Handler) StreamTask(c *gin.Context) {
	id := c.Param("id")
	handler.Stream(c, func(ctx context.Context, onData func(*model.Task), onError func(error)) (repository.Unsubscribe, error) {
		return h.service.SubscribeOne(ctx, id, onData, onError)
	})
}
