package user

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/projecthub/internal/handler"
	"github.com/jwalitptl/projecthub/internal/model"
	"github.com/jwalitptl/projecthub/internal/service/user"
	"github.com/jwalitptl/projecthub/pkg/httputil"
)

type Handler struct {
	service user.UserServicer
}

func NewHandler(service user.UserServicer) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	users := r.Group("/users")
	{
		users.POST("", h.CreateUser)
		users.GET("", h.ListUsers)
		users.GET("/stats", h.GetStats)
		users.GET("/:id", h.GetUser)
		users.PUT("/:id", h.UpdateUser)
		users.DELETE("/:id", h.DeleteUser)
	}
}

type createUserRequest struct {
	Name       string           `json:"name" binding:"required"`
	Email      string           `json:"email" binding:"required"`
	Role       model.UserRole   `json:"role"`
	Department string           `json:"department"`
	Position   string           `json:"position"`
	Status     model.UserStatus `json:"status"`
	Skills     []string         `json:"skills"`
	TeamIDs    []string         `json:"teamIds"`
}

func (h *Handler) CreateUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.BindError(c, err)
		return
	}

	u, err := h.service.Create(c.Request.Context(), &model.User{
		Name:       req.Name,
		Email:      req.Email,
		Role:       req.Role,
		Department: req.Department,
		Position:   req.Position,
		Status:     req.Status,
		Skills:     req.Skills,
		TeamIDs:    req.TeamIDs,
	})
	if err != nil {
		handler.Error(c, err)
		return
	}
	httputil.RespondWithCreated(c, u)
}

func (h *Handler) ListUsers(c *gin.Context) {
	var filters user.Filters
	if err := c.ShouldBindQuery(&filters); err != nil {
		handler.BindError(c, err)
		return
	}
	users, err := h.service.List(c.Request.Context(), &filters)
	if err != nil {
		handler.Error(c, err)
		return
	}
	httputil.RespondWithSuccess(c, users)
}

func (h *Handler) GetUser(c *gin.Context) {
	u, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		handler.Error(c, err)
		return
	}
	httputil.RespondWithSuccess(c, u)
}

func (h *Handler) UpdateUser(c *gin.Context) {
	var req model.UserUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.BindError(c, err)
		return
	}
	u, err := h.service.Update(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		handler.Error(c, err)
		return
	}
	httputil.RespondWithSuccess(c, u)
}

func (h *Handler) DeleteUser(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		handler.Error(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) GetStats(c *gin.Context) {
	stats, err := h.service.Stats(c.Request.Context())
	if err != nil {
		handler.Error(c, err)
		return
	}
	httputil.RespondWithSuccess(c, stats)
}
