package project

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/projecthub/internal/model"
	"github.com/jwalitptl/projecthub/internal/repository"
	"github.com/jwalitptl/projecthub/internal/repository/memory"
	projectService "github.com/jwalitptl/projecthub/internal/service/project"
	"github.com/jwalitptl/projecthub/pkg/httputil"
)

type envelope[T any] struct {
	Success bool            `json:"success"`
	Data    T               `json:"data"`
	Error   *httputil.Error `json:"error"`
}

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	repo := repository.New[model.Project](model.ProjectsCollection, memory.New(), model.ProjectCodec{}, repository.Options{})
	r := gin.New()
	NewHandler(projectService.NewService(repo, nil)).RegisterRoutes(r.Group("/api"))
	return r
}

func do(t *testing.T, r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) envelope[T] {
	t.Helper()
	var env envelope[T]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return env
}

func createProject(t *testing.T, r *gin.Engine, name string) model.Project {
	t.Helper()
	w := do(t, r, http.MethodPost, "/api/projects", gin.H{"name": name, "managerId": "m1", "tags": []string{"web"}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[model.Project](t, w).Data
}

func TestProjectLifecycle(t *testing.T) {
	r := newRouter()
	p := createProject(t, r, "Website")
	assert.Equal(t, model.ProjectPlanning, p.Status)

	w := do(t, r, http.MethodPut, "/api/projects/"+p.ID, gin.H{"description": "public site"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "public site", decode[model.Project](t, w).Data.Description)

	w = do(t, r, http.MethodPatch, "/api/projects/"+p.ID+"/progress", gin.H{"progress": 100})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.ProjectCompleted, decode[model.Project](t, w).Data.Status)

	w = do(t, r, http.MethodPatch, "/api/projects/"+p.ID+"/progress", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodPatch, "/api/projects/"+p.ID+"/status", gin.H{"status": "bogus"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodDelete, "/api/projects/"+p.ID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, r, http.MethodGet, "/api/projects/"+p.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	env := decode[any](t, w)
	assert.False(t, env.Success)
	assert.Equal(t, http.StatusNotFound, env.Error.Code)
}

func TestMembers(t *testing.T) {
	r := newRouter()
	p := createProject(t, r, "Platform")

	w := do(t, r, http.MethodPost, "/api/projects/"+p.ID+"/members", gin.H{"userId": "u1", "role": "lead"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Len(t, decode[model.Project](t, w).Data.TeamMembers, 1)

	w = do(t, r, http.MethodPost, "/api/projects/"+p.ID+"/members", gin.H{"userId": "u1"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, r, http.MethodPost, "/api/projects/"+p.ID+"/members", gin.H{"role": "lead"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodDelete, "/api/projects/"+p.ID+"/members/u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[model.Project](t, w).Data.TeamMembers)
}

func TestListSearchAndStats(t *testing.T) {
	r := newRouter()
	createProject(t, r, "Alpha")
	createProject(t, r, "Beta")

	w := do(t, r, http.MethodGet, "/api/projects", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]model.Project](t, w).Data, 2)

	w = do(t, r, http.MethodGet, "/api/projects?status=planning&managerId=m1&limit=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	page := decode[httputil.PaginatedResponse](t, w).Data
	assert.Equal(t, int64(2), page.Pagination.Total)
	assert.Equal(t, 2, page.Pagination.TotalPages)

	w = do(t, r, http.MethodGet, "/api/projects/search?q=alp", nil)
	require.Equal(t, http.StatusOK, w.Code)
	found := decode[[]model.Project](t, w).Data
	require.Len(t, found, 1)
	assert.Equal(t, "Alpha", found[0].Name)

	w = do(t, r, http.MethodGet, "/api/projects/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, decode[projectService.Stats](t, w).Data.Total)

	w = do(t, r, http.MethodGet, "/api/projects?where=name:like:x", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStreamWithoutHub(t *testing.T) {
	r := newRouter()
	w := do(t, r, http.MethodGet, "/api/projects/stream", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
