package user

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
	"github.com/jwalitptl/projecthub/internal/service/user"
)

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	repo := repository.New[model.User](model.UsersCollection, memory.New(), model.UserCodec{}, repository.Options{})
	r := gin.New()
	NewHandler(user.NewService(repo, nil)).RegisterRoutes(r.Group("/api"))
	return r
}

func do(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func data[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var env struct {
		Data T `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return env.Data
}

func TestUserEndpoints(t *testing.T) {
	r := newRouter()

	w := do(r, http.MethodPost, "/api/users", `{"name":"Ada","email":"Ada@example.com","role":"developer","department":"eng"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	ada := data[model.User](t, w)
	assert.Equal(t, "ada@example.com", ada.Email)

	w = do(r, http.MethodPost, "/api/users", `{"name":"Copy","email":"ada@example.com"}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(r, http.MethodPost, "/api/users", `{"name":"No email"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPost, "/api/users", `{"name":"Grace","email":"grace@example.com","department":"ops"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	w = do(r, http.MethodGet, "/api/users?department=eng", "")
	require.Equal(t, http.StatusOK, w.Code)
	eng := data[[]model.User](t, w)
	require.Len(t, eng, 1)
	assert.Equal(t, ada.ID, eng[0].ID)

	w = do(r, http.MethodPut, "/api/users/"+ada.ID, `{"position":"staff engineer"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "staff engineer", data[model.User](t, w).Position)

	w = do(r, http.MethodGet, "/api/users/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	stats := data[user.Stats](t, w)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.ByRole["viewer"])

	w = do(r, http.MethodDelete, "/api/users/"+ada.ID, "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(r, http.MethodGet, "/api/users/"+ada.ID, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
