package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/fairground/go-services/internal/auth"
	"github.com/fairground/go-services/internal/datastore/repository"
	"github.com/fairground/go-services/internal/datastore/service"
	"github.com/fairground/go-services/pkg/middleware"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	New(service.Instrument(repository.NewMemoryRepo())).Register(r.Group("/api/collections"))
	return r
}

func do(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var rd *bytes.Reader
	if body != "" {
		rd = bytes.NewReader([]byte(body))
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestCollectionCRUD(t *testing.T) {
	r := newRouter()

	w := do(r, http.MethodPost, "/api/collections/stalls", `{"name":"darts","price":2}`)
	require.Equal(t, http.StatusCreated, w.Code)
	created := decode[map[string]any](t, w)
	id, _ := created["id"].(string)
	require.NotEmpty(t, id)
	assert.Contains(t, created, "createdAt")

	w = do(r, http.MethodGet, "/api/collections/stalls/"+id, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "darts", decode[map[string]any](t, w)["name"])

	w = do(r, http.MethodPatch, "/api/collections/stalls/"+id, `{"price":3}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 3.0, decode[map[string]any](t, w)["price"])

	w = do(r, http.MethodDelete, "/api/collections/stalls/"+id, "")
	require.Equal(t, http.StatusNoContent, w.Code)

	for _, m := range []string{http.MethodGet, http.MethodPatch, http.MethodDelete} {
		w = do(r, m, "/api/collections/stalls/"+id, `{"price":4}`)
		assert.Equal(t, http.StatusNotFound, w.Code, m)
	}
}

func TestListWithFilter(t *testing.T) {
	r := newRouter()
	do(r, http.MethodPost, "/api/collections/members", `{"familyId":"f1","age":9}`)
	do(r, http.MethodPost, "/api/collections/members", `{"familyId":"f1","age":41}`)
	do(r, http.MethodPost, "/api/collections/members", `{"familyId":"f2","age":9}`)

	w := do(r, http.MethodGet, "/api/collections/members", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]map[string]any](t, w), 3)

	// integers in the filter must still equal stored integers
	q := url.QueryEscape(`{"familyId":"f1","age":9}`)
	w = do(r, http.MethodGet, "/api/collections/members?filter="+q, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]map[string]any](t, w), 1)

	w = do(r, http.MethodGet, "/api/collections/members?filter="+url.QueryEscape(`{"age":{"$gt":1}}`), "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[[]map[string]any](t, w))

	w = do(r, http.MethodGet, "/api/collections/members?filter=%7Bbroken", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodGet, "/api/collections/empty", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestDeleteMany(t *testing.T) {
	r := newRouter()
	do(r, http.MethodPost, "/api/collections/members", `{"familyId":"f1"}`)
	do(r, http.MethodPost, "/api/collections/members", `{"familyId":"f1"}`)

	w := do(r, http.MethodPost, "/api/collections/members/delete", `{"familyId":"f1"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"deleted":2}`, w.Body.String())

	w = do(r, http.MethodPost, "/api/collections/members/delete", `{"familyId":"f1"}`)
	assert.JSONEq(t, `{"deleted":0}`, w.Body.String())

	w = do(r, http.MethodPost, "/api/collections/members/delete", `[1]`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeleteMany_EmptyFilterNeedsAdmin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := service.Instrument(repository.NewMemoryRepo())
	withRole := func(role string) *gin.Engine {
		r := gin.New()
		r.Use(func(c *gin.Context) {
			c.Set(middleware.ClaimsKey, map[string]interface{}{"sub": "u1", "role": role})
			c.Next()
		})
		New(store).Register(r.Group("/api/collections"))
		return r
	}
	parent, admin := withRole("parent"), withRole(auth.RoleAdmin)
	do(admin, http.MethodPost, "/api/collections/members", `{"familyId":"f1"}`)
	do(admin, http.MethodPost, "/api/collections/members", `{"familyId":"f2"}`)

	for _, r := range []*gin.Engine{newRouter(), parent} {
		w := do(r, http.MethodPost, "/api/collections/members/delete", `{}`)
		assert.Equal(t, http.StatusForbidden, w.Code)
	}
	assert.Len(t, decode[[]map[string]any](t, do(admin, http.MethodGet, "/api/collections/members", "")), 2)

	w := do(parent, http.MethodPost, "/api/collections/members/delete", `{"familyId":"f1"}`)
	assert.JSONEq(t, `{"deleted":1}`, w.Body.String())
	w = do(admin, http.MethodPost, "/api/collections/members/delete", `{}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"deleted":1}`, w.Body.String())
}

func TestAggregate(t *testing.T) {
	r := newRouter()
	for _, body := range []string{
		`{"userId":"a","points":3}`,
		`{"userId":"a","points":4}`,
		`{"userId":"b","points":5}`,
		`{"userId":"c","points":1}`,
	} {
		do(r, http.MethodPost, "/api/collections/transactions", body)
	}

	pipeline := `[
		{"match":{"points":{"$exists":true}}},
		{"group":{"by":"userId","sums":{"total":"points"}}},
		{"sort":[{"field":"total","direction":-1}]},
		{"limit":2}
	]`
	w := do(r, http.MethodPost, "/api/collections/transactions/aggregate", pipeline)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[{"_id":"a","total":7},{"_id":"b","total":5}]`, w.Body.String())

	w = do(r, http.MethodPost, "/api/collections/transactions/aggregate", `[{"unwind":"x"}]`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestParsePipeline_Limits(t *testing.T) {
	p, err := parsePipeline(bytes.NewReader([]byte(`[{"limit":0},{"sort":[]}]`)))
	require.NoError(t, err)
	require.Len(t, p, 2)
	assert.Equal(t, 0, p[0].Limit)
}
