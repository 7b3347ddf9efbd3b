package families

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fairground/go-services/internal/datastore"
	"github.com/fairground/go-services/internal/datastore/repository"
	"github.com/fairground/go-services/internal/datastore/service"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService() (*Service, service.Store) {
	store := service.Instrument(repository.NewMemoryRepo())
	return NewService(store), store
}

func TestAddMemberAndList(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService()

	f, err := svc.CreateFamily(ctx, " Smith ")
	require.NoError(t, err)
	assert.Equal(t, "Smith", f.Name)
	assert.False(t, f.CreatedAt.IsZero())

	_, err = svc.AddMember(ctx, f.ID, "Ann", "parent")
	require.NoError(t, err)
	_, err = svc.AddMember(ctx, f.ID, "Bob", "child")
	require.NoError(t, err)

	members, err := svc.Members(ctx, f.ID)
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, []string{"Ann", "Bob"}, []string{members[0].Name, members[1].Name})
	assert.Equal(t, f.ID, members[0].FamilyID)

	_, err = svc.AddMember(ctx, "missing", "Eve", "child")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = svc.AddMember(ctx, f.ID, "  ", "child")
	assert.ErrorIs(t, err, ErrInvalidName)
	_, err = svc.CreateFamily(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestDeleteFamilyCascades(t *testing.T) {
	ctx := context.Background()
	svc, store := newService()

	smith, _ := svc.CreateFamily(ctx, "Smith")
	jones, _ := svc.CreateFamily(ctx, "Jones")
	for _, n := range []string{"Ann", "Bob", "Cat"} {
		_, err := svc.AddMember(ctx, smith.ID, n, "child")
		require.NoError(t, err)
	}
	_, err := svc.AddMember(ctx, jones.ID, "Dan", "parent")
	require.NoError(t, err)

	n, err := svc.DeleteFamily(ctx, smith.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	assert.Empty(t, store.Find(ctx, "members", datastore.Filter{"familyId": smith.ID}))
	assert.Len(t, store.Find(ctx, "members", nil), 1)
	_, err = svc.Family(ctx, smith.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.DeleteFamily(ctx, smith.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc, _ := newService()
	r := gin.New()
	RegisterRoutes(r.Group("/api/families"), svc)

	send := func(method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	w := send(http.MethodPost, "/api/families", `{"name":"Smith"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	var f Family
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &f))

	w = send(http.MethodPost, "/api/families/"+f.ID+"/members", `{"name":"Ann","role":"parent"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	w = send(http.MethodGet, "/api/families/"+f.ID+"/members", "")
	require.Equal(t, http.StatusOK, w.Code)
	var members []Member
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &members))
	require.Len(t, members, 1)

	w = send(http.MethodDelete, "/api/families/"+f.ID, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"membersRemoved":1}`, w.Body.String())

	assert.Equal(t, http.StatusNotFound, send(http.MethodGet, "/api/families/"+f.ID+"/members", "").Code)
	assert.Equal(t, http.StatusBadRequest, send(http.MethodPost, "/api/families", `{"name":""}`).Code)
}
