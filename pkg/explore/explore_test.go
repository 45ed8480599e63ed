package explore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/rfiscope/pkg/config"
	"github.com/nicktill/rfiscope/pkg/planner"
	"github.com/nicktill/rfiscope/pkg/storage/memory"
	"github.com/nicktill/rfiscope/pkg/storage/storagetest"
	"github.com/nicktill/rfiscope/pkg/viewport"
)

func newRouter(t *testing.T) (*mux.Router, *Registry) {
	t.Helper()
	store := memory.New()
	_, err := store.Write(context.Background(), storagetest.Scan("S1", "Rcvr1_2", 0, 5000))
	require.NoError(t, err)

	registry := NewRegistry(time.Minute, 4)
	h := NewHandler(store, config.DefaultPolicy(), registry)

	router := mux.NewRouter()
	router.HandleFunc("/v1/explore", h.HandleCreate).Methods("POST")
	router.HandleFunc("/v1/explore/{id}/viewport", h.HandleViewport).Methods("POST")
	router.HandleFunc("/v1/explore/{id}/ws", h.HandleWebSocket).Methods("GET")
	router.HandleFunc("/v1/explore/{id}", h.HandleDelete).Methods("DELETE")
	return router, registry
}

func doJSON(t *testing.T, router http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func create(t *testing.T, router http.Handler) CreateResponse {
	t.Helper()
	rr := doJSON(t, router, http.MethodPost, "/v1/explore", CreateRequest{
		Form: planner.Form{Receivers: []string{"Rcvr1_2"}, Date: "2024-03-01"},
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var resp CreateResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp
}

func TestCreate(t *testing.T) {
	router, registry := newRouter(t)

	resp := create(t, router)
	require.NotEmpty(t, resp.ID)
	require.Equal(t, 1, registry.Len())
	require.Equal(t, 5000, resp.Extent.Total)
	require.Equal(t, 1000.0, resp.Extent.XMin)
	require.Equal(t, 5999.0, resp.Extent.XMax)
	require.Equal(t, viewport.ExactTier, resp.Result.Tier)
	require.Len(t, resp.Result.Points, 5000)
	require.Equal(t, config.DefaultPixelWidth, resp.Result.Viewport.PixelWidth)
}

func TestCreate_Errors(t *testing.T) {
	router, _ := newRouter(t)

	tests := []struct {
		name   string
		req    CreateRequest
		status int
		field  string
	}{
		{"no receivers", CreateRequest{}, http.StatusBadRequest, "receivers"},
		{"bad date", CreateRequest{Form: planner.Form{Receivers: []string{"Rcvr1_2"}, Date: "first of march"}}, http.StatusBadRequest, "date"},
		{"bad width", CreateRequest{Form: planner.Form{Receivers: []string{"Rcvr1_2"}}, PixelWidth: -5}, http.StatusBadRequest, "pixel_width"},
		{"no data", CreateRequest{Form: planner.Form{Receivers: []string{"Rcvr1_2"}, Date: "2023-01-01"}}, http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := doJSON(t, router, http.MethodPost, "/v1/explore", tt.req)
			require.Equal(t, tt.status, rr.Code, rr.Body.String())

			var body map[string]string
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
			require.Equal(t, tt.field, body["field"])
		})
	}
}

func TestViewport_Sequence(t *testing.T) {
	router, _ := newRouter(t)
	id := create(t, router).ID
	path := "/v1/explore/" + id + "/viewport"

	vp := viewport.Viewport{XMin: 2000, XMax: 2100, PixelWidth: 500}
	rr := doJSON(t, router, http.MethodPost, path, ViewportRequest{Seq: 2, Viewport: vp})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp ViewportResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, uint64(2), resp.Seq)
	require.Len(t, resp.Points, 101)
	require.True(t, resp.Exact)

	// Older sequence numbers lose
	rr = doJSON(t, router, http.MethodPost, path, ViewportRequest{Seq: 1, Viewport: vp})
	require.Equal(t, http.StatusConflict, rr.Code)

	// Zero is unordered
	rr = doJSON(t, router, http.MethodPost, path, ViewportRequest{Viewport: vp})
	require.Equal(t, http.StatusOK, rr.Code)

	rr = doJSON(t, router, http.MethodPost, path, ViewportRequest{Seq: 3, Viewport: viewport.Viewport{XMin: 10, XMax: 5}})
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestViewport_UnknownAndDeleted(t *testing.T) {
	router, registry := newRouter(t)
	id := create(t, router).ID

	rr := doJSON(t, router, http.MethodPost, "/v1/explore/not-a-uuid/viewport", ViewportRequest{})
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = doJSON(t, router, http.MethodDelete, "/v1/explore/"+id, nil)
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Zero(t, registry.Len())

	rr = doJSON(t, router, http.MethodPost, "/v1/explore/"+id+"/viewport", ViewportRequest{})
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = doJSON(t, router, http.MethodDelete, "/v1/explore/"+id, nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRegistry_SweepAndCapacity(t *testing.T) {
	registry := NewRegistry(time.Minute, 2)
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	registry.now = func() time.Time { return now }

	a, err := registry.Create(&planner.Plan{}, nil, nil)
	require.NoError(t, err)
	_, err = registry.Create(&planner.Plan{}, nil, nil)
	require.NoError(t, err)

	_, err = registry.Create(&planner.Plan{}, nil, nil)
	require.True(t, errors.Is(err, ErrTooManyExplorations))

	now = now.Add(45 * time.Second)
	_, err = registry.Get(a.ID)
	require.NoError(t, err)

	now = now.Add(30 * time.Second)
	require.Equal(t, 1, registry.Sweep())
	require.Equal(t, 1, registry.Len())

	_, err = registry.Get(a.ID)
	require.NoError(t, err, "recently used exploration survives")
}

func TestWebSocket(t *testing.T) {
	router, _ := newRouter(t)
	id := create(t, router).ID

	srv := httptest.NewServer(router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/explore/" + id + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	vp := viewport.Viewport{XMin: 1000, XMax: 1049, PixelWidth: 200}
	require.NoError(t, conn.WriteJSON(ViewportRequest{Seq: 1, Viewport: vp}))

	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, MessageResult, msg.Type)
	require.Equal(t, uint64(1), msg.Seq)
	require.Len(t, msg.Result.Points, 50)

	require.NoError(t, conn.WriteJSON(ViewportRequest{Seq: 1, Viewport: vp}))
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, MessageStale, msg.Type)

	require.NoError(t, conn.WriteJSON(ViewportRequest{Seq: 2, Viewport: viewport.Viewport{XMin: 1, XMax: 2, PixelWidth: -1}}))
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, MessageError, msg.Type)
}

func TestWebSocket_UnknownExploration(t *testing.T) {
	router, _ := newRouter(t)
	srv := httptest.NewServer(router)
	defer srv.Close()

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/v1/explore/"+"00000000-0000-0000-0000-000000000000/ws", nil)
	require.Error(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}
