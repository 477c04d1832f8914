package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Itish41/IAOMS/middleware"
	"github.com/Itish41/IAOMS/models"
	"github.com/Itish41/IAOMS/realtime"
	"github.com/Itish41/IAOMS/repository"
	services "github.com/Itish41/IAOMS/service"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

var (
	asha      = models.User{ID: "u-asha", Name: "Asha Rao", Role: "hod", Department: "CSE"}
	principal = models.User{ID: "u-principal", Name: "Rajan Pillai", Role: "principal"}
	faculty   = models.User{ID: "u-faculty", Name: "Kiran Das", Role: "faculty", Department: "CSE"}
	guest     = models.User{ID: "u-guest", Name: "Nila Menon", Role: "faculty", Department: "Physics"}
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	router *gin.Engine
	engine *services.EscalationEngine
	hub    *realtime.Hub
}

// asTestUser authenticates requests by the X-Test-User header.
func asTestUser(users ...models.User) gin.HandlerFunc {
	byID := make(map[string]models.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}
	return func(c *gin.Context) {
		if u, ok := byID[c.GetHeader("X-Test-User")]; ok {
			c.Set(middleware.ContextUserKey, u)
			c.Set(middleware.ContextUserIDKey, u.ID)
		}
		c.Next()
	}
}

func newTestServer(t *testing.T) *testServer {
	log := zap.NewNop()
	users := repository.NewMemoryUserRepository(asha, principal, faculty, guest)
	store := repository.NewMemoryDocumentRepository()
	dir := services.NewStoreDirectory(users)
	audit := repository.NewMemoryEventRepository()
	bus := services.NewEventBus(log)
	bus.Subscribe("audit", services.AuditLog(audit))
	dispatcher := services.NewDispatcher(dir, repository.NewMemoryPreferenceRepository(), nil, log)
	processor := services.NewProcessor([]string{"principal", "dean"}, nil)

	engine := services.NewEscalationEngine(store, nil, dispatcher, dir, bus, services.EscalationConfig{DefaultTimeout: time.Hour}, log)
	engine.Start()
	t.Cleanup(engine.Shutdown)

	svc := services.NewDocumentService(services.DocumentServiceDeps{
		Store:                    store,
		Processor:                processor,
		Engine:                   engine,
		Notifier:                 dispatcher,
		Directory:                dir,
		Events:                   bus,
		Audit:                    audit,
		DefaultEscalationTimeout: time.Hour,
		Log:                      log,
	})
	t.Cleanup(svc.Wait)

	hub := realtime.NewHub(log)
	directory := NewDirectoryController(services.NewProfiles(users, nil), log)
	router := gin.New()
	api := router.Group("/", asTestUser(asha, principal, faculty, guest), directory.SyncProfile())
	RegisterRoutes(api, Handlers{
		Directory:     directory,
		Documents:     NewDocumentController(svc, log),
		Escalations:   NewEscalationController(engine, processor),
		Notifications: NewNotificationController(dispatcher),
		Events:        NewEventsController(hub),
	}, nil)
	return &testServer{router: router, engine: engine, hub: hub}
}

func (s *testServer) do(method, path string, user models.User, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if user.ID != "" {
		req.Header.Set("X-Test-User", user.ID)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) submit(t *testing.T, body map[string]interface{}) string {
	w := s.do(http.MethodPost, "/documents", faculty, body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp struct {
		Document models.Document `json:"document"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Document.ID
}

func TestDocumentController_SubmitAndGet(t *testing.T) {
	s := newTestServer(t)
	id := s.submit(t, map[string]interface{}{
		"title":         "Lab equipment purchase",
		"recipient_ids": []string{asha.ID},
	})

	w := s.do(http.MethodGet, "/documents/"+id, asha, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"title":"Lab equipment purchase"`)

	w = s.do(http.MethodGet, "/documents/"+id, guest, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), services.ReasonNotRecipient)

	w = s.do(http.MethodGet, "/documents/missing", faculty, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(http.MethodGet, "/documents/"+id, models.User{}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodPost, "/documents", faculty, map[string]interface{}{"recipient_ids": []string{asha.ID}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodGet, "/documents", faculty, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total":1`)
}

func TestDocumentController_Decisions(t *testing.T) {
	s := newTestServer(t)
	id := s.submit(t, map[string]interface{}{
		"title":         "Conference travel",
		"recipient_ids": []string{asha.ID},
	})

	w := s.do(http.MethodGet, "/approvals", asha, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), id)

	w = s.do(http.MethodPost, "/documents/"+id+"/reject", asha, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, "/documents/"+id+"/approve", asha, map[string]string{"comments": "ok"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"status":"approved"`)

	w = s.do(http.MethodPost, "/documents/"+id+"/approve", asha, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(http.MethodPost, "/documents/"+id+"/bypass", asha, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodGet, "/documents/"+id+"/history", faculty, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), string(models.EventDocumentApproved))
}

func TestDocumentController_RecipientsAndDelete(t *testing.T) {
	s := newTestServer(t)
	id := s.submit(t, map[string]interface{}{
		"title":         "Timetable change",
		"recipient_ids": []string{asha.ID},
	})

	w := s.do(http.MethodPut, "/documents/"+id+"/recipients", faculty, map[string]interface{}{
		"recipient_ids": []string{principal.ID},
	})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), principal.ID)

	w = s.do(http.MethodDelete, "/documents/"+id, guest, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodDelete, "/documents/"+id, faculty, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = s.do(http.MethodGet, "/documents/"+id, faculty, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDocumentController_OptionalFeatures(t *testing.T) {
	s := newTestServer(t)
	id := s.submit(t, map[string]interface{}{"title": "Sports day", "recipient_ids": []string{asha.ID}})

	w := s.do(http.MethodGet, "/search", faculty, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = s.do(http.MethodGet, "/search?q=sports", faculty, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	part, err := mw.CreateFormFile("file", "plan.pdf")
	require.NoError(t, err)
	_, _ = part.Write([]byte("%PDF-1.4"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/documents/"+id+"/attachments", body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-Test-User", faculty.ID)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestDocumentController_Export(t *testing.T) {
	s := newTestServer(t)
	id := s.submit(t, map[string]interface{}{"title": "Sports day", "recipient_ids": []string{asha.ID}})

	w := s.do(http.MethodGet, "/documents/export", faculty, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", w.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(w.Header().Get("Content-Disposition"), "attachment; filename=documents_"))

	f, err := excelize.OpenReader(w.Body)
	require.NoError(t, err)
	defer f.Close()
	cell, err := f.GetCellValue("Documents", "A2")
	require.NoError(t, err)
	assert.Equal(t, id, cell)
}

func TestEscalationController(t *testing.T) {
	s := newTestServer(t)
	id := s.submit(t, map[string]interface{}{
		"title":         "Hostel allocation",
		"recipient_ids": []string{asha.ID},
		"escalation":    map[string]interface{}{"enabled": true},
	})

	w := s.do(http.MethodGet, "/escalations", asha, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodGet, "/escalations", principal, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total":1`)
	assert.Contains(t, w.Body.String(), id)

	w = s.do(http.MethodDelete, "/escalations/"+id, principal, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, s.engine.Active())
}

func TestNotificationController(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodGet, "/notifications/preferences", asha, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var pref models.NotificationPreference
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &pref))
	assert.True(t, pref.Email.Enabled)
	assert.False(t, pref.SMS.Enabled)

	pref.SMS.Enabled = true
	pref.UserID = "someone-else"
	w = s.do(http.MethodPut, "/notifications/preferences", asha, pref)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodGet, "/notifications/preferences", asha, nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &pref))
	assert.True(t, pref.SMS.Enabled)
	assert.Equal(t, asha.ID, pref.UserID)
}

func TestEventsController_Stream(t *testing.T) {
	s := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("X-Test-User", asha.ID)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		s.router.ServeHTTP(w, req)
		close(done)
	}()

	require.Eventually(t, func() bool { return s.hub.Connected(asha.ID) }, time.Second, 10*time.Millisecond)
	s.hub.SendToUser(asha.ID, realtime.Event{EventType: "document-approved", Data: `{"document_id":"doc-1"}`})
	s.hub.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not end after hub close")
	}
	body := w.Body.String()
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Contains(t, body, "event: connected\n")
	assert.Contains(t, body, "event: document-approved\ndata: {\"document_id\":\"doc-1\"}\n\n")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&services.ValidationError{Field: "title", Message: "is required"}, http.StatusBadRequest},
		{&services.NotARecipientError{Reason: services.ReasonNotYourTurn}, http.StatusForbidden},
		{&services.BypassNotAuthorizedError{UserID: "u"}, http.StatusForbidden},
		{&services.UnknownDocumentError{DocumentID: "x"}, http.StatusNotFound},
		{&services.AlreadyTerminalError{Status: models.StatusApproved}, http.StatusConflict},
		{fmt.Errorf("search: %w", services.ErrFeatureDisabled), http.StatusServiceUnavailable},
		{&services.PersistenceError{Op: "create", Err: errors.New("db down")}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

func TestDirectoryController_ListByRole(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodGet, "/recipients?role=principal", faculty, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), principal.ID)
	assert.Contains(t, w.Body.String(), `"total":1`)

	w = s.do(http.MethodGet, "/recipients", faculty, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
