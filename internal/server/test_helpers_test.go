package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/guide-on-the-side/internal/auth"
	"github.com/MarcoPoloResearchLab/guide-on-the-side/internal/database"
	"github.com/MarcoPoloResearchLab/guide-on-the-side/internal/tutorials"
	"github.com/MarcoPoloResearchLab/guide-on-the-side/internal/uploads"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	testSigningSecret = "test-signing-secret"
	testIssuer        = "guide-auth"
	testCookieName    = "guide_session"
)

type testHarness struct {
	handler    http.Handler
	dispatcher *RealtimeDispatcher
	uploadsDir string
	token      string
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	tempDir := t.TempDir()
	db, err := database.OpenSQLite(filepath.Join(tempDir, "guide.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	service, err := tutorials.NewService(tutorials.ServiceConfig{
		Database:   db,
		IDProvider: tutorials.NewUUIDProvider(),
		Logger:     zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to build tutorials service: %v", err)
	}

	uploadsDir := filepath.Join(tempDir, "uploads")
	store, err := uploads.NewStore(uploads.StoreConfig{BaseDir: uploadsDir})
	if err != nil {
		t.Fatalf("failed to build upload store: %v", err)
	}

	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        testIssuer,
		CookieName:    testCookieName,
	})
	if err != nil {
		t.Fatalf("failed to build session validator: %v", err)
	}
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        testIssuer,
		TokenTTL:      time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to build token issuer: %v", err)
	}
	token, _, err := issuer.IssueSessionToken(auth.Author{Subject: "author-1", Name: "Ada"})
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}

	dispatcher := NewRealtimeDispatcher()
	handler, err := NewHTTPHandler(Dependencies{
		Sessions:          validator,
		TutorialsService:  service,
		UploadStore:       store,
		Realtime:          dispatcher,
		AllowedOrigins:    []string{"*"},
		HeartbeatInterval: 50 * time.Millisecond,
		Logger:            zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}

	return &testHarness{handler: handler, dispatcher: dispatcher, uploadsDir: uploadsDir, token: token}
}

func (h *testHarness) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader = http.NoBody
	switch typed := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(typed)
	default:
		encoded, err := json.Marshal(typed)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		request.Header.Set(key, value)
	}
	recorder := httptest.NewRecorder()
	h.handler.ServeHTTP(recorder, request)
	return recorder
}

func (h *testHarness) authorized(extra map[string]string) map[string]string {
	headers := map[string]string{"Authorization": "Bearer " + h.token}
	for key, value := range extra {
		headers[key] = value
	}
	return headers
}

func (h *testHarness) createTutorial(t *testing.T, title string) tutorials.Tutorial {
	t.Helper()
	recorder := h.do(t, http.MethodPost, "/api/tutorials", map[string]string{"title": title}, h.authorized(nil))
	if recorder.Code != http.StatusCreated {
		t.Fatalf("unexpected create status %d: %s", recorder.Code, recorder.Body.String())
	}
	return decodeTutorial(t, recorder)
}

func decodeTutorial(t *testing.T, recorder *httptest.ResponseRecorder) tutorials.Tutorial {
	t.Helper()
	var tutorial tutorials.Tutorial
	if err := json.Unmarshal(recorder.Body.Bytes(), &tutorial); err != nil {
		t.Fatalf("failed to decode tutorial: %v (%s)", err, recorder.Body.String())
	}
	return tutorial
}

func decodeError(t *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode error payload: %v (%s)", err, recorder.Body.String())
	}
	return payload
}

func decodeJSON(t *testing.T, data []byte, target any) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to decode json: %v (%s)", err, data)
	}
}
