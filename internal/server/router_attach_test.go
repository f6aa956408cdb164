package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/lucentlabs/beacon/backend/internal/identity"
)

func TestHandleAttachPersistsAttachment(t *testing.T) {
	harness := newRouterHarness(t)
	defer harness.dispatcher.Close()

	body := `{"visitor_id":"visitor-1","user_id":"user-1","retroactive":true}`
	request := httptest.NewRequest(http.MethodPost, "/attach", strings.NewReader(body))
	request.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()

	harness.handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected ok status, got %d: %s", recorder.Code, recorder.Body.String())
	}

	var stored identity.Attachment
	if err := harness.db.Where("visitor_id = ? AND user_id = ?", "visitor-1", "user-1").Take(&stored).Error; err != nil {
		t.Fatalf("expected attachment row: %v", err)
	}
	if !stored.Retroactive {
		t.Fatalf("expected retroactive attachment")
	}
}

func TestHandleAttachSkipsWithoutVisitor(t *testing.T) {
	harness := newRouterHarness(t)
	defer harness.dispatcher.Close()

	body := `{"visitor_id":"","user_id":"user-1"}`
	request := httptest.NewRequest(http.MethodPost, "/attach", strings.NewReader(body))
	request.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()

	harness.handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected ok status, got %d", recorder.Code)
	}
	if !strings.Contains(recorder.Body.String(), `"skipped":true`) {
		t.Fatalf("expected skipped response, got %s", recorder.Body.String())
	}

	var count int64
	if err := harness.db.Model(&identity.Attachment{}).Count(&count).Error; err != nil {
		t.Fatalf("failed to count attachments: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no attachment rows, got %d", count)
	}
}

func TestHandleAttachRequiresUserID(t *testing.T) {
	harness := newRouterHarness(t)
	defer harness.dispatcher.Close()

	body := `{"visitor_id":"visitor-1","user_id":""}`
	request := httptest.NewRequest(http.MethodPost, "/attach", strings.NewReader(body))
	request.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()

	harness.handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected bad request status, got %d", recorder.Code)
	}
	if !strings.Contains(recorder.Body.String(), "user_id_required") {
		t.Fatalf("unexpected response body: %s", recorder.Body.String())
	}
}
