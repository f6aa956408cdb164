package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/lucentlabs/beacon/backend/internal/tracking"
)

func TestHandleConversionReturnsAttribution(t *testing.T) {
	harness := newRouterHarness(t)
	defer harness.dispatcher.Close()

	if _, err := harness.touches.RecordTouch(context.Background(), tracking.TouchRequest{
		EventName: tracking.EventNameFunnelEntry,
		VisitorID: "visitor-1",
		Referrer:  "https://search.naver.com/",
		Campaign:  tracking.CampaignParams{Source: "naver", Campaign: "summer"},
	}); err != nil {
		t.Fatalf("failed to seed touch: %v", err)
	}

	body := `{"reservation_id":"resv-100","visitor_id":"visitor-1"}`
	request := httptest.NewRequest(http.MethodPost, "/conversion", strings.NewReader(body))
	request.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()

	harness.handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected ok status, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var payload conversionResponsePayload
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !payload.Success || payload.Duplicate {
		t.Fatalf("expected fresh successful conversion, got %+v", payload)
	}
	if payload.FirstTouch == nil || payload.FirstTouch.Source != "naver" {
		t.Fatalf("expected naver first touch, got %+v", payload.FirstTouch)
	}
	if payload.PathSummary != "naver" {
		t.Fatalf("unexpected path summary %q", payload.PathSummary)
	}
	if payload.ConversionTimeSeconds == nil || *payload.ConversionTimeSeconds != 0 {
		t.Fatalf("expected zero elapsed conversion time, got %v", payload.ConversionTimeSeconds)
	}
}

func TestHandleConversionReportsDuplicate(t *testing.T) {
	harness := newRouterHarness(t)
	defer harness.dispatcher.Close()

	body := `{"reservation_id":"resv-dup","visitor_id":"visitor-1"}`
	for attempt := 0; attempt < 2; attempt++ {
		request := httptest.NewRequest(http.MethodPost, "/conversion", strings.NewReader(body))
		request.Header.Set("Content-Type", "application/json")
		recorder := httptest.NewRecorder()

		harness.handler.ServeHTTP(recorder, request)

		if recorder.Code != http.StatusOK {
			t.Fatalf("attempt %d: expected ok status, got %d", attempt, recorder.Code)
		}
		var payload conversionResponsePayload
		if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
			t.Fatalf("attempt %d: failed to decode response: %v", attempt, err)
		}
		if attempt == 0 && payload.Duplicate {
			t.Fatalf("first attempt must not be a duplicate")
		}
		if attempt == 1 && !payload.Duplicate {
			t.Fatalf("second attempt must report duplicate")
		}
	}
}

func TestHandleConversionRequiresReservationID(t *testing.T) {
	harness := newRouterHarness(t)
	defer harness.dispatcher.Close()

	body := `{"reservation_id":"  ","visitor_id":"visitor-1"}`
	request := httptest.NewRequest(http.MethodPost, "/conversion", strings.NewReader(body))
	request.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()

	harness.handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected bad request status, got %d", recorder.Code)
	}
	if !strings.Contains(recorder.Body.String(), "reservation_id_required") {
		t.Fatalf("unexpected response body: %s", recorder.Body.String())
	}
}
