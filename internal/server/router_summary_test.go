package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lucentlabs/beacon/backend/internal/auth"
	"github.com/lucentlabs/beacon/backend/internal/reporting"
	"github.com/lucentlabs/beacon/backend/internal/tracking"
)

func TestHandleSummaryRequiresStaffSession(t *testing.T) {
	harness := newRouterHarness(t)
	defer harness.dispatcher.Close()

	request := httptest.NewRequest(http.MethodGet, "/summary", nil)
	recorder := httptest.NewRecorder()

	harness.handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized status, got %d", recorder.Code)
	}
}

func TestHandleSummaryRejectsNonStaffRole(t *testing.T) {
	harness := newRouterHarness(t)
	defer harness.dispatcher.Close()

	token := harness.mintStaffToken(t, []string{"analyst"})
	request := httptest.NewRequest(http.MethodGet, "/summary", nil)
	request.Header.Set("Authorization", "Bearer "+token)
	recorder := httptest.NewRecorder()

	harness.handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized status, got %d", recorder.Code)
	}
}

func TestHandleSummaryReturnsFunnelMetrics(t *testing.T) {
	harness := newRouterHarness(t)
	defer harness.dispatcher.Close()

	seed := []tracking.TouchRequest{
		{EventName: tracking.EventNameFunnelEntry, VisitorID: "visitor-1", Campaign: tracking.CampaignParams{Source: "naver"}},
		{EventName: tracking.EventNameFunnelEntry, VisitorID: "visitor-2", Campaign: tracking.CampaignParams{Source: "google"}},
		{EventName: tracking.EventNameFunnelProgress, VisitorID: "visitor-1"},
	}
	for _, request := range seed {
		if _, err := harness.touches.RecordTouch(context.Background(), request); err != nil {
			t.Fatalf("failed to seed touch: %v", err)
		}
	}

	token := harness.mintStaffToken(t, []string{auth.RoleStaff})
	request := httptest.NewRequest(http.MethodGet, "/summary", nil)
	request.Header.Set("Authorization", "Bearer "+token)
	recorder := httptest.NewRecorder()

	harness.handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected ok status, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var summary reporting.Summary
	if err := json.Unmarshal(recorder.Body.Bytes(), &summary); err != nil {
		t.Fatalf("failed to decode summary: %v", err)
	}
	if summary.FunnelEntries != 2 {
		t.Fatalf("expected 2 funnel entries, got %d", summary.FunnelEntries)
	}
	if summary.FunnelProgressions != 1 {
		t.Fatalf("expected 1 funnel progression, got %d", summary.FunnelProgressions)
	}
	if summary.ProgressionRate != "0.50" {
		t.Fatalf("unexpected progression rate %q", summary.ProgressionRate)
	}
	if len(summary.TopSources) != 2 {
		t.Fatalf("expected two source rows, got %+v", summary.TopSources)
	}
}

func TestHandleSummaryAcceptsStaffCookie(t *testing.T) {
	harness := newRouterHarness(t)
	defer harness.dispatcher.Close()

	token := harness.mintStaffToken(t, []string{auth.RoleStaff})
	request := httptest.NewRequest(http.MethodGet, "/summary", nil)
	request.AddCookie(&http.Cookie{Name: testStaffCookie, Value: token})
	recorder := httptest.NewRecorder()

	harness.handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected ok status, got %d: %s", recorder.Code, recorder.Body.String())
	}
}

func TestHandleSummaryRejectsMalformedDates(t *testing.T) {
	harness := newRouterHarness(t)
	defer harness.dispatcher.Close()

	token := harness.mintStaffToken(t, []string{auth.RoleStaff})
	for _, target := range []string{"/summary?from=08-2026", "/summary?to=yesterday"} {
		request := httptest.NewRequest(http.MethodGet, target, nil)
		request.Header.Set("Authorization", "Bearer "+token)
		recorder := httptest.NewRecorder()

		harness.handler.ServeHTTP(recorder, request)

		if recorder.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected bad request status, got %d", target, recorder.Code)
		}
	}
}

func TestHandleSummaryHonorsExplicitRange(t *testing.T) {
	harness := newRouterHarness(t)
	defer harness.dispatcher.Close()

	if _, err := harness.touches.RecordTouch(context.Background(), tracking.TouchRequest{
		EventName: tracking.EventNameFunnelEntry,
		VisitorID: "visitor-1",
	}); err != nil {
		t.Fatalf("failed to seed touch: %v", err)
	}

	token := harness.mintStaffToken(t, []string{auth.RoleStaff})
	request := httptest.NewRequest(http.MethodGet, "/summary?from=2000-01-01&to=2000-01-07", nil)
	request.Header.Set("Authorization", "Bearer "+token)
	recorder := httptest.NewRecorder()

	harness.handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected ok status, got %d", recorder.Code)
	}
	var summary reporting.Summary
	if err := json.Unmarshal(recorder.Body.Bytes(), &summary); err != nil {
		t.Fatalf("failed to decode summary: %v", err)
	}
	if summary.FunnelEntries != 0 {
		t.Fatalf("expected no entries in ancient range, got %d", summary.FunnelEntries)
	}
}
