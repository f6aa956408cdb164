package server

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lucentlabs/beacon/backend/internal/attribution"
	"github.com/lucentlabs/beacon/backend/internal/auth"
	"github.com/lucentlabs/beacon/backend/internal/identity"
	"github.com/lucentlabs/beacon/backend/internal/reporting"
	"github.com/lucentlabs/beacon/backend/internal/tracking"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	testSigningSecret = "router-secret"
	testStaffIssuer   = "beacon-auth"
	testStaffCookie   = "staff_session"
)

type routerHarness struct {
	handler    http.Handler
	db         *gorm.DB
	dispatcher *tracking.Dispatcher
	touches    *tracking.Service
	now        time.Time
}

func newRouterHarness(t *testing.T) *routerHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:beacon_router_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&tracking.TouchEvent{}, &attribution.Conversion{}, &identity.Attachment{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	now := time.Unix(1700000000, 0).UTC()
	clock := func() time.Time { return now }

	touches, err := tracking.NewService(tracking.ServiceConfig{
		Database:   db,
		Clock:      clock,
		IDProvider: identity.NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("failed to construct tracking service: %v", err)
	}

	dispatcher, err := tracking.NewDispatcher(tracking.DispatcherConfig{Service: touches, BufferSize: 16})
	if err != nil {
		t.Fatalf("failed to construct dispatcher: %v", err)
	}

	attachments, err := identity.NewService(identity.ServiceConfig{Database: db, Clock: clock})
	if err != nil {
		t.Fatalf("failed to construct identity service: %v", err)
	}

	resolver, err := attribution.NewResolver(attribution.ResolverConfig{
		Touches:     touches,
		Attachments: attachments,
	})
	if err != nil {
		t.Fatalf("failed to construct resolver: %v", err)
	}

	recorder, err := attribution.NewRecorder(attribution.RecorderConfig{
		Database:   db,
		Resolver:   resolver,
		Dispatcher: dispatcher,
		Clock:      clock,
		IDProvider: identity.NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("failed to construct recorder: %v", err)
	}

	reader, err := reporting.NewReader(reporting.ReaderConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct reader: %v", err)
	}

	staffValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        testStaffIssuer,
		CookieName:    testStaffCookie,
		Clock:         clock,
	})
	if err != nil {
		t.Fatalf("failed to construct staff validator: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		Dispatcher:     dispatcher,
		Attachments:    attachments,
		Recorder:       recorder,
		Reader:         reader,
		StaffValidator: staffValidator,
		Clock:          clock,
		Logger:         zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}

	return &routerHarness{
		handler:    handler,
		db:         db,
		dispatcher: dispatcher,
		touches:    touches,
		now:        now,
	}
}

func (h *routerHarness) mintStaffToken(t *testing.T, roles []string) string {
	t.Helper()
	issuer := auth.NewStaffTokenIssuer(auth.StaffTokenIssuerConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        testStaffIssuer,
		Audience:      "beacon-api",
		TokenTTL:      time.Hour,
		Clock:         func() time.Time { return h.now },
	})
	token, _, err := issuer.IssueStaffToken(context.Background(), "staff-1", roles)
	if err != nil {
		t.Fatalf("failed to mint staff token: %v", err)
	}
	return token
}
