package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/lucentlabs/beacon/backend/internal/attribution"
	"github.com/lucentlabs/beacon/backend/internal/auth"
	"github.com/lucentlabs/beacon/backend/internal/identity"
	"github.com/lucentlabs/beacon/backend/internal/reporting"
	"github.com/lucentlabs/beacon/backend/internal/tracking"
	"go.uber.org/zap"
)

const staffClaimsContextKey = "beacon_staff_claims"

const dateLayout = "2006-01-02"

var (
	errMissingDispatcher     = errors.New("tracking dispatcher dependency required")
	errMissingAttachments    = errors.New("attachment service dependency required")
	errMissingRecorder       = errors.New("conversion recorder dependency required")
	errMissingReader         = errors.New("reporting reader dependency required")
	errMissingStaffValidator = errors.New("staff session validator dependency required")
)

// IdentitySettings configures the per-request identity manager backing /track.
type IdentitySettings struct {
	VisitorCookieName  string
	SessionCookieName  string
	VisitorTTL         time.Duration
	SessionIdleTimeout time.Duration
}

// Dependencies wires the HTTP surface to the attribution pipeline.
type Dependencies struct {
	Dispatcher     *tracking.Dispatcher
	Attachments    *identity.Service
	Recorder       *attribution.Recorder
	Reader         *reporting.Reader
	StaffValidator *auth.SessionValidator
	Identity       IdentitySettings
	Clock          func() time.Time
	Logger         *zap.Logger
}

// NewHTTPHandler builds the gin router for the attribution API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Dispatcher == nil {
		return nil, errMissingDispatcher
	}
	if deps.Attachments == nil {
		return nil, errMissingAttachments
	}
	if deps.Recorder == nil {
		return nil, errMissingRecorder
	}
	if deps.Reader == nil {
		return nil, errMissingReader
	}
	if deps.StaffValidator == nil {
		return nil, errMissingStaffValidator
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	handler := &httpHandler{
		dispatcher:     deps.Dispatcher,
		attachments:    deps.Attachments,
		recorder:       deps.Recorder,
		reader:         deps.Reader,
		staffValidator: deps.StaffValidator,
		identity:       deps.Identity,
		clock:          clock,
		logger:         logger,
	}

	router.POST("/track", handler.handleTrack)
	router.POST("/attach", handler.handleAttach)
	router.POST("/conversion", handler.handleConversion)

	protected := router.Group("/")
	protected.Use(handler.authorizeStaff)
	protected.GET("/summary", handler.handleSummary)

	return router, nil
}

type httpHandler struct {
	dispatcher     *tracking.Dispatcher
	attachments    *identity.Service
	recorder       *attribution.Recorder
	reader         *reporting.Reader
	staffValidator *auth.SessionValidator
	identity       IdentitySettings
	clock          func() time.Time
	logger         *zap.Logger
}

type trackRequestPayload struct {
	EventName   string            `json:"event_name"`
	VisitorID   string            `json:"visitor_id"`
	SessionID   string            `json:"session_id"`
	UserID      string            `json:"user_id"`
	PageURL     string            `json:"page_url"`
	LandingURL  string            `json:"landing_url"`
	Referrer    string            `json:"referrer"`
	UtmSource   string            `json:"utm_source"`
	UtmMedium   string            `json:"utm_medium"`
	UtmCampaign string            `json:"utm_campaign"`
	UtmContent  string            `json:"utm_content"`
	UtmTerm     string            `json:"utm_term"`
	Sub1        string            `json:"sub1"`
	Sub2        string            `json:"sub2"`
	ClickIDs    map[string]string `json:"click_ids"`
	Metadata    map[string]any    `json:"metadata"`
}

func (h *httpHandler) handleTrack(c *gin.Context) {
	var request trackRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid_request"})
		return
	}

	eventName, err := tracking.NewEventName(request.EventName)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "event_name_required"})
		return
	}

	resolved := h.resolveIdentity(c, request.PageURL)
	if request.VisitorID == "" {
		request.VisitorID = resolved.VisitorID
	}
	if request.SessionID == "" {
		request.SessionID = resolved.SessionID
	}

	touch := tracking.TouchRequest{
		EventName:  eventName,
		VisitorID:  request.VisitorID,
		SessionID:  request.SessionID,
		UserID:     request.UserID,
		PageURL:    request.PageURL,
		LandingURL: request.LandingURL,
		Referrer:   request.Referrer,
		Campaign: tracking.CampaignParams{
			Source:   request.UtmSource,
			Medium:   request.UtmMedium,
			Campaign: request.UtmCampaign,
			Content:  request.UtmContent,
			Term:     request.UtmTerm,
			Sub1:     request.Sub1,
			Sub2:     request.Sub2,
		},
		ClickIDs: request.ClickIDs,
		Metadata: request.Metadata,
	}

	// The session-captured campaign backfills what the client body omitted,
	// preserving first-touch-of-session parameters across navigations.
	if touch.Campaign.Empty() {
		touch.Campaign = resolved.Campaign.Campaign
	}
	if len(touch.ClickIDs) == 0 {
		touch.ClickIDs = resolved.Campaign.ClickIDs
	}
	if touch.LandingURL == "" {
		touch.LandingURL = resolved.Campaign.LandingURL
	}

	h.dispatcher.Enqueue(touch)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// resolveIdentity runs the cookie-backed identity manager for this request.
// Failure degrades to an untracked (empty) identity.
func (h *httpHandler) resolveIdentity(c *gin.Context, pageURL string) identity.Identity {
	manager, err := identity.NewManager(identity.ManagerConfig{
		Store:              identity.NewCookieStore(c.Writer, c.Request),
		Clock:              h.clock,
		VisitorCookieName:  h.identity.VisitorCookieName,
		SessionCookieName:  h.identity.SessionCookieName,
		VisitorTTL:         h.identity.VisitorTTL,
		SessionIdleTimeout: h.identity.SessionIdleTimeout,
	})
	if err != nil {
		h.logger.Warn("identity manager unavailable", zap.Error(err))
		return identity.Identity{}
	}
	return manager.Resolve(pageURL)
}

type attachRequestPayload struct {
	VisitorID   string `json:"visitor_id"`
	UserID      string `json:"user_id"`
	Retroactive bool   `json:"retroactive"`
}

func (h *httpHandler) handleAttach(c *gin.Context) {
	var request attachRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid_request"})
		return
	}

	if request.VisitorID == "" {
		c.JSON(http.StatusOK, gin.H{"success": true, "skipped": true})
		return
	}
	if request.UserID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "user_id_required"})
		return
	}

	if err := h.attachments.Attach(c.Request.Context(), request.VisitorID, request.UserID, request.Retroactive); err != nil {
		h.logger.Error("attachment failed",
			zap.String("user_id", request.UserID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "attach_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type conversionRequestPayload struct {
	ReservationID string `json:"reservation_id"`
	UserID        string `json:"user_id"`
	VisitorID     string `json:"visitor_id"`
	SessionID     string `json:"session_id"`
	PageURL       string `json:"page_url"`
}

type conversionResponsePayload struct {
	Success               bool                       `json:"success"`
	Duplicate             bool                       `json:"duplicate,omitempty"`
	FirstTouch            *attribution.TouchSnapshot `json:"first_touch,omitempty"`
	LastTouch             *attribution.TouchSnapshot `json:"last_touch,omitempty"`
	ConversionTimeSeconds *int64                     `json:"conversion_time_seconds,omitempty"`
	PathSummary           string                     `json:"path_summary,omitempty"`
}

func (h *httpHandler) handleConversion(c *gin.Context) {
	var request conversionRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid_request"})
		return
	}

	result, err := h.recorder.RecordConversion(c.Request.Context(), attribution.ConversionRequest{
		ReservationID: request.ReservationID,
		UserID:        request.UserID,
		VisitorID:     request.VisitorID,
		SessionID:     request.SessionID,
		PageURL:       request.PageURL,
	})
	if err != nil {
		if errors.Is(err, attribution.ErrMissingReservationID) {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "reservation_id_required"})
			return
		}
		h.logger.Error("conversion recording failed",
			zap.String("reservation_id", request.ReservationID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "conversion_failed"})
		return
	}

	if result.Duplicate {
		c.JSON(http.StatusOK, conversionResponsePayload{Success: true, Duplicate: true})
		return
	}

	lastTouch := result.Attribution.LastTouch
	c.JSON(http.StatusOK, conversionResponsePayload{
		Success:               true,
		FirstTouch:            result.Attribution.FirstTouch,
		LastTouch:             &lastTouch,
		ConversionTimeSeconds: result.Attribution.ConversionTimeSeconds,
		PathSummary:           result.Attribution.PathSummary,
	})
}

func (h *httpHandler) handleSummary(c *gin.Context) {
	now := h.clock().UTC()
	from := now.Add(-reporting.DefaultRange)
	to := now

	if raw := c.Query("from"); raw != "" {
		parsed, err := time.Parse(dateLayout, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid_from_date"})
			return
		}
		from = parsed
	}
	if raw := c.Query("to"); raw != "" {
		parsed, err := time.Parse(dateLayout, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid_to_date"})
			return
		}
		// The "to" date is an inclusive calendar day.
		to = parsed.Add(24*time.Hour - time.Second)
	}

	summary, err := h.reader.Summarize(c.Request.Context(), from, to)
	if err != nil {
		h.logger.Error("summary computation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "summary_failed"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *httpHandler) authorizeStaff(c *gin.Context) {
	claims, err := h.staffValidator.ValidateRequest(c.Request)
	if err != nil {
		h.logger.Warn("staff session validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "unauthorized"})
		return
	}
	c.Set(staffClaimsContextKey, claims)
	c.Next()
}
