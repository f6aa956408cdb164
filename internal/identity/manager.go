package identity

import (
	"encoding/json"
	"errors"
	"time"
)

const (
	defaultVisitorCookieName  = "beacon_vid"
	defaultSessionCookieName  = "beacon_sid"
	defaultVisitorTTL         = 30 * 24 * time.Hour
	defaultSessionIdleTimeout = 30 * time.Minute
)

var errMissingStore = errors.New("identity: store is required")

// IDProvider issues visitor and session identifiers.
type IDProvider interface {
	NewID() (string, error)
}

// Identity is the resolved client identity for one tracked interaction.
type Identity struct {
	VisitorID string
	SessionID string
	Campaign  CapturedCampaign
}

// ManagerConfig describes the dependencies of an identity Manager.
type ManagerConfig struct {
	Store              Store
	Clock              func() time.Time
	IDProvider         IDProvider
	VisitorCookieName  string
	SessionCookieName  string
	VisitorTTL         time.Duration
	SessionIdleTimeout time.Duration
}

// Manager produces a stable anonymous visitor identity and a session-scoped
// identity over an injectable Store. Storage failure degrades to an empty
// identity; callers must tolerate untracked interactions.
type Manager struct {
	store             Store
	clock             func() time.Time
	idProvider        IDProvider
	visitorCookieName string
	sessionCookieName string
	visitorTTL        time.Duration
	idleTimeout       time.Duration
}

// sessionRecord is the JSON session bookkeeping persisted in the session store.
type sessionRecord struct {
	SessionID           string           `json:"session_id"`
	LastActivitySeconds int64            `json:"last_activity_s"`
	Captured            CapturedCampaign `json:"captured"`
}

// NewManager constructs a Manager with defaults matching production tracking:
// a 30-day fixed visitor TTL and a 30-minute session idle timeout.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = NewUUIDProvider()
	}
	visitorCookieName := cfg.VisitorCookieName
	if visitorCookieName == "" {
		visitorCookieName = defaultVisitorCookieName
	}
	sessionCookieName := cfg.SessionCookieName
	if sessionCookieName == "" {
		sessionCookieName = defaultSessionCookieName
	}
	visitorTTL := cfg.VisitorTTL
	if visitorTTL <= 0 {
		visitorTTL = defaultVisitorTTL
	}
	idleTimeout := cfg.SessionIdleTimeout
	if idleTimeout <= 0 {
		idleTimeout = defaultSessionIdleTimeout
	}
	return &Manager{
		store:             cfg.Store,
		clock:             clock,
		idProvider:        idProvider,
		visitorCookieName: visitorCookieName,
		sessionCookieName: sessionCookieName,
		visitorTTL:        visitorTTL,
		idleTimeout:       idleTimeout,
	}, nil
}

// EnsureVisitorID returns the existing visitor id or mints one with a fixed
// (non-rolling) expiry. Safe to call on every page load.
func (m *Manager) EnsureVisitorID() string {
	if existing, ok := m.store.Get(m.visitorCookieName); ok {
		return existing
	}
	visitorID, err := m.idProvider.NewID()
	if err != nil {
		return ""
	}
	m.store.Set(m.visitorCookieName, visitorID, m.clock().UTC().Add(m.visitorTTL))
	return visitorID
}

// EnsureSessionID returns the current session id, minting a new one when no
// session exists or the idle timeout has elapsed. Last activity is bumped on
// every call.
func (m *Manager) EnsureSessionID() string {
	now := m.clock().UTC()
	record := m.loadSession()

	expired := record.SessionID == "" ||
		now.Sub(time.Unix(record.LastActivitySeconds, 0)) > m.idleTimeout
	if expired {
		sessionID, err := m.idProvider.NewID()
		if err != nil {
			return ""
		}
		record = sessionRecord{SessionID: sessionID}
	}
	record.LastActivitySeconds = now.Unix()

	m.saveSession(record)
	return record.SessionID
}

// CaptureCampaignParams records the campaign parameters of the provided page
// URL the first time any appear within the session, and returns whatever the
// session has captured. Later navigations never overwrite the first capture.
func (m *Manager) CaptureCampaignParams(pageURL string) CapturedCampaign {
	record := m.loadSession()
	if record.SessionID == "" {
		return CapturedCampaign{}
	}

	if record.Captured.Empty() {
		if parsed := ParseCampaignURL(pageURL); !parsed.Empty() {
			record.Captured = parsed
			m.saveSession(record)
		}
	}
	return record.Captured
}

// Resolve runs the full identity flow for one tracked interaction.
func (m *Manager) Resolve(pageURL string) Identity {
	visitorID := m.EnsureVisitorID()
	sessionID := m.EnsureSessionID()
	return Identity{
		VisitorID: visitorID,
		SessionID: sessionID,
		Campaign:  m.CaptureCampaignParams(pageURL),
	}
}

func (m *Manager) loadSession() sessionRecord {
	raw, ok := m.store.Get(m.sessionCookieName)
	if !ok {
		return sessionRecord{}
	}
	var record sessionRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return sessionRecord{}
	}
	return record
}

func (m *Manager) saveSession(record sessionRecord) {
	encoded, err := json.Marshal(record)
	if err != nil {
		return
	}
	m.store.Set(m.sessionCookieName, string(encoded), time.Time{})
}
