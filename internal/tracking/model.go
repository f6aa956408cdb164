package tracking

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
)

const maxIdentifierLength = 190

// Well-known funnel event names. The column is an open string enum; these are
// the names the attribution pipeline assigns meaning to.
const (
	EventNameFunnelEntry    = "funnel-entry"
	EventNameFunnelProgress = "funnel-progress"
	EventNameConversion     = "conversion"
)

var (
	// ErrInvalidEventName indicates that an event name is empty or exceeds storage bounds.
	ErrInvalidEventName = errors.New("tracking: invalid event name")
)

// EventName represents a validated touch event name.
type EventName string

// NewEventName validates raw input and returns an EventName.
func NewEventName(rawInput string) (EventName, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidEventName)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidEventName, maxIdentifierLength)
	}
	return EventName(trimmed), nil
}

// String returns the underlying event name.
func (n EventName) String() string {
	return string(n)
}

// CampaignParams carries the campaign-tagging attributes of a touch.
type CampaignParams struct {
	Source   string
	Medium   string
	Campaign string
	Content  string
	Term     string
	Sub1     string
	Sub2     string
}

// Empty reports whether no campaign attribute is set.
func (p CampaignParams) Empty() bool {
	return p.Source == "" && p.Medium == "" && p.Campaign == "" &&
		p.Content == "" && p.Term == "" && p.Sub1 == "" && p.Sub2 == ""
}

// TouchEvent models a single persisted marketing touch. Rows are written once
// and never mutated or deleted.
type TouchEvent struct {
	EventID     string         `gorm:"column:event_id;primaryKey;size:190;not null"`
	VisitorID   string         `gorm:"column:visitor_id;size:190;index:idx_touches_visitor_time,priority:1"`
	SessionID   string         `gorm:"column:session_id;size:190"`
	UserID      string         `gorm:"column:user_id;size:190;index:idx_touches_user_time,priority:1"`
	EventName   string         `gorm:"column:event_name;size:190;not null"`
	PageURL     string         `gorm:"column:page_url;size:2048"`
	LandingURL  string         `gorm:"column:landing_url;size:2048"`
	Referrer    string         `gorm:"column:referrer;size:2048"`
	UtmSource   string         `gorm:"column:utm_source;size:190"`
	UtmMedium   string         `gorm:"column:utm_medium;size:190"`
	UtmCampaign string         `gorm:"column:utm_campaign;size:190"`
	UtmContent  string         `gorm:"column:utm_content;size:190"`
	UtmTerm     string         `gorm:"column:utm_term;size:190"`
	Sub1        string         `gorm:"column:sub1;size:190"`
	Sub2        string         `gorm:"column:sub2;size:190"`
	ClickIDs    datatypes.JSON `gorm:"column:click_ids"`
	Metadata    datatypes.JSON `gorm:"column:metadata"`
	CreatedAt   time.Time      `gorm:"column:created_at;not null;index:idx_touches_visitor_time,priority:2;index:idx_touches_user_time,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (TouchEvent) TableName() string {
	return "touch_events"
}

// HasAttributionSignal reports whether the touch carries at least one channel
// signal (utm_source, utm_campaign, referrer, or a click id) and therefore
// counts toward attribution. Touches without any signal are informational only.
func (e TouchEvent) HasAttributionSignal() bool {
	if e.UtmSource != "" || e.UtmCampaign != "" || e.Referrer != "" {
		return true
	}
	return len(e.ClickIDs) > 0 && string(e.ClickIDs) != "null" && string(e.ClickIDs) != "{}"
}

// TouchRequest describes the input supplied by a client when recording a touch.
type TouchRequest struct {
	EventName  EventName
	VisitorID  string
	SessionID  string
	UserID     string
	PageURL    string
	LandingURL string
	Referrer   string
	Campaign   CampaignParams
	ClickIDs   map[string]string
	Metadata   map[string]any
}
