package attribution

import (
	"encoding/json"
	"time"

	"github.com/lucentlabs/beacon/backend/internal/tracking"
	"gorm.io/datatypes"
)

// TouchSnapshot is the attribution view of a single touch, embedded into a
// Conversion as first/last touch. The sentinel snapshots carry only a source.
type TouchSnapshot struct {
	EventID    string            `json:"event_id,omitempty"`
	Source     string            `json:"source,omitempty"`
	Medium     string            `json:"medium,omitempty"`
	Campaign   string            `json:"campaign,omitempty"`
	Content    string            `json:"content,omitempty"`
	Term       string            `json:"term,omitempty"`
	Sub1       string            `json:"sub1,omitempty"`
	Sub2       string            `json:"sub2,omitempty"`
	Referrer   string            `json:"referrer,omitempty"`
	LandingURL string            `json:"landing_url,omitempty"`
	PageURL    string            `json:"page_url,omitempty"`
	ClickIDs   map[string]string `json:"click_ids,omitempty"`
	OccurredAt *time.Time        `json:"occurred_at,omitempty"`
}

// DirectSnapshot is the last-touch sentinel for an identity with zero valid
// touches inside the attribution window.
func DirectSnapshot() TouchSnapshot {
	return TouchSnapshot{Source: "direct"}
}

// UnknownSnapshot is the last-touch sentinel for a conversion with no identity
// at all.
func UnknownSnapshot() TouchSnapshot {
	return TouchSnapshot{Source: "unknown"}
}

func snapshotOf(event tracking.TouchEvent) TouchSnapshot {
	occurredAt := event.CreatedAt
	snapshot := TouchSnapshot{
		EventID:    event.EventID,
		Source:     event.UtmSource,
		Medium:     event.UtmMedium,
		Campaign:   event.UtmCampaign,
		Content:    event.UtmContent,
		Term:       event.UtmTerm,
		Sub1:       event.Sub1,
		Sub2:       event.Sub2,
		Referrer:   event.Referrer,
		LandingURL: event.LandingURL,
		PageURL:    event.PageURL,
		OccurredAt: &occurredAt,
	}
	if len(event.ClickIDs) > 0 {
		var clickIDs map[string]string
		if err := json.Unmarshal(event.ClickIDs, &clickIDs); err == nil && len(clickIDs) > 0 {
			snapshot.ClickIDs = clickIDs
		}
	}
	return snapshot
}

// Attribution is the resolved outcome for one conversion.
type Attribution struct {
	FirstTouch            *TouchSnapshot
	LastTouch             TouchSnapshot
	AttributedEventID     string
	PathSummary           string
	ConversionTimeSeconds *int64
}

// Conversion models the persisted attribution record for one reservation.
// The reservation id is the idempotency key: at most one row exists per
// reservation and rows are never mutated after creation.
type Conversion struct {
	ConversionID          string         `gorm:"column:conversion_id;primaryKey;size:190;not null"`
	ReservationID         string         `gorm:"column:reservation_id;uniqueIndex;size:190;not null"`
	VisitorID             string         `gorm:"column:visitor_id;size:190"`
	UserID                string         `gorm:"column:user_id;size:190"`
	FirstTouch            datatypes.JSON `gorm:"column:first_touch"`
	LastTouch             datatypes.JSON `gorm:"column:last_touch;not null"`
	AttributedEventID     string         `gorm:"column:attributed_event_id;size:190"`
	PathSummary           string         `gorm:"column:path_summary;size:512"`
	ConversionTimeSeconds *int64         `gorm:"column:conversion_time_s"`
	CreatedAt             time.Time      `gorm:"column:created_at;not null;index"`
}

// TableName provides the explicit table binding for GORM.
func (Conversion) TableName() string {
	return "conversions"
}
