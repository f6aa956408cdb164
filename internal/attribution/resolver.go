package attribution

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/lucentlabs/beacon/backend/internal/identity"
	"github.com/lucentlabs/beacon/backend/internal/tracking"
	"go.uber.org/zap"
)

const (
	// DefaultWindow is the lookback period within which touches may be
	// credited toward a conversion.
	DefaultWindow = 30 * 24 * time.Hour

	maxPathChannels    = 5
	pathSeparator      = " → "
	pathOverflowSuffix = " → ..."
	pathSummaryDirect  = "Direct"
	pathSummaryNoData  = "No attribution data"
	channelDirect      = "direct"
)

var (
	errMissingTouchService = errors.New("attribution: touch service is required")
)

// Scope identifies whose touches a conversion is resolved against. The user id
// takes precedence; the visitor id is used only when no user id is known.
type Scope struct {
	UserID    string
	VisitorID string
}

// Empty reports whether no identity is available at all.
func (s Scope) Empty() bool {
	return s.UserID == "" && s.VisitorID == ""
}

// ResolverConfig describes the dependencies of a Resolver.
type ResolverConfig struct {
	Touches     *tracking.Service
	Attachments *identity.Service
	Window      time.Duration
	Logger      *zap.Logger
}

// Resolver computes the attribution snapshot for a conversion. All of its
// reads are best-effort: a failed lookup degrades to an unattributed result
// and is never surfaced to the caller.
type Resolver struct {
	touches     *tracking.Service
	attachments *identity.Service
	window      time.Duration
	logger      *zap.Logger
}

// NewResolver constructs a Resolver.
func NewResolver(cfg ResolverConfig) (*Resolver, error) {
	if cfg.Touches == nil {
		return nil, errMissingTouchService
	}
	window := cfg.Window
	if window <= 0 {
		window = DefaultWindow
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		touches:     cfg.Touches,
		attachments: cfg.Attachments,
		window:      window,
		logger:      logger,
	}, nil
}

// Resolve selects the qualifying touches inside the lookback window ending at
// conversionTime and computes first/last touch, the credited event, the path
// summary, and the funnel-entry-to-conversion elapsed time.
func (r *Resolver) Resolve(ctx context.Context, scope Scope, conversionTime time.Time) Attribution {
	if scope.Empty() {
		return Attribution{
			LastTouch:   UnknownSnapshot(),
			PathSummary: pathSummaryNoData,
		}
	}

	touches := r.loadTouches(ctx, scope, conversionTime)
	valid := make([]tracking.TouchEvent, 0, len(touches))
	for _, touch := range touches {
		if touch.HasAttributionSignal() {
			valid = append(valid, touch)
		}
	}

	result := Attribution{
		LastTouch:             DirectSnapshot(),
		PathSummary:           pathSummaryDirect,
		ConversionTimeSeconds: conversionElapsed(touches, conversionTime),
	}
	if len(valid) == 0 {
		return result
	}

	first := snapshotOf(valid[0])
	last := snapshotOf(valid[len(valid)-1])
	result.FirstTouch = &first
	result.LastTouch = last
	result.AttributedEventID = valid[len(valid)-1].EventID
	result.PathSummary = summarizePath(valid)
	return result
}

// loadTouches resolves the identity scope and reads its windowed touches,
// swallowing read failures.
func (r *Resolver) loadTouches(ctx context.Context, scope Scope, conversionTime time.Time) []tracking.TouchEvent {
	identityScope := tracking.IdentityScope{}
	if scope.UserID != "" {
		identityScope.UserID = scope.UserID
		if r.attachments != nil {
			visitorIDs, err := r.attachments.RetroactiveVisitorIDs(ctx, scope.UserID)
			if err != nil {
				r.logger.Warn("retroactive attachment lookup failed, continuing without",
					zap.String("user_id", scope.UserID), zap.Error(err))
			} else {
				identityScope.VisitorIDs = visitorIDs
			}
		}
	} else {
		identityScope.VisitorIDs = []string{scope.VisitorID}
	}

	from := conversionTime.Add(-r.window)
	touches, err := r.touches.ListTouches(ctx, identityScope, from, conversionTime)
	if err != nil {
		r.logger.Warn("touch lookup failed, resolving without touches",
			zap.String("user_id", scope.UserID),
			zap.String("visitor_id", scope.VisitorID),
			zap.Error(err))
		return nil
	}
	return touches
}

// summarizePath renders up to the first five valid touches as channel labels.
func summarizePath(valid []tracking.TouchEvent) string {
	labels := make([]string, 0, maxPathChannels)
	for _, touch := range valid {
		if len(labels) == maxPathChannels {
			break
		}
		labels = append(labels, channelLabel(touch))
	}
	summary := strings.Join(labels, pathSeparator)
	if len(valid) > maxPathChannels {
		summary += pathOverflowSuffix
	}
	return summary
}

// channelLabel names the marketing channel of a touch: the campaign source if
// tagged, else the referrer's host, else direct.
func channelLabel(touch tracking.TouchEvent) string {
	if touch.UtmSource != "" {
		return touch.UtmSource
	}
	if host := referrerHost(touch.Referrer); host != "" {
		return host
	}
	return channelDirect
}

func referrerHost(referrer string) string {
	if referrer == "" {
		return ""
	}
	parsed, err := url.Parse(referrer)
	if err != nil {
		return ""
	}
	return parsed.Hostname()
}

// conversionElapsed computes whole seconds between the earliest funnel-entry
// touch and the conversion. A negative delta indicates inconsistent data and
// reports as unknown.
func conversionElapsed(touches []tracking.TouchEvent, conversionTime time.Time) *int64 {
	for _, touch := range touches {
		if touch.EventName != tracking.EventNameFunnelEntry {
			continue
		}
		delta := conversionTime.Sub(touch.CreatedAt)
		if delta < 0 {
			return nil
		}
		seconds := int64(delta.Seconds())
		return &seconds
	}
	return nil
}
