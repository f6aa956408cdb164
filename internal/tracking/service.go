package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// ServiceError carries a stable operation.reason code alongside its cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew  = "tracking.service.new"
	opRecordTouch = "tracking.record_touch"
	opListTouches = "tracking.list_touches"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// IDProvider issues identifiers for stored touch events.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies of the ingestion service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service persists touch events. Ingestion is append-only: a logical action may
// legitimately produce multiple rows and no dedup happens at this layer.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService constructs the ingestion service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// RecordTouch validates and stores a single touch event, assigning the event id
// and server-side timestamp. Only the event name is structurally required; all
// other fields are stored as provided.
func (s *Service) RecordTouch(ctx context.Context, request TouchRequest) (TouchEvent, error) {
	if request.EventName.String() == "" {
		s.logError(opRecordTouch, "missing_event_name", ErrInvalidEventName)
		return TouchEvent{}, newServiceError(opRecordTouch, "missing_event_name", ErrInvalidEventName)
	}

	eventID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opRecordTouch, "id_generation_failed", err)
		return TouchEvent{}, newServiceError(opRecordTouch, "id_generation_failed", err)
	}

	event := TouchEvent{
		EventID:     eventID,
		VisitorID:   request.VisitorID,
		SessionID:   request.SessionID,
		UserID:      request.UserID,
		EventName:   request.EventName.String(),
		PageURL:     request.PageURL,
		LandingURL:  request.LandingURL,
		Referrer:    request.Referrer,
		UtmSource:   request.Campaign.Source,
		UtmMedium:   request.Campaign.Medium,
		UtmCampaign: request.Campaign.Campaign,
		UtmContent:  request.Campaign.Content,
		UtmTerm:     request.Campaign.Term,
		Sub1:        request.Campaign.Sub1,
		Sub2:        request.Campaign.Sub2,
		CreatedAt:   s.clock().UTC(),
	}

	if len(request.ClickIDs) > 0 {
		encoded, err := json.Marshal(request.ClickIDs)
		if err != nil {
			s.logError(opRecordTouch, "click_ids_encode_failed", err)
			return TouchEvent{}, newServiceError(opRecordTouch, "click_ids_encode_failed", err)
		}
		event.ClickIDs = datatypes.JSON(encoded)
	}
	if len(request.Metadata) > 0 {
		encoded, err := json.Marshal(request.Metadata)
		if err != nil {
			s.logError(opRecordTouch, "metadata_encode_failed", err)
			return TouchEvent{}, newServiceError(opRecordTouch, "metadata_encode_failed", err)
		}
		event.Metadata = datatypes.JSON(encoded)
	}

	if err := s.db.WithContext(ctx).Create(&event).Error; err != nil {
		s.logError(opRecordTouch, "insert_failed", err,
			zap.String("event_name", event.EventName),
			zap.String("visitor_id", event.VisitorID))
		return TouchEvent{}, newServiceError(opRecordTouch, "insert_failed", err)
	}

	return event, nil
}

// IdentityScope selects the touches belonging to one identity. Exactly one of
// the user or visitor dimensions is queried; with a user scope, retroactively
// attached visitor ids widen the match.
type IdentityScope struct {
	UserID     string
	VisitorIDs []string
}

// Empty reports whether the scope carries no identity at all.
func (s IdentityScope) Empty() bool {
	return s.UserID == "" && len(s.VisitorIDs) == 0
}

// ListTouches returns all touches for the scope with created_at inside
// [from, until], ordered ascending by creation time.
func (s *Service) ListTouches(ctx context.Context, scope IdentityScope, from, until time.Time) ([]TouchEvent, error) {
	if scope.Empty() {
		return nil, nil
	}

	query := s.db.WithContext(ctx).
		Where("created_at >= ? AND created_at <= ?", from.UTC(), until.UTC())

	switch {
	case scope.UserID != "" && len(scope.VisitorIDs) > 0:
		query = query.Where("user_id = ? OR visitor_id IN ?", scope.UserID, scope.VisitorIDs)
	case scope.UserID != "":
		query = query.Where("user_id = ?", scope.UserID)
	default:
		query = query.Where("visitor_id IN ?", scope.VisitorIDs)
	}

	var touches []TouchEvent
	if err := query.Order("created_at ASC").Find(&touches).Error; err != nil {
		s.logError(opListTouches, "query_failed", err,
			zap.String("user_id", scope.UserID),
			zap.Strings("visitor_ids", scope.VisitorIDs))
		return nil, newServiceError(opListTouches, "query_failed", err)
	}

	return touches, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("tracking service error", attrs...)
}
