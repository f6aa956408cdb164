package attribution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lucentlabs/beacon/backend/internal/tracking"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingResolver   = errors.New("resolver is required")
	errMissingIDProvider = errors.New("id provider is required")

	// ErrMissingReservationID rejects a conversion signal without its
	// business key. This is the caller's validation failure.
	ErrMissingReservationID = errors.New("attribution: reservation id is required")
)

// RecorderError carries a stable operation.reason code alongside its cause.
type RecorderError struct {
	code string
	err  error
}

func (e *RecorderError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *RecorderError) Unwrap() error {
	return e.err
}

func (e *RecorderError) Code() string {
	return e.code
}

const (
	opRecorderNew      = "attribution.recorder.new"
	opRecordConversion = "attribution.record_conversion"
)

func newRecorderError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &RecorderError{code: code, err: cause}
}

// IDProvider issues conversion identifiers.
type IDProvider interface {
	NewID() (string, error)
}

// ConversionRequest is the "conversion occurred" signal from the booking flow.
type ConversionRequest struct {
	ReservationID string
	UserID        string
	VisitorID     string
	SessionID     string
	PageURL       string
}

// ConversionResult is the recorder outcome. A duplicate is a first-class
// idempotent success, not an error.
type ConversionResult struct {
	Duplicate   bool
	Attribution Attribution
}

// RecorderConfig describes the dependencies of a Recorder.
type RecorderConfig struct {
	Database   *gorm.DB
	Resolver   *Resolver
	Dispatcher *tracking.Dispatcher
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Recorder is the idempotent conversion write path. The only fatal failure is
// the Conversion insert itself; the audit touch and the attribution reads are
// best-effort side work.
type Recorder struct {
	db         *gorm.DB
	resolver   *Resolver
	dispatcher *tracking.Dispatcher
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewRecorder constructs a Recorder.
func NewRecorder(cfg RecorderConfig) (*Recorder, error) {
	if cfg.Database == nil {
		return nil, newRecorderError(opRecorderNew, "missing_database", errMissingDatabase)
	}
	if cfg.Resolver == nil {
		return nil, newRecorderError(opRecorderNew, "missing_resolver", errMissingResolver)
	}
	if cfg.IDProvider == nil {
		return nil, newRecorderError(opRecorderNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{
		db:         cfg.Database,
		resolver:   cfg.Resolver,
		dispatcher: cfg.Dispatcher,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// RecordConversion turns a conversion signal into exactly one persisted
// Conversion per reservation id. Concurrent duplicate signals are resolved by
// the unique constraint on the reservation id: the losing insert reports
// duplicate, never a second row. A best-effort pre-read short-circuits the
// common retry without being relied on for correctness.
func (r *Recorder) RecordConversion(ctx context.Context, request ConversionRequest) (ConversionResult, error) {
	reservationID := strings.TrimSpace(request.ReservationID)
	if reservationID == "" {
		return ConversionResult{}, ErrMissingReservationID
	}

	var existing Conversion
	err := r.db.WithContext(ctx).
		Where("reservation_id = ?", reservationID).
		Take(&existing).Error
	if err == nil {
		return ConversionResult{Duplicate: true}, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		r.logWarn(opRecordConversion, "dedup_read_failed", err, reservationID)
	}

	r.emitAuditTouch(request)

	conversionTime := r.clock().UTC()
	attribution := r.resolver.Resolve(ctx, Scope{
		UserID:    strings.TrimSpace(request.UserID),
		VisitorID: strings.TrimSpace(request.VisitorID),
	}, conversionTime)

	conversionID, err := r.idProvider.NewID()
	if err != nil {
		r.logger.Error("conversion id generation failed",
			zap.String("reservation_id", reservationID), zap.Error(err))
		return ConversionResult{}, newRecorderError(opRecordConversion, "id_generation_failed", err)
	}

	row := Conversion{
		ConversionID:          conversionID,
		ReservationID:         reservationID,
		VisitorID:             strings.TrimSpace(request.VisitorID),
		UserID:                strings.TrimSpace(request.UserID),
		AttributedEventID:     attribution.AttributedEventID,
		PathSummary:           attribution.PathSummary,
		ConversionTimeSeconds: attribution.ConversionTimeSeconds,
		CreatedAt:             conversionTime,
	}
	if attribution.FirstTouch != nil {
		if encoded, err := json.Marshal(attribution.FirstTouch); err == nil {
			row.FirstTouch = encoded
		}
	}
	lastTouch, err := json.Marshal(attribution.LastTouch)
	if err != nil {
		return ConversionResult{}, newRecorderError(opRecordConversion, "snapshot_encode_failed", err)
	}
	row.LastTouch = lastTouch

	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isDuplicateKey(err) {
			return ConversionResult{Duplicate: true}, nil
		}
		r.logger.Error("conversion insert failed",
			zap.String("reservation_id", reservationID), zap.Error(err))
		return ConversionResult{}, newRecorderError(opRecordConversion, "insert_failed", err)
	}

	return ConversionResult{Attribution: attribution}, nil
}

// emitAuditTouch records the funnel-completion touch for observability. It is
// fire and forget: a full buffer or a failed write never aborts the conversion.
func (r *Recorder) emitAuditTouch(request ConversionRequest) {
	if r.dispatcher == nil {
		return
	}
	eventName, err := tracking.NewEventName(tracking.EventNameConversion)
	if err != nil {
		return
	}
	r.dispatcher.Enqueue(tracking.TouchRequest{
		EventName: eventName,
		VisitorID: strings.TrimSpace(request.VisitorID),
		SessionID: strings.TrimSpace(request.SessionID),
		UserID:    strings.TrimSpace(request.UserID),
		PageURL:   request.PageURL,
		Metadata:  map[string]any{"reservation_id": strings.TrimSpace(request.ReservationID)},
	})
}

func (r *Recorder) logWarn(operation, reason string, err error, reservationID string) {
	r.logger.Warn("attribution recorder degraded",
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.String("reservation_id", reservationID),
		zap.Error(err))
}

// isDuplicateKey reports whether the insert failed on the reservation id
// uniqueness constraint. Covers both gorm's translated sentinel and the raw
// sqlite message.
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
