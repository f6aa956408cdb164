package identity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ServiceConfig describes the dependencies required for attachment handling.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service manages visitor-to-account attachments.
type Service struct {
	db     *gorm.DB
	now    func() time.Time
	logger *zap.Logger
	cache  sync.Map
}

// NewService constructs the attachment service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("identity: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:     cfg.Database,
		now:    clock,
		logger: logger,
	}, nil
}

// Attach persists the visitor-to-user mapping. Calling it again for the same
// pair is an upsert; a retroactive flag once set is never downgraded. A missing
// visitor id is a silent no-op: there is nothing to attach.
func (s *Service) Attach(ctx context.Context, visitorID, userID string, retroactive bool) error {
	visitorID = normalize(visitorID)
	userID = normalize(userID)
	if visitorID == "" {
		s.logger.Debug("attach skipped, no visitor id", zap.String("user_id", userID))
		return nil
	}
	if userID == "" {
		return fmt.Errorf("identity: user id required for attachment")
	}

	attachment := Attachment{
		VisitorID:   visitorID,
		UserID:      userID,
		Retroactive: retroactive,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "visitor_id"}, {Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"retroactive": gorm.Expr("retroactive OR excluded.retroactive"),
			"updated_at":  s.now().UTC(),
		}),
	}).Create(&attachment).Error
	if err != nil {
		return fmt.Errorf("identity: attach failed: %w", err)
	}

	s.cache.Delete(userID)
	return nil
}

// RetroactiveVisitorIDs returns the visitor ids attached to the account with
// the retroactive flag set. Results are cached per user id until the next
// attach for that account.
func (s *Service) RetroactiveVisitorIDs(ctx context.Context, userID string) ([]string, error) {
	userID = normalize(userID)
	if userID == "" {
		return nil, nil
	}

	if cached, ok := s.cache.Load(userID); ok {
		if visitorIDs, ok := cached.([]string); ok {
			return visitorIDs, nil
		}
	}

	var visitorIDs []string
	err := s.db.WithContext(ctx).
		Model(&Attachment{}).
		Where("user_id = ? AND retroactive = ?", userID, true).
		Pluck("visitor_id", &visitorIDs).Error
	if err != nil {
		return nil, fmt.Errorf("identity: retroactive lookup failed: %w", err)
	}

	s.cache.Store(userID, visitorIDs)
	return visitorIDs, nil
}
