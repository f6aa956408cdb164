package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillRetroactiveUserIDs = "2026-08-20_backfill_retroactive_touch_user_ids"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillRetroactiveUserIDs, apply: backfillRetroactiveUserIDs},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// backfillRetroactiveUserIDs stamps the account id onto anonymous touches of
// visitors that were retroactively attached before this migration existed.
// Query-time union handles attachments made afterwards.
func backfillRetroactiveUserIDs(db *gorm.DB) error {
	const statement = `
		UPDATE touch_events
		SET user_id = (
			SELECT va.user_id FROM visitor_attachments va
			WHERE va.visitor_id = touch_events.visitor_id AND va.retroactive = true
			ORDER BY va.created_at ASC LIMIT 1
		)
		WHERE (user_id IS NULL OR user_id = '')
		AND visitor_id IN (
			SELECT visitor_id FROM visitor_attachments WHERE retroactive = true
		);`
	return db.Exec(statement).Error
}
