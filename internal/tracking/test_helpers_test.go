package tracking

import (
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type staticIDGenerator struct {
	ids   []string
	index int
}

func (g *staticIDGenerator) NewID() (string, error) {
	if g.index >= len(g.ids) {
		return "", errors.New("exhausted ids")
	}
	id := g.ids[g.index]
	g.index++
	return id, nil
}

func mustEventName(t *testing.T, value string) EventName {
	t.Helper()
	name, err := NewEventName(value)
	if err != nil {
		t.Fatalf("unexpected event name error: %v", err)
	}
	return name
}

func newTestService(t *testing.T, ids []string, clock func() time.Time) (*Service, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:beacon_tracking_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&TouchEvent{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	if clock == nil {
		clock = func() time.Time { return time.Unix(1700000000, 0).UTC() }
	}

	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      clock,
		IDProvider: &staticIDGenerator{ids: ids},
	})
	if err != nil {
		t.Fatalf("failed to construct tracking service: %v", err)
	}

	return service, db
}
