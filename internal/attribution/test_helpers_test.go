package attribution

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/lucentlabs/beacon/backend/internal/identity"
	"github.com/lucentlabs/beacon/backend/internal/tracking"
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

type sequenceIDGenerator struct {
	prefix string
	next   int
}

func (g *sequenceIDGenerator) NewID() (string, error) {
	g.next++
	return fmt.Sprintf("%s-%d", g.prefix, g.next), nil
}

type testPipeline struct {
	db          *gorm.DB
	touches     *tracking.Service
	attachments *identity.Service
	resolver    *Resolver
	touchClock  *time.Time
}

func newTestPipeline(t *testing.T) *testPipeline {
	t.Helper()

	dsn := fmt.Sprintf("file:beacon_attribution_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&tracking.TouchEvent{}, &Conversion{}, &identity.Attachment{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	touchClock := time.Unix(1700000000, 0).UTC()
	pipeline := &testPipeline{db: db, touchClock: &touchClock}

	pipeline.touches, err = tracking.NewService(tracking.ServiceConfig{
		Database:   db,
		Clock:      func() time.Time { return *pipeline.touchClock },
		IDProvider: &sequenceIDGenerator{prefix: "touch"},
	})
	if err != nil {
		t.Fatalf("failed to construct tracking service: %v", err)
	}

	pipeline.attachments, err = identity.NewService(identity.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct identity service: %v", err)
	}

	pipeline.resolver, err = NewResolver(ResolverConfig{
		Touches:     pipeline.touches,
		Attachments: pipeline.attachments,
	})
	if err != nil {
		t.Fatalf("failed to construct resolver: %v", err)
	}

	return pipeline
}

// seedTouch stores a touch with the given timestamp.
func (p *testPipeline) seedTouch(t *testing.T, at time.Time, request tracking.TouchRequest) tracking.TouchEvent {
	t.Helper()
	*p.touchClock = at.UTC()
	stored, err := p.touches.RecordTouch(context.Background(), request)
	if err != nil {
		t.Fatalf("failed to seed touch: %v", err)
	}
	return stored
}

func mustEventName(t *testing.T, value string) tracking.EventName {
	t.Helper()
	name, err := tracking.NewEventName(value)
	if err != nil {
		t.Fatalf("unexpected event name error: %v", err)
	}
	return name
}
