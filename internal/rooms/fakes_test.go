package rooms

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tracklab/podium/internal/database/models"
	"github.com/tracklab/podium/internal/entities"
	"github.com/tracklab/podium/internal/hosting"
)

// fakeSession is an in-memory hosting.Session the tests feed events into.
type fakeSession struct {
	mu     sync.Mutex
	events chan hosting.Event
	sent   []string
	closed bool
}

func newFakeSession() *fakeSession {
	return &fakeSession{events: make(chan hosting.Event, 16)}
}

func (s *fakeSession) Events() <-chan hosting.Event { return s.events }

func (s *fakeSession) SendMessage(ctx context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, text)
	return nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	return nil
}

func (s *fakeSession) deliver(ev hosting.Event) {
	s.events <- ev
}

func (s *fakeSession) messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.sent))
	copy(out, s.sent)
	return out
}

func (s *fakeSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// fakeClient is an in-memory hosting.Client with a scriptable open set.
type fakeClient struct {
	category string

	mu         sync.Mutex
	createErr  error
	connectErr error
	listErr    error
	created    []hosting.RoomRequest
	open       []hosting.RoomSummary
	sessions   map[string]*fakeSession
	connects   int
}

func newFakeClient(category string) *fakeClient {
	return &fakeClient{category: category, sessions: make(map[string]*fakeSession)}
}

func (c *fakeClient) Category() string { return c.category }

func (c *fakeClient) CreateRoom(ctx context.Context, req hosting.RoomRequest) (hosting.RoomSummary, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.createErr != nil {
		return hosting.RoomSummary{}, c.createErr
	}
	c.created = append(c.created, req)
	summary := hosting.RoomSummary{
		Slug:   fmt.Sprintf("%s/room-%d", c.category, len(c.created)),
		Status: hosting.StatusOpen,
		Goal:   req.Goal,
	}
	c.open = append(c.open, summary)
	return summary, nil
}

func (c *fakeClient) ListOpenRooms(ctx context.Context) ([]hosting.RoomSummary, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listErr != nil {
		return nil, c.listErr
	}
	out := make([]hosting.RoomSummary, len(c.open))
	copy(out, c.open)
	return out, nil
}

func (c *fakeClient) Connect(ctx context.Context, slug string) (hosting.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connectErr != nil {
		return nil, c.connectErr
	}
	c.connects++
	sess := newFakeSession()
	c.sessions[slug] = sess
	return sess, nil
}

func (c *fakeClient) setOpen(rooms ...hosting.RoomSummary) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = rooms
}

func (c *fakeClient) connectCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connects
}

func (c *fakeClient) sessionFor(slug string) *fakeSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessions[slug]
}

func (c *fakeClient) createCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.created)
}

// fakeResolver hands out one fake client per organization.
type fakeResolver struct {
	mu      sync.Mutex
	clients map[uuid.UUID]*fakeClient
	err     error
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{clients: make(map[uuid.UUID]*fakeClient)}
}

func (r *fakeResolver) For(ctx context.Context, orgID uuid.UUID) (hosting.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	client, ok := r.clients[orgID]
	if !ok {
		return nil, fmt.Errorf("no hosting credential for organization %s", orgID)
	}
	return client, nil
}

func (r *fakeResolver) add(orgID uuid.UUID, client *fakeClient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[orgID] = client
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestSynchronizer(db *gorm.DB) *Synchronizer {
	logger := testLogger()
	return NewSynchronizer(db, entities.NewStore(db, logger), logger)
}

// activeCredential writes a credential row directly; binder tests only need
// the organization to show up as credentialed, the fake resolver never
// decrypts anything.
func activeCredential(t *testing.T, db *gorm.DB, orgID uuid.UUID, category string) {
	t.Helper()
	cred := &models.HostingCredential{
		Base:            models.Base{ID: uuid.New()},
		OrganizationID:  orgID,
		Name:            "bot",
		Category:        category,
		ClientID:        "client-id",
		EncryptedSecret: []byte("opaque"),
		IsActive:        true,
	}
	if err := db.Create(cred).Error; err != nil {
		t.Fatalf("failed to create credential row: %v", err)
	}
}
