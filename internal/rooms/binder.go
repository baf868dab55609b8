package rooms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tracklab/podium/internal/database/models"
	"github.com/tracklab/podium/internal/hosting"
)

const defaultReconcileInterval = 2 * time.Minute

// Binder keeps the in-memory session set consistent with the persisted room
// rows: on startup and on a timer it reconciles both against the rooms the
// hosting service actually reports open, attaching the right protocol
// handler variant to each. The session registry is owned here and threaded
// through explicitly; there are no package-level singletons.
type Binder struct {
	db      *gorm.DB
	hosting hosting.Resolver
	sync    *Synchronizer
	logger  *slog.Logger

	mu       sync.Mutex
	sessions map[string]*roomSession
	wg       sync.WaitGroup
	closing  atomic.Bool
}

// roomSession is one live connection plus the metadata the binder needs to
// manage it.
type roomSession struct {
	slug    string
	bound   bool
	session hosting.Session
}

func NewBinder(db *gorm.DB, resolver hosting.Resolver, sync *Synchronizer, logger *slog.Logger) *Binder {
	return &Binder{
		db:       db,
		hosting:  resolver,
		sync:     sync,
		logger:   logger,
		sessions: make(map[string]*roomSession),
	}
}

// Run reconciles once at startup, then again on a timer so bindings come
// back after disconnects. It blocks until ctx is cancelled, then tears down
// every session.
func (b *Binder) Run(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = defaultReconcileInterval
	}

	if err := b.Reconcile(ctx); err != nil {
		b.logger.Error("startup reconciliation failed", "error", err)
	}

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.Close()
			return
		case <-ticker.C:
			if err := b.Reconcile(ctx); err != nil {
				b.logger.Error("reconciliation failed", "error", err)
			}
		}
	}
}

// Reconcile aligns sessions and room rows with the hosting service's open
// set. It is re-entrant: a second pass with no remote changes attaches
// nothing new and drops nothing. Per-room failures are logged and skipped
// so one bad room never blocks the rest.
func (b *Binder) Reconcile(ctx context.Context) error {
	var rooms []models.RaceRoom
	if err := b.db.WithContext(ctx).Find(&rooms).Error; err != nil {
		return fmt.Errorf("loading room records: %w", err)
	}

	roomsByOrg := make(map[uuid.UUID][]models.RaceRoom)
	for _, room := range rooms {
		roomsByOrg[room.OrganizationID] = append(roomsByOrg[room.OrganizationID], room)
	}

	// Organizations with an active credential get reconciled even when they
	// have no local rows, so their orphaned remote rooms still get logged.
	var orgIDs []uuid.UUID
	err := b.db.WithContext(ctx).Model(&models.HostingCredential{}).
		Where("is_active = ?", true).
		Distinct().
		Pluck("organization_id", &orgIDs).Error
	if err != nil {
		return fmt.Errorf("loading credentialed organizations: %w", err)
	}

	seen := make(map[uuid.UUID]bool, len(orgIDs))
	for _, orgID := range orgIDs {
		seen[orgID] = true
		b.reconcileOrg(ctx, orgID, roomsByOrg[orgID])
	}
	for orgID, rows := range roomsByOrg {
		if !seen[orgID] {
			b.logger.Warn("rooms belong to an organization without an active hosting credential",
				"org_id", orgID,
				"rooms", len(rows),
			)
		}
	}
	return nil
}

func (b *Binder) reconcileOrg(ctx context.Context, orgID uuid.UUID, local []models.RaceRoom) {
	client, err := b.hosting.For(ctx, orgID)
	if err != nil {
		b.logger.Warn("skipping reconciliation for organization",
			"org_id", orgID,
			"error", err,
		)
		return
	}

	remote, err := client.ListOpenRooms(ctx)
	if err != nil {
		b.logger.Warn("listing open rooms failed",
			"org_id", orgID,
			"error", err,
		)
		return
	}

	open := make(map[string]hosting.RoomSummary, len(remote))
	for _, summary := range remote {
		open[summary.Slug] = summary
	}

	known := make(map[string]bool, len(local))
	for i := range local {
		room := local[i]
		known[room.Slug] = true

		// Finished rooms keep their row for the record but need no session.
		if room.Status.Terminal() {
			continue
		}

		summary, stillOpen := open[room.Slug]
		if !stillOpen {
			b.dropStale(ctx, &room)
			continue
		}

		// Catch up on any status change missed while disconnected before
		// the session starts delivering live events.
		if current := b.catchUp(ctx, &room, summary); current == nil {
			continue
		} else {
			room = *current
		}

		if err := b.Attach(ctx, &room); err != nil {
			b.logger.Warn("attaching room session failed",
				"room", room.Slug,
				"error", err,
			)
		}
	}

	for slug := range open {
		if !known[slug] {
			b.logger.Warn("remote room has no local record, leaving it alone",
				"room", slug,
				"org_id", orgID,
			)
		}
	}
}

// catchUp replays the remotely reported status through the synchronizer and
// returns the fresh row, or nil when the room needs no session anymore.
func (b *Binder) catchUp(ctx context.Context, room *models.RaceRoom, summary hosting.RoomSummary) *models.RaceRoom {
	if summary.Status == "" || summary.Status == string(room.Status) {
		return room
	}

	_, err := b.sync.Apply(ctx, room.Slug, hosting.Event{
		Room:   room.Slug,
		Type:   hosting.EventRaceStatus,
		Status: summary.Status,
	})
	if err != nil {
		b.logger.Warn("reconciling room status failed",
			"room", room.Slug,
			"error", err,
		)
		return room
	}

	fresh, err := b.sync.loadRoom(ctx, room.Slug)
	if err != nil {
		b.logger.Warn("reloading room after catch-up failed",
			"room", room.Slug,
			"error", err,
		)
		return room
	}
	if fresh == nil || fresh.Status.Terminal() {
		return nil
	}
	return fresh
}

// dropStale removes a local row whose remote room vanished while we were
// away. Expected after crashes, so it is a warning rather than an error,
// and the room is never recreated automatically.
func (b *Binder) dropStale(ctx context.Context, room *models.RaceRoom) {
	res := b.db.WithContext(ctx).Where("slug = ?", room.Slug).Delete(&models.RaceRoom{})
	if res.Error != nil {
		b.logger.Error("dropping stale room record failed",
			"room", room.Slug,
			"error", res.Error,
		)
		return
	}
	if res.RowsAffected == 0 {
		return
	}

	b.detach(room.Slug)

	attrs := []any{"room", room.Slug, "last_status", room.Status}
	if room.Bound() {
		attrs = append(attrs,
			"entity_kind", *room.BoundEntityKind,
			"entity_id", *room.BoundEntityID,
		)
	}
	b.logger.Warn("dropped stale room record, remote room is gone", attrs...)
}

// Attach connects to a room and starts its event loop with the handler
// variant its row calls for. Attaching an already attached room is a no-op,
// so reconciliation passes can call this blindly.
func (b *Binder) Attach(ctx context.Context, room *models.RaceRoom) error {
	if room.Status.Terminal() {
		return nil
	}

	b.mu.Lock()
	_, attached := b.sessions[room.Slug]
	b.mu.Unlock()
	if attached {
		return nil
	}

	client, err := b.hosting.For(ctx, room.OrganizationID)
	if err != nil {
		return fmt.Errorf("resolving hosting client: %w", err)
	}
	sess, err := client.Connect(ctx, room.Slug)
	if err != nil {
		return fmt.Errorf("connecting to room %s: %w", room.Slug, err)
	}

	handler := HandlerFor(room, sess, b.sync, b.logger)

	b.mu.Lock()
	if _, attached := b.sessions[room.Slug]; attached {
		b.mu.Unlock()
		_ = sess.Close()
		return nil
	}
	rs := &roomSession{slug: room.Slug, bound: room.Bound(), session: sess}
	b.sessions[room.Slug] = rs
	b.wg.Add(1)
	b.mu.Unlock()

	go b.runSession(rs, handler)

	b.logger.Info("attached room session",
		"room", room.Slug,
		"bound", rs.bound,
		"status", room.Status,
	)
	return nil
}

// runSession pumps one room's events through its handler until the
// connection dies or the handler declares the room done.
func (b *Binder) runSession(rs *roomSession, handler EventHandler) {
	defer b.wg.Done()
	defer b.remove(rs.slug)
	defer rs.session.Close()

	for ev := range rs.session.Events() {
		err := handler.HandleEvent(context.Background(), ev)
		switch {
		case err == nil:
		case errors.Is(err, ErrRoomClosed):
			b.logger.Info("room session complete", "room", rs.slug)
			return
		default:
			b.logger.Error("handling room event failed",
				"room", rs.slug,
				"event", ev.Type,
				"error", err,
			)
		}
	}

	if b.closing.Load() {
		b.logger.Debug("room session closed", "room", rs.slug)
		return
	}
	// The next reconciliation pass reattaches if the room is still open.
	b.logger.Warn("room session disconnected", "room", rs.slug)
}

// Sessions returns the slugs of rooms with a live session, sorted.
func (b *Binder) Sessions() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	slugs := make([]string, 0, len(b.sessions))
	for slug := range b.sessions {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)
	return slugs
}

// Close tears down every live session and waits for their loops to stop.
func (b *Binder) Close() {
	b.closing.Store(true)

	b.mu.Lock()
	sessions := make([]*roomSession, 0, len(b.sessions))
	for _, rs := range b.sessions {
		sessions = append(sessions, rs)
	}
	b.mu.Unlock()

	for _, rs := range sessions {
		_ = rs.session.Close()
	}
	b.wg.Wait()
}

// detach closes a room's session if one is live; its loop removes the map
// entry on exit.
func (b *Binder) detach(slug string) {
	b.mu.Lock()
	rs, ok := b.sessions[slug]
	b.mu.Unlock()
	if ok {
		_ = rs.session.Close()
	}
}

func (b *Binder) remove(slug string) {
	b.mu.Lock()
	delete(b.sessions, slug)
	b.mu.Unlock()
}
