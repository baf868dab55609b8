package rooms

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracklab/podium/internal/database/models"
	"github.com/tracklab/podium/internal/hosting"
	"github.com/tracklab/podium/internal/testutil"
)

func intPtr(v int) *int { return &v }

func TestSynchronizerMirrorsStatusForUnboundRoom(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)
	ctx := testutil.TestContext(t)

	org := testutil.CreateTestOrg(t, db)
	testutil.CreateTestRoom(t, db, org.ID, "swe-1/banzai-bingo-1234", models.RoomStatusPending)

	sync := newTestSynchronizer(db)

	for _, status := range []string{hosting.StatusOpen, hosting.StatusInProgress, hosting.StatusFinished} {
		tr, err := sync.Apply(ctx, "swe-1/banzai-bingo-1234", hosting.Event{
			Type:   hosting.EventRaceStatus,
			Status: status,
			SentAt: time.Now().UTC(),
		})
		require.NoError(t, err)
		assert.True(t, tr.Applied, "transition to %s should apply", status)
	}

	var room models.RaceRoom
	require.NoError(t, db.Where("slug = ?", "swe-1/banzai-bingo-1234").First(&room).Error)
	assert.Equal(t, models.RoomStatusFinished, room.Status)
}

func TestSynchronizerIgnoresBackwardStatus(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)
	ctx := testutil.TestContext(t)

	org := testutil.CreateTestOrg(t, db)
	testutil.CreateTestRoom(t, db, org.ID, "swe-1/late-echo-0001", models.RoomStatusFinished)

	sync := newTestSynchronizer(db)

	tr, err := sync.Apply(ctx, "swe-1/late-echo-0001", hosting.Event{
		Type:   hosting.EventRaceStatus,
		Status: hosting.StatusOpen,
		SentAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.False(t, tr.Applied)

	var room models.RaceRoom
	require.NoError(t, db.Where("slug = ?", "swe-1/late-echo-0001").First(&room).Error)
	assert.Equal(t, models.RoomStatusFinished, room.Status, "a stale status must never revert the row")
}

func TestSynchronizerIgnoresUnknownStatus(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)
	ctx := testutil.TestContext(t)

	org := testutil.CreateTestOrg(t, db)
	testutil.CreateTestRoom(t, db, org.ID, "swe-1/odd-status-0002", models.RoomStatusOpen)

	sync := newTestSynchronizer(db)

	tr, err := sync.Apply(ctx, "swe-1/odd-status-0002", hosting.Event{
		Type:   hosting.EventRaceStatus,
		Status: "paused",
	})
	require.NoError(t, err)
	assert.False(t, tr.Applied)

	var room models.RaceRoom
	require.NoError(t, db.Where("slug = ?", "swe-1/odd-status-0002").First(&room).Error)
	assert.Equal(t, models.RoomStatusOpen, room.Status)
}

func TestSynchronizerDropsEventForUnknownRoom(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)
	ctx := testutil.TestContext(t)

	sync := newTestSynchronizer(db)

	tr, err := sync.Apply(ctx, "swe-1/never-existed", hosting.Event{
		Type:   hosting.EventRaceStatus,
		Status: hosting.StatusFinished,
	})
	require.NoError(t, err)
	assert.False(t, tr.Applied)
	assert.False(t, tr.Deleted)
}

func TestSynchronizerAdvancesBoundMatchLifecycle(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)
	ctx := testutil.TestContext(t)

	org := testutil.CreateTestOrg(t, db)
	match := testutil.CreateTestMatch(t, db, org.ID, "Winners Final", time.Now().UTC(), "alice", "bob")
	testutil.CreateBoundTestRoom(t, db, org.ID, "swe-1/final-0003", models.RoomStatusPending,
		models.BoundKindMatch, match.ID)

	sync := newTestSynchronizer(db)

	opened := time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)
	started := opened.Add(15 * time.Minute)
	finished := opened.Add(90 * time.Minute)

	_, err := sync.Apply(ctx, "swe-1/final-0003", hosting.Event{
		Type: hosting.EventRaceStatus, Status: hosting.StatusOpen, SentAt: opened,
	})
	require.NoError(t, err)

	_, err = sync.Apply(ctx, "swe-1/final-0003", hosting.Event{
		Type: hosting.EventRaceStatus, Status: hosting.StatusInProgress, SentAt: started,
	})
	require.NoError(t, err)

	_, err = sync.Apply(ctx, "swe-1/final-0003", hosting.Event{
		Type:   hosting.EventRaceStatus,
		Status: hosting.StatusFinished,
		SentAt: finished,
		Entrants: []hosting.Entrant{
			{Name: "alice", FinishRank: intPtr(1), FinishedAt: &finished},
			{Name: "bob", FinishRank: intPtr(2), FinishedAt: &finished},
		},
	})
	require.NoError(t, err)

	var got models.Match
	require.NoError(t, db.Preload("Players").First(&got, "id = ?", match.ID).Error)
	require.NotNil(t, got.CheckedInAt)
	require.NotNil(t, got.StartedAt)
	require.NotNil(t, got.FinishedAt)
	assert.WithinDuration(t, opened, *got.CheckedInAt, time.Second)
	assert.WithinDuration(t, started, *got.StartedAt, time.Second)
	assert.WithinDuration(t, finished, *got.FinishedAt, time.Second)

	ranks := map[string]int{}
	for _, p := range got.Players {
		require.NotNil(t, p.FinishRank, "player %s should have a rank", p.Name)
		ranks[p.Name] = *p.FinishRank
	}
	assert.Equal(t, map[string]int{"alice": 1, "bob": 2}, ranks)
}

func TestSynchronizerReplayedFinishIsIdempotent(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)
	ctx := testutil.TestContext(t)

	org := testutil.CreateTestOrg(t, db)
	match := testutil.CreateTestMatch(t, db, org.ID, "Losers Round 1", time.Now().UTC(), "carol", "dave")
	testutil.CreateBoundTestRoom(t, db, org.ID, "swe-1/replay-0004", models.RoomStatusInProgress,
		models.BoundKindMatch, match.ID)

	sync := newTestSynchronizer(db)

	finished := time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC)
	ev := hosting.Event{
		Type:   hosting.EventRaceStatus,
		Status: hosting.StatusFinished,
		SentAt: finished,
		Entrants: []hosting.Entrant{
			{Name: "carol", FinishRank: intPtr(1), FinishedAt: &finished},
			{Name: "dave", FinishRank: intPtr(2), FinishedAt: &finished},
		},
	}

	tr, err := sync.Apply(ctx, "swe-1/replay-0004", ev)
	require.NoError(t, err)
	assert.True(t, tr.Applied)

	var first models.Match
	require.NoError(t, db.Preload("Players").First(&first, "id = ?", match.ID).Error)

	// Replay the same event, then one with different ranks. Neither may
	// change anything: the first write wins.
	tr, err = sync.Apply(ctx, "swe-1/replay-0004", ev)
	require.NoError(t, err)
	assert.False(t, tr.Applied)

	later := finished.Add(time.Hour)
	_, err = sync.Apply(ctx, "swe-1/replay-0004", hosting.Event{
		Type:   hosting.EventRaceStatus,
		Status: hosting.StatusFinished,
		SentAt: later,
		Entrants: []hosting.Entrant{
			{Name: "carol", FinishRank: intPtr(2), FinishedAt: &later},
			{Name: "dave", FinishRank: intPtr(1), FinishedAt: &later},
		},
	})
	require.NoError(t, err)

	var second models.Match
	require.NoError(t, db.Preload("Players").First(&second, "id = ?", match.ID).Error)
	require.NotNil(t, second.FinishedAt)
	assert.WithinDuration(t, *first.FinishedAt, *second.FinishedAt, time.Second)

	firstRanks := map[string]int{}
	for _, p := range first.Players {
		require.NotNil(t, p.FinishRank)
		firstRanks[p.Name] = *p.FinishRank
	}
	for _, p := range second.Players {
		require.NotNil(t, p.FinishRank)
		assert.Equal(t, firstRanks[p.Name], *p.FinishRank,
			"replay must not change %s's rank", p.Name)
	}
}

func TestSynchronizerCancellationDeletesRowAndSparesEntity(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)
	ctx := testutil.TestContext(t)

	org := testutil.CreateTestOrg(t, db)
	match := testutil.CreateTestMatch(t, db, org.ID, "Grand Final", time.Now().UTC(), "erin", "frank")
	testutil.CreateBoundTestRoom(t, db, org.ID, "swe-1/cancel-0005", models.RoomStatusOpen,
		models.BoundKindMatch, match.ID)

	sync := newTestSynchronizer(db)

	tr, err := sync.Apply(ctx, "swe-1/cancel-0005", hosting.Event{
		Type:   hosting.EventRaceStatus,
		Status: hosting.StatusCancelled,
		SentAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.True(t, tr.Deleted)

	var count int64
	require.NoError(t, db.Model(&models.RaceRoom{}).Where("slug = ?", "swe-1/cancel-0005").Count(&count).Error)
	assert.Zero(t, count, "cancelled room row must be deleted")

	// The match itself stays schedulable: a fresh room can be opened later.
	var got models.Match
	require.NoError(t, db.First(&got, "id = ?", match.ID).Error)
	assert.Nil(t, got.FinishedAt)
	assert.Nil(t, got.CheckedInAt)

	// A replayed cancellation finds no row and is a quiet no-op.
	tr, err = sync.Apply(ctx, "swe-1/cancel-0005", hosting.Event{
		Type:   hosting.EventRaceStatus,
		Status: hosting.StatusCancelled,
	})
	require.NoError(t, err)
	assert.False(t, tr.Deleted)
}

func TestSynchronizerEntrantsCheckInLiveRace(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)
	ctx := testutil.TestContext(t)

	org := testutil.CreateTestOrg(t, db)
	race := testutil.CreateTestLiveRace(t, db, org.ID, "Community Weekly", time.Now().UTC())
	testutil.CreateBoundTestRoom(t, db, org.ID, "swe-1/weekly-0006", models.RoomStatusOpen,
		models.BoundKindLiveRace, race.ID)

	sync := newTestSynchronizer(db)

	joined := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	_, err := sync.Apply(ctx, "swe-1/weekly-0006", hosting.Event{
		Type:     hosting.EventEntrants,
		SentAt:   joined,
		Entrants: []hosting.Entrant{{Name: "grace"}, {Name: "heidi"}},
	})
	require.NoError(t, err)

	// More entrants arrive; existing names must not duplicate.
	_, err = sync.Apply(ctx, "swe-1/weekly-0006", hosting.Event{
		Type:     hosting.EventEntrants,
		SentAt:   joined.Add(time.Minute),
		Entrants: []hosting.Entrant{{Name: "grace"}, {Name: "heidi"}, {Name: "ivan"}},
	})
	require.NoError(t, err)

	var got models.LiveRace
	require.NoError(t, db.First(&got, "id = ?", race.ID).Error)
	require.NotNil(t, got.CheckedInAt)
	assert.WithinDuration(t, joined, *got.CheckedInAt, time.Second, "check-in keeps the first event's time")

	var entrants []models.LiveRaceEntrant
	require.NoError(t, db.Where("live_race_id = ?", race.ID).Find(&entrants).Error)
	assert.Len(t, entrants, 3)
}

func TestSynchronizerEntrantsIgnoredOnceRaceStarted(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)
	ctx := testutil.TestContext(t)

	org := testutil.CreateTestOrg(t, db)
	race := testutil.CreateTestLiveRace(t, db, org.ID, "Late Joiners", time.Now().UTC())
	testutil.CreateBoundTestRoom(t, db, org.ID, "swe-1/started-0007", models.RoomStatusInProgress,
		models.BoundKindLiveRace, race.ID)

	sync := newTestSynchronizer(db)

	_, err := sync.Apply(ctx, "swe-1/started-0007", hosting.Event{
		Type:     hosting.EventEntrants,
		Entrants: []hosting.Entrant{{Name: "judy"}},
	})
	require.NoError(t, err)

	var count int64
	require.NoError(t, db.Model(&models.LiveRaceEntrant{}).Where("live_race_id = ?", race.ID).Count(&count).Error)
	assert.Zero(t, count, "entrant churn after the start carries no check-in meaning")
}

func TestSynchronizerRecordsIndividualFinishes(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)
	ctx := testutil.TestContext(t)

	org := testutil.CreateTestOrg(t, db)
	match := testutil.CreateTestMatch(t, db, org.ID, "Semifinal", time.Now().UTC(), "kim", "lee")
	testutil.CreateBoundTestRoom(t, db, org.ID, "swe-1/finish-0008", models.RoomStatusInProgress,
		models.BoundKindMatch, match.ID)

	sync := newTestSynchronizer(db)

	crossed := time.Date(2026, 3, 16, 9, 30, 0, 0, time.UTC)
	_, err := sync.Apply(ctx, "swe-1/finish-0008", hosting.Event{
		Type:     hosting.EventEntrantFinish,
		SentAt:   crossed,
		Entrants: []hosting.Entrant{{Name: "kim", FinishRank: intPtr(1), FinishedAt: &crossed}},
	})
	require.NoError(t, err)

	// A contradictory replay must not move the recorded rank.
	_, err = sync.Apply(ctx, "swe-1/finish-0008", hosting.Event{
		Type:     hosting.EventEntrantFinish,
		Entrants: []hosting.Entrant{{Name: "kim", FinishRank: intPtr(2)}},
	})
	require.NoError(t, err)

	var players []models.MatchPlayer
	require.NoError(t, db.Where("match_id = ?", match.ID).Order("name").Find(&players).Error)
	require.Len(t, players, 2)

	require.NotNil(t, players[0].FinishRank)
	assert.Equal(t, 1, *players[0].FinishRank)
	require.NotNil(t, players[0].FinishedAt)
	assert.WithinDuration(t, crossed, *players[0].FinishedAt, time.Second)

	assert.Nil(t, players[1].FinishRank, "lee has not finished yet")
}

func TestSynchronizerUnboundRoomTouchesNoEntities(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)
	ctx := testutil.TestContext(t)

	org := testutil.CreateTestOrg(t, db)
	testutil.CreateTestRoom(t, db, org.ID, "swe-1/casual-0009", models.RoomStatusOpen)

	sync := newTestSynchronizer(db)

	_, err := sync.Apply(ctx, "swe-1/casual-0009", hosting.Event{
		Type:     hosting.EventEntrants,
		Entrants: []hosting.Entrant{{Name: "mallory"}},
	})
	require.NoError(t, err)

	finished := time.Now().UTC()
	tr, err := sync.Apply(ctx, "swe-1/casual-0009", hosting.Event{
		Type:     hosting.EventRaceStatus,
		Status:   hosting.StatusFinished,
		SentAt:   finished,
		Entrants: []hosting.Entrant{{Name: "mallory", FinishRank: intPtr(1)}},
	})
	require.NoError(t, err)
	assert.True(t, tr.Applied)

	var entrants int64
	require.NoError(t, db.Model(&models.LiveRaceEntrant{}).Count(&entrants).Error)
	assert.Zero(t, entrants, "a standalone room must not write entity rows")
}
