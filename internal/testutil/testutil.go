package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tracklab/podium/internal/database/models"
	"github.com/tracklab/podium/pkg/crypto"
)

// SetupTestDB creates an in-memory SQLite database for testing
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	// Run migrations
	err = db.AutoMigrate(
		&models.Organization{},
		&models.HostingCredential{},
		&models.ScheduledTask{},
		&models.Match{},
		&models.MatchPlayer{},
		&models.LiveRace{},
		&models.LiveRaceEntrant{},
		&models.RaceRoom{},
	)
	if err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	return db
}

// CleanupTestDB closes the test database connection
func CleanupTestDB(t *testing.T, db *gorm.DB) {
	t.Helper()
	sqlDB, err := db.DB()
	if err != nil {
		t.Logf("warning: failed to get sql.DB: %v", err)
		return
	}
	sqlDB.Close()
}

// CreateTestOrg creates a test organization
func CreateTestOrg(t *testing.T, db *gorm.DB) *models.Organization {
	t.Helper()

	org := &models.Organization{
		Base: models.Base{
			ID: uuid.New(),
		},
		Name: "Test Tournament",
		Slug: "test-org-" + uuid.New().String()[:8],
	}

	if err := db.Create(org).Error; err != nil {
		t.Fatalf("failed to create test organization: %v", err)
	}

	return org
}

// CreateTestTask creates an active interval task due at nextRunAt
func CreateTestTask(t *testing.T, db *gorm.DB, orgID uuid.UUID, name, taskType string, nextRunAt time.Time) *models.ScheduledTask {
	t.Helper()

	task := &models.ScheduledTask{
		Base: models.Base{
			ID: uuid.New(),
		},
		OrganizationID:  orgID,
		Name:            name,
		ScheduleType:    models.ScheduleInterval,
		IntervalSeconds: 300,
		TaskType:        taskType,
		Config:          "{}",
		IsActive:        true,
		NextRunAt:       &nextRunAt,
		LastRunStatus:   models.RunStatusIdle,
	}

	if err := db.Create(task).Error; err != nil {
		t.Fatalf("failed to create test task: %v", err)
	}

	return task
}

// CreateTestMatch creates a match with one player row per name
func CreateTestMatch(t *testing.T, db *gorm.DB, orgID uuid.UUID, name string, scheduledAt time.Time, players ...string) *models.Match {
	t.Helper()

	match := &models.Match{
		Base: models.Base{
			ID: uuid.New(),
		},
		OrganizationID: orgID,
		Name:           name,
		ScheduledAt:    &scheduledAt,
	}

	if err := db.Create(match).Error; err != nil {
		t.Fatalf("failed to create test match: %v", err)
	}

	for _, player := range players {
		p := &models.MatchPlayer{
			Base:    models.Base{ID: uuid.New()},
			MatchID: match.ID,
			Name:    player,
		}
		if err := db.Create(p).Error; err != nil {
			t.Fatalf("failed to create test match player: %v", err)
		}
		match.Players = append(match.Players, *p)
	}

	return match
}

// CreateTestLiveRace creates a live race episode without entrants
func CreateTestLiveRace(t *testing.T, db *gorm.DB, orgID uuid.UUID, title string, scheduledAt time.Time) *models.LiveRace {
	t.Helper()

	race := &models.LiveRace{
		Base: models.Base{
			ID: uuid.New(),
		},
		OrganizationID: orgID,
		Title:          title,
		ScheduledAt:    &scheduledAt,
	}

	if err := db.Create(race).Error; err != nil {
		t.Fatalf("failed to create test live race: %v", err)
	}

	return race
}

// CreateTestRoom creates an unbound room record
func CreateTestRoom(t *testing.T, db *gorm.DB, orgID uuid.UUID, slug string, status models.RoomStatus) *models.RaceRoom {
	t.Helper()

	room := &models.RaceRoom{
		Slug:           slug,
		OrganizationID: orgID,
		Category:       "smw",
		Status:         status,
		Goal:           "any%",
		OpenedAt:       time.Now().UTC(),
	}

	if err := db.Create(room).Error; err != nil {
		t.Fatalf("failed to create test room: %v", err)
	}

	return room
}

// CreateBoundTestRoom creates a room record bound to a match or live race
func CreateBoundTestRoom(t *testing.T, db *gorm.DB, orgID uuid.UUID, slug string, status models.RoomStatus, kind models.BoundKind, entityID uuid.UUID) *models.RaceRoom {
	t.Helper()

	room := &models.RaceRoom{
		Slug:            slug,
		OrganizationID:  orgID,
		Category:        "smw",
		BoundEntityID:   &entityID,
		BoundEntityKind: &kind,
		Status:          status,
		Goal:            "any%",
		OpenedAt:        time.Now().UTC(),
	}

	if err := db.Create(room).Error; err != nil {
		t.Fatalf("failed to create bound test room: %v", err)
	}

	return room
}

// CreateTestCredential creates an active hosting credential with an
// encrypted secret
func CreateTestCredential(t *testing.T, db *gorm.DB, encryptor *crypto.Encryptor, orgID uuid.UUID, category string) *models.HostingCredential {
	t.Helper()

	secret, err := encryptor.Encrypt([]byte("test-client-secret"))
	if err != nil {
		t.Fatalf("failed to encrypt test secret: %v", err)
	}

	cred := &models.HostingCredential{
		Base: models.Base{
			ID: uuid.New(),
		},
		OrganizationID:  orgID,
		Name:            "Test Hosting Bot",
		Category:        category,
		ClientID:        "test-client-id",
		EncryptedSecret: secret,
		IsActive:        true,
	}

	if err := db.Create(cred).Error; err != nil {
		t.Fatalf("failed to create test credential: %v", err)
	}

	return cred
}

// TestContext creates a context with a timeout for tests
func TestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// AuthenticatedRequest creates an HTTP request with a bearer token
func AuthenticatedRequest(t *testing.T, method, path string, body interface{}, token string) *http.Request {
	t.Helper()

	var reqBody *bytes.Buffer
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return req
}

// UnauthenticatedRequest creates an HTTP request without authentication
func UnauthenticatedRequest(t *testing.T, method, path string, body interface{}) *http.Request {
	t.Helper()
	return AuthenticatedRequest(t, method, path, body, "")
}

// AssertStatus checks if the response has the expected status code
func AssertStatus(t *testing.T, rr *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if rr.Code != expected {
		t.Errorf("expected status %d, got %d. Body: %s", expected, rr.Code, rr.Body.String())
	}
}

// ParseJSONResponse parses the response body into the given struct
func ParseJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()

	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to parse response body: %v. Body: %s", err, rr.Body.String())
	}
}

// TestSetup holds the common test dependencies
type TestSetup struct {
	DB  *gorm.DB
	Org *models.Organization
}

// NewTestContext creates a complete test setup with DB and org
func NewTestContext(t *testing.T) *TestSetup {
	t.Helper()

	db := SetupTestDB(t)
	org := CreateTestOrg(t, db)

	return &TestSetup{
		DB:  db,
		Org: org,
	}
}

// Cleanup closes the test database
func (ts *TestSetup) Cleanup() {
	if ts.DB != nil {
		sqlDB, err := ts.DB.DB()
		if err == nil {
			sqlDB.Close()
		}
	}
}
