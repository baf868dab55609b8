//go:build ignore

package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/tracklab/podium/internal/database"
	"github.com/tracklab/podium/internal/database/models"
	"github.com/tracklab/podium/internal/schedule"
	"github.com/tracklab/podium/internal/tasks"
	"github.com/tracklab/podium/pkg/config"
	"github.com/tracklab/podium/pkg/crypto"
	"github.com/tracklab/podium/pkg/util"
)

// Seeds a development database: one organization with a hosting credential,
// one task of each schedule type, two matches and a live race episode.
// Run with: go run scripts/seed.go
func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Server.Env)

	db, err := database.Connect(&cfg.Database, logger)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := database.AutoMigrate(db); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	org := &models.Organization{
		Name: "Kaizo Weekly",
		Slug: "kaizo-weekly",
	}
	if err := db.Where("slug = ?", org.Slug).FirstOrCreate(org).Error; err != nil {
		log.Fatalf("failed to create organization: %v", err)
	}

	encryptor, err := crypto.NewEncryptor(cfg.Encryption.Key)
	if err != nil {
		log.Fatalf("failed to create encryptor: %v", err)
	}

	clientID := os.Getenv("SEED_HOSTING_CLIENT_ID")
	clientSecret := os.Getenv("SEED_HOSTING_CLIENT_SECRET")
	if clientID == "" {
		clientID = "dev-client-id"
	}
	if clientSecret == "" {
		clientSecret = "dev-client-secret"
	}

	secret, err := encryptor.Encrypt([]byte(clientSecret))
	if err != nil {
		log.Fatalf("failed to encrypt hosting secret: %v", err)
	}

	cred := &models.HostingCredential{
		OrganizationID:  org.ID,
		Name:            "Kaizo Weekly Bot",
		Category:        "smw",
		ClientID:        clientID,
		EncryptedSecret: secret,
		IsActive:        true,
	}
	if err := db.Where("organization_id = ? AND client_id = ?", org.ID, clientID).
		FirstOrCreate(cred).Error; err != nil {
		log.Fatalf("failed to create hosting credential: %v", err)
	}

	now := time.Now().UTC()
	oneTimeAt := now.Add(48 * time.Hour)

	seedTasks := []*models.ScheduledTask{
		{
			OrganizationID: org.ID,
			Name:           "Weekly race room",
			ScheduleType:   models.ScheduleCron,
			CronExpr:       "0 19 * * 6",
			TaskType:       tasks.TypeOpenRoom,
			Config:         `{"goal":"any%","info":"Kaizo Weekly"}`,
			IsActive:       true,
		},
		{
			OrganizationID:  org.ID,
			Name:            "Match room sweep",
			ScheduleType:    models.ScheduleInterval,
			IntervalSeconds: 600,
			TaskType:        tasks.TypeMatchRoomSweep,
			Config:          `{"goal":"any%","lead_minutes":30}`,
			IsActive:        true,
		},
		{
			OrganizationID: org.ID,
			Name:           "Season finale room",
			ScheduleType:   models.ScheduleOneTime,
			ScheduledAt:    &oneTimeAt,
			TaskType:       tasks.TypeOpenRoom,
			Config:         `{"goal":"beat the game","info":"Season Finale","unlisted":true}`,
			IsActive:       true,
		},
	}

	for _, task := range seedTasks {
		if err := task.ValidateSchedule(); err != nil {
			log.Fatalf("seed task %q is invalid: %v", task.Name, err)
		}
		spec, err := schedule.FromTask(task)
		if err != nil {
			log.Fatalf("seed task %q schedule: %v", task.Name, err)
		}
		if next, ok := schedule.NextRun(spec, now); ok {
			task.NextRunAt = &next
		}
		if err := db.Where("organization_id = ? AND name = ?", org.ID, task.Name).
			FirstOrCreate(task).Error; err != nil {
			log.Fatalf("failed to create task %q: %v", task.Name, err)
		}
	}

	matchAt := now.Add(20 * time.Minute)
	laterAt := now.Add(3 * time.Hour)
	matches := []struct {
		name    string
		round   string
		at      time.Time
		players []string
	}{
		{"Winners Semifinal 1", "Winners Semifinal", matchAt, []string{"alice", "bob"}},
		{"Winners Semifinal 2", "Winners Semifinal", laterAt, []string{"carol", "dave"}},
	}

	for _, m := range matches {
		match := &models.Match{
			OrganizationID: org.ID,
			Name:           m.name,
			Round:          m.round,
			ScheduledAt:    &m.at,
		}
		if err := db.Where("organization_id = ? AND name = ?", org.ID, m.name).
			FirstOrCreate(match).Error; err != nil {
			log.Fatalf("failed to create match %q: %v", m.name, err)
		}
		for _, player := range m.players {
			p := &models.MatchPlayer{
				Base:    models.Base{ID: uuid.New()},
				MatchID: match.ID,
				Name:    player,
			}
			if err := db.Where("match_id = ? AND name = ?", match.ID, player).
				FirstOrCreate(p).Error; err != nil {
				log.Fatalf("failed to create player %q: %v", player, err)
			}
		}
	}

	raceAt := now.Add(24 * time.Hour)
	race := &models.LiveRace{
		OrganizationID: org.ID,
		Title:          "Kaizo Weekly",
		Episode:        "S3E07",
		ScheduledAt:    &raceAt,
	}
	if err := db.Where("organization_id = ? AND title = ? AND episode = ?", org.ID, race.Title, race.Episode).
		FirstOrCreate(race).Error; err != nil {
		log.Fatalf("failed to create live race: %v", err)
	}

	fmt.Printf("Seeded organization %q (%s)\n", org.Name, org.ID)
	fmt.Printf("  hosting credential: %s (category %s)\n", cred.ClientID, cred.Category)
	fmt.Printf("  %d tasks, %d matches, 1 live race\n", len(seedTasks), len(matches))
}
