// Command seed loads a small demo data set: a few users, two projects and a
// board of tasks. It writes straight to the configured backend, so point it
// at postgres; the memory driver would forget everything on exit.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/jwalitptl/projecthub/config"
	"github.com/jwalitptl/projecthub/internal/model"
	"github.com/jwalitptl/projecthub/internal/realtime"
	"github.com/jwalitptl/projecthub/internal/repository"
	"github.com/jwalitptl/projecthub/internal/repository/postgres"
	"github.com/jwalitptl/projecthub/pkg/logger"
	"github.com/jwalitptl/projecthub/pkg/messaging/redis"
	"github.com/jwalitptl/projecthub/pkg/metrics"
)

func main() {
	publish := flag.Bool("publish", false, "announce the new documents on the redis change feed")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	log := logger.NewLogger(&logger.Config{Level: logger.ParseLevel(cfg.Log.Level), TimeFormat: time.RFC3339})

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal(err, "failed to open database")
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db); err != nil {
		log.Fatal(err, "failed to migrate")
	}

	opts := repository.Options{Logger: log}
	if *publish {
		broker, err := redis.NewRedisBroker(ctx, cfg.Redis.ToBrokerConfig(), log.Zerolog(), metrics.New("seed"))
		if err != nil {
			log.Fatal(err, "failed to connect to Redis")
		}
		feed := realtime.NewBrokerFeed(broker, cfg.Redis.Channel, log)
		defer feed.Close()
		opts.Feed = feed
	}

	store := postgres.NewStore(db)
	if err := seed(ctx, store, opts, time.Now().UTC()); err != nil {
		log.Fatal(err, "seeding failed")
	}
	log.Info("seed data loaded")
}

func seed(ctx context.Context, backend repository.Backend, opts repository.Options, now time.Time) error {
	users := repository.New[model.User](model.UsersCollection, backend, model.UserCodec{}, opts)
	projects := repository.New[model.Project](model.ProjectsCollection, backend, model.ProjectCodec{}, opts)
	tasks := repository.New[model.Task](model.TasksCollection, backend, model.TaskCodec{}, opts)

	userIDs, err := users.CreateBatch(ctx, []model.User{
		{Name: "Maya Chen", Email: "maya@example.com", Role: model.RoleManager, Status: model.UserStatusActive, Department: "engineering"},
		{Name: "Leo Park", Email: "leo@example.com", Role: model.RoleDeveloper, Status: model.UserStatusActive, Department: "engineering", Skills: []string{"go", "postgres"}},
		{Name: "Ana Silva", Email: "ana@example.com", Role: model.RoleDesigner, Status: model.UserStatusActive, Department: "design"},
	})
	if err != nil {
		return fmt.Errorf("users: %w", err)
	}
	manager, dev, designer := userIDs[0], userIDs[1], userIDs[2]

	deadline := now.AddDate(0, 2, 0)
	projectIDs, err := projects.CreateBatch(ctx, []model.Project{
		{
			Name:      "Customer portal",
			Status:    model.ProjectActive,
			Priority:  model.PriorityHigh,
			Progress:  30,
			StartDate: now.AddDate(0, -1, 0),
			Deadline:  &deadline,
			Budget:    &model.Budget{Estimated: 40000, Currency: "USD"},
			ManagerID: manager,
			Tags:      []string{"web"},
			TeamMembers: []model.TeamMember{
				{UserID: dev, Role: model.MemberDeveloper, Allocation: 80, JoinedAt: now},
				{UserID: designer, Role: model.MemberDesigner, Allocation: 50, JoinedAt: now},
			},
		},
		{
			Name:      "Internal tooling",
			Status:    model.ProjectPlanning,
			Priority:  model.PriorityMedium,
			StartDate: now,
			ManagerID: manager,
			Tags:      []string{"ops"},
		},
	})
	if err != nil {
		return fmt.Errorf("projects: %w", err)
	}

	due := now.AddDate(0, 0, 7)
	board := []struct {
		title    string
		status   model.TaskStatus
		assignee string
	}{
		{"Sketch login flow", model.TaskCompleted, designer},
		{"Session handling", model.TaskInProgress, dev},
		{"Password reset emails", model.TaskTodo, dev},
		{"Accessibility review", model.TaskReview, designer},
		{"Load test the API", model.TaskTodo, ""},
	}
	batch := make([]model.Task, 0, len(board))
	for i, b := range board {
		t := model.Task{
			ProjectID:  projectIDs[0],
			Title:      b.title,
			Status:     b.status,
			Priority:   model.PriorityMedium,
			AssigneeID: b.assignee,
			ReporterID: manager,
			DueDate:    &due,
			Position:   float64(i+1) * 1024,
		}
		if b.status == model.TaskCompleted {
			t.CompletedAt = &now
		}
		batch = append(batch, t)
	}
	if _, err := tasks.CreateBatch(ctx, batch); err != nil {
		return fmt.Errorf("tasks: %w", err)
	}
	return nil
}
