package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"
	"github.com/ilyakaznacheev/cleanenv"

	"github.com/examkit/alloc-engine/pkg/allocengine"
	"github.com/examkit/alloc-engine/pkg/allocengine/config"
)

// AdminConfig is read from the environment with cleanenv.
type AdminConfig struct {
	DatabaseURL       string  `env:"DATABASE_URL" env-default:""`
	DBSchema          string  `env:"DB_SCHEMA" env-default:"alloc"`
	MaxOverlapPercent float64 `env:"MAX_OVERLAP_PERCENT" env-default:"10"`
	MinFreshPercent   float64 `env:"MIN_FRESH_PERCENT" env-default:"80"`
}

func main() {
	var cfg AdminConfig
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		log.Fatalf("Failed to read environment: %v", err)
	}

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	svc, err := buildService(cfg)
	if err != nil {
		log.Fatalf("Failed to build service: %v", err)
	}

	ctx := context.Background()
	switch os.Args[1] {
	case "seed":
		err = runSeed(ctx, svc, os.Args[2:])
	case "allocate":
		err = runAllocate(ctx, svc, os.Args[2:])
	case "ping":
		err = config.PingPostgres(cfg.DatabaseURL, cfg.DBSchema)
		if err == nil {
			fmt.Println("database ok")
		}
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("%s failed: %v", os.Args[1], err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: admin <command> [flags]

commands:
  seed      -count N [-category UUID]   create N active questions
  allocate  -count N [-category UUID]   dry-run an auto selection
  ping                                  verify database connectivity`)
}

func buildService(cfg AdminConfig) (allocengine.Service, error) {
	opts := []config.Option{config.WithEnv("")}
	serverConfig, err := config.Load(opts...)
	if err != nil {
		return nil, err
	}
	serverConfig.MaxOverlapPercent = cfg.MaxOverlapPercent
	serverConfig.MinFreshPercent = cfg.MinFreshPercent
	return serverConfig.BuildService()
}

func runSeed(ctx context.Context, svc allocengine.Service, args []string) error {
	fs := flag.NewFlagSet("seed", flag.ExitOnError)
	count := fs.Int("count", 10, "number of questions to create")
	category := fs.String("category", "", "category UUID")
	fs.Parse(args)

	categoryID, err := parseCategory(*category)
	if err != nil {
		return err
	}

	for i := 0; i < *count; i++ {
		q, err := svc.CreateQuestion(ctx, allocengine.CreateQuestionRequest{
			CategoryID: categoryID,
			Text:       fmt.Sprintf("Seeded question %d", i+1),
		})
		if err != nil {
			return err
		}
		fmt.Println(q.ID)
	}
	return nil
}

func runAllocate(ctx context.Context, svc allocengine.Service, args []string) error {
	fs := flag.NewFlagSet("allocate", flag.ExitOnError)
	count := fs.Int("count", 10, "number of items to select")
	category := fs.String("category", "", "category UUID")
	fs.Parse(args)

	categoryID, err := parseCategory(*category)
	if err != nil {
		return err
	}

	req := allocengine.AllocateRequest{Mode: allocengine.ModeAutoAny, Count: *count}
	if categoryID != nil {
		req.Mode = allocengine.ModeAutoCategory
		req.CategoryID = categoryID
	}

	sel, err := svc.Allocate(ctx, req)
	if err != nil {
		return err
	}

	fmt.Printf("selected %d items (%d fresh, %d reused)\n", len(sel.ItemIDs), sel.FreshCount, sel.ReusedCount)
	for _, id := range sel.ItemIDs {
		fmt.Println(id)
	}
	return nil
}

func parseCategory(s string) (*uuid.UUID, error) {
	if s == "" {
		return nil, nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("invalid category UUID %q: %w", s, err)
	}
	return &id, nil
}
