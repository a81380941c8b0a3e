package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"slotkeeper/internal/config"
	"slotkeeper/internal/database"
	"slotkeeper/internal/domain"
)

type OwnersConfig struct {
	Owners []config.OwnerConfig `yaml:"owners"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	var (
		ownersPath = flag.String("owners", "configs/owners.yaml", "path to owners.yaml")
		dbPath     = flag.String("db", "./data/slotkeeper.db", "path to sqlite db")
		dryRun     = flag.Bool("dry-run", false, "validate only, do not write")
	)
	flag.Parse()

	data, err := os.ReadFile(*ownersPath)
	if err != nil {
		return fmt.Errorf("read owners: %w", err)
	}
	var cfg OwnersConfig
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parse owners: %w", err)
	}
	if len(cfg.Owners) == 0 {
		return fmt.Errorf("no owners in yaml")
	}
	if err = config.ValidateOwners(cfg.Owners); err != nil {
		return err
	}
	if *dryRun {
		fmt.Printf("ok: %d owners valid\n", len(cfg.Owners))
		return nil
	}

	db, err := database.NewDB(*dbPath, &logger)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	created := 0
	updated := 0
	for _, oc := range cfg.Owners {
		owner, err := oc.ToModel()
		if err != nil {
			return err
		}

		_, err = db.GetOwner(ctx, owner.ID)
		switch {
		case err == nil:
			updated++
		case errors.Is(err, domain.ErrNotFound):
			created++
		default:
			return fmt.Errorf("get %s: %w", owner.ID, err)
		}
		if err = db.UpsertOwner(ctx, owner); err != nil {
			return fmt.Errorf("upsert %s: %w", owner.ID, err)
		}
	}

	fmt.Printf("done: created=%d updated=%d\n", created, updated)
	return nil
}
