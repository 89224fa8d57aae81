package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/platinummonkey/hrm/pkg/config"
	"github.com/platinummonkey/hrm/pkg/database"
	"github.com/platinummonkey/hrm/pkg/observability"
	"github.com/platinummonkey/hrm/pkg/seed"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	file := flag.String("file", "", "Seed catalog to apply (defaults to HRM_SEED_FILE)")
	builtin := flag.Bool("builtin", false, "Apply the built-in catalog instead of a file")
	adminEmail := flag.String("admin-email", "", "Also create a superuser account with this email; password is read from HRM_SEED_ADMIN_PASSWORD")
	adminName := flag.String("admin-name", "Admin User", "Name of the account created by -admin-email")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	var catalog *seed.Catalog
	if *builtin {
		catalog, err = seed.Default()
	} else {
		path := *file
		if path == "" {
			path = cfg.SeedFile
		}
		logger.WithField("file", path).Info("Loading seed catalog")
		catalog, err = seed.Load(path)
	}
	if err != nil {
		return err
	}

	if *adminEmail != "" {
		role := ""
		for _, r := range catalog.Roles {
			if r.Superuser {
				role = r.Name
				break
			}
		}
		if role == "" {
			return fmt.Errorf("catalog has no superuser role for %s", *adminEmail)
		}
		catalog.Users = append(catalog.Users, seed.UserSpec{
			Name:               *adminName,
			Email:              *adminEmail,
			Password:           os.Getenv("HRM_SEED_ADMIN_PASSWORD"),
			Role:               role,
			MustChangePassword: true,
		})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	if cfg.Database.MigrateOnStart {
		if err := database.Migrate(ctx, db); err != nil {
			return err
		}
	}

	result, err := seed.NewSeeder(db, logger).Apply(ctx, catalog)
	if err != nil {
		return err
	}
	fmt.Printf("Seeded %d permissions, %d roles, %d new users (%d already present)\n",
		result.Permissions, result.Roles, result.UsersCreated, result.UsersSkipped)
	return nil
}
