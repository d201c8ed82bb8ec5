package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/spf13/cobra"
	"github.com/vocanalytics/voc/internal/auth"
	"github.com/vocanalytics/voc/internal/config"
	"github.com/vocanalytics/voc/internal/database"
	"github.com/vocanalytics/voc/internal/logger"
	"github.com/vocanalytics/voc/internal/model"
	"github.com/vocanalytics/voc/internal/repository"
	"github.com/vocanalytics/voc/internal/service"
)

var migrationsDir string

var rootCmd = &cobra.Command{
	Use:          "migrate",
	Short:        "Database migration tool for the VOC analytics API",
	SilenceUsage: true,
}

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Run all pending migrations",
	RunE:  runUp,
}

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Rollback the last migration",
	RunE:  runDown,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show migration status",
	RunE:  runStatus,
}

var createCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Create a new migration file",
	Args:  cobra.ExactArgs(1),
	RunE:  runCreate,
}

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap-admin",
	Short: "Create the first administrator when none exists",
	RunE:  runBootstrap,
}

var bootstrapOpts struct {
	email    string
	username string
	fullName string
	password string
}

func init() {
	rootCmd.PersistentFlags().StringVar(&migrationsDir, "path", "migrations", "migrations directory")

	bootstrapCmd.Flags().StringVar(&bootstrapOpts.email, "email", "", "administrator email")
	bootstrapCmd.Flags().StringVar(&bootstrapOpts.username, "username", "admin", "administrator username")
	bootstrapCmd.Flags().StringVar(&bootstrapOpts.fullName, "full-name", "", "administrator full name")
	bootstrapCmd.Flags().StringVar(&bootstrapOpts.password, "password", "", "administrator password (defaults to $VOC_ADMIN_PASSWORD)")
	_ = bootstrapCmd.MarkFlagRequired("email")

	rootCmd.AddCommand(upCmd)
	rootCmd.AddCommand(downCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(bootstrapCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func getMigrator() (*migrate.Migrate, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	driver, err := postgres.WithInstance(db.DB, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+filepath.ToSlash(migrationsDir), "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}

	return m, nil
}

func runUp(cmd *cobra.Command, args []string) error {
	log := logger.New("info", "text")
	log.Info().Msg("running migrations...")

	m, err := getMigrator()
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration failed: %w", err)
	}

	log.Info().Msg("migrations completed successfully")
	return nil
}

func runDown(cmd *cobra.Command, args []string) error {
	log := logger.New("info", "text")
	log.Info().Msg("rolling back last migration...")

	m, err := getMigrator()
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Steps(-1); err != nil {
		return fmt.Errorf("rollback failed: %w", err)
	}

	log.Info().Msg("rollback completed successfully")
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	m, err := getMigrator()
	if err != nil {
		return err
	}
	defer m.Close()

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		fmt.Fprintln(cmd.OutOrStdout(), "No migrations have been applied")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get version: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Current version: %d\nDirty: %v\n", version, dirty)
	return nil
}

var migrationName = regexp.MustCompile(`^(\d+)_.*\.(up|down)\.sql$`)

func runCreate(cmd *cobra.Command, args []string) error {
	if err := os.MkdirAll(migrationsDir, 0o755); err != nil {
		return fmt.Errorf("failed to create migrations directory: %w", err)
	}

	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	version := 0
	for _, entry := range entries {
		match := migrationName.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		if n, err := strconv.Atoi(match[1]); err == nil && n > version {
			version = n
		}
	}
	version++

	upFile := filepath.Join(migrationsDir, fmt.Sprintf("%06d_%s.up.sql", version, args[0]))
	downFile := filepath.Join(migrationsDir, fmt.Sprintf("%06d_%s.down.sql", version, args[0]))

	if err := os.WriteFile(upFile, []byte("-- Add migration SQL here\n"), 0o644); err != nil {
		return fmt.Errorf("failed to create up migration: %w", err)
	}
	if err := os.WriteFile(downFile, []byte("-- Add rollback SQL here\n"), 0o644); err != nil {
		return fmt.Errorf("failed to create down migration: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created migration files:\n  %s\n  %s\n", upFile, downFile)
	return nil
}

func runBootstrap(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log := logger.New(cfg.Log.Level, "text")

	password := bootstrapOpts.password
	if password == "" {
		password = os.Getenv("VOC_ADMIN_PASSWORD")
	}
	if password == "" {
		return errors.New("an administrator password is required (--password or VOC_ADMIN_PASSWORD)")
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	rdb, err := database.NewRedis(cfg.Redis)
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	defer rdb.Close()

	hasher := auth.NewArgon2Hasher(auth.NewParams(
		cfg.Security.Password.Argon2Memory,
		cfg.Security.Password.Argon2Iterations,
		cfg.Security.Password.Argon2Parallelism,
	))
	activity := service.NewActivityService(repository.NewActivityRepository(db), cfg, nil, log)
	users := service.NewUserService(repository.NewUserRepository(db), repository.NewSessionRepository(rdb), activity, hasher, cfg, nil, log)

	req := model.NewUser{
		Email:    bootstrapOpts.email,
		Username: bootstrapOpts.username,
		Password: password,
	}
	if bootstrapOpts.fullName != "" {
		req.FullName = &bootstrapOpts.fullName
	}

	view, err := users.BootstrapAdmin(context.Background(), req)
	if errors.Is(err, model.ErrConflict) {
		var conflict *model.ConflictError
		if errors.As(err, &conflict) && conflict.Field == "admin" {
			fmt.Fprintln(cmd.OutOrStdout(), "An administrator already exists; nothing to do")
			return nil
		}
	}
	if err != nil {
		return fmt.Errorf("bootstrap failed: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created administrator %s (%s)\n", view.Username, view.ID)
	return nil
}
