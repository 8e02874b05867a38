package repository

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
	_ "github.com/lib/pq"
)

// openPostgres opens the shared rule store backing the pro tier, where
// several kestrel instances evaluate against one rule catalog. Empty
// credentials are omitted from the DSN so local trust-auth setups work
// without dummy values.
func openPostgres(cfg domain.RepositoryConfig) (*sql.DB, error) {
	host := cfg.PostgresHost
	if host == "" {
		host = "localhost"
	}

	port := cfg.PostgresPort
	if port == 0 {
		port = 5432
	}

	dbname := cfg.PostgresDB
	if dbname == "" {
		dbname = "kestrel"
	}

	parts := []string{
		fmt.Sprintf("host=%s", host),
		fmt.Sprintf("port=%d", port),
		fmt.Sprintf("dbname=%s", dbname),
		fmt.Sprintf("sslmode=%s", getSSLMode(cfg.PostgresSSLMode)),
	}
	if cfg.PostgresUser != "" {
		parts = append(parts, fmt.Sprintf("user=%s", cfg.PostgresUser))
	}
	if cfg.PostgresPassword != "" {
		parts = append(parts, fmt.Sprintf("password=%s", cfg.PostgresPassword))
	}

	db, err := sql.Open("postgres", strings.Join(parts, " "))
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres database: %w", err)
	}

	return db, nil
}

// getSSLMode defaults to disable for local development clusters.
func getSSLMode(mode string) string {
	if mode == "" {
		return "disable"
	}
	return mode
}
