package origin

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"crm-forwarder/internal/config"
)

// MySQLResolver resolves user display names from the CRM backing store.
type MySQLResolver struct {
	db     *sql.DB
	query  string
	logger *logrus.Logger
}

// NewMySQLResolver opens a connection to the CRM database and verifies it
// with a ping.
func NewMySQLResolver(cfg config.MySQLConfig, logger *logrus.Logger) (*MySQLResolver, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/", cfg.User, cfg.Password, cfg.Host, cfg.Port)
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to MySQL server: %w", err)
	}
	logger.Info("Connected to origin MySQL server")

	// Table and column names come from configuration, not request data.
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?",
		cfg.UserNameColumn, cfg.UserTable, cfg.UserIDColumn)

	return &MySQLResolver{
		db:     db,
		query:  query,
		logger: logger,
	}, nil
}

// FullName returns the display name stored for the given user id.
func (r *MySQLResolver) FullName(ctx context.Context, id uuid.UUID) (string, error) {
	var name string
	if err := r.db.QueryRowContext(ctx, r.query, id.String()).Scan(&name); err != nil {
		return "", fmt.Errorf("failed to retrieve user record %s: %w", id, err)
	}
	r.logger.Debugf("Resolved user %s to %q", id, name)
	return name, nil
}

// Close closes the database connection.
func (r *MySQLResolver) Close() {
	if r.db != nil {
		r.db.Close()
	}
}
