package pgdevice

import (
	"database/sql"
	"fmt"

	"github.com/kelseyhightower/envconfig"
	_ "github.com/lib/pq"
)

// Conn is the Postgres connection read from `PG_*` environment variables.
type Conn struct {
	Host    string `envconfig:"HOST" default:"localhost"`
	Port    string `envconfig:"PORT" default:"5432"`
	User    string `envconfig:"USER" default:"postgres"`
	Pass    string `envconfig:"PASS"`
	DBName  string `envconfig:"DB_NAME" default:"postgres"`
	SSLMode string `envconfig:"SSL_MODE" default:"disable"`
}

func (conn *Conn) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		conn.Host,
		conn.Port,
		conn.User,
		conn.Pass,
		conn.DBName,
		conn.SSLMode,
	)
}

// ConnFromEnv reads the connection settings, applying defaults for anything
// unset.
func ConnFromEnv() (Conn, error) {
	var conn Conn
	if err := envconfig.Process("PG", &conn); err != nil {
		return Conn{}, fmt.Errorf("loading postgres connection: %w", err)
	}
	return conn, nil
}

// OpenEnv connects to the database described by the environment and pings
// it.
func OpenEnv() (*sql.DB, error) {
	conn, err := ConnFromEnv()
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", conn.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening postgres database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres database: %w", err)
	}

	return db, nil
}
