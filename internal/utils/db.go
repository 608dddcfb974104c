package utils

import (
	"database/sql"
	"net/url"
	"os"

	_ "github.com/lib/pq"
)

func OpenPostgres(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(EnvInt("PG_MAX_OPEN_CONNS", 20))
	db.SetMaxIdleConns(EnvInt("PG_MAX_IDLE_CONNS", 10))
	return db, nil
}

// PostgresEnabled：未设置 PG_HOST 时统计存储停用
func PostgresEnabled() bool { return os.Getenv("PG_HOST") != "" }

func BuildPostgresDSNFromEnv() string {
	u := url.URL{
		Scheme: "postgres",
		Host:   EnvString("PG_HOST", "localhost") + ":" + EnvString("PG_PORT", "5432"),
		Path:   "/" + EnvString("PG_DB", "tzapi"),
	}
	user := EnvString("PG_USER", "postgres")
	if pass := os.Getenv("PG_PASSWORD"); pass != "" {
		u.User = url.UserPassword(user, pass)
	} else {
		u.User = url.User(user)
	}
	q := url.Values{}
	q.Set("sslmode", EnvString("PG_SSLMODE", "disable"))
	u.RawQuery = q.Encode()
	return u.String()
}

func OpenPostgresFromEnv() (*sql.DB, error) {
	return OpenPostgres(BuildPostgresDSNFromEnv())
}
