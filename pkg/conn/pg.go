package conn

import (
	"fmt"
	"net/url"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	defaultHost    = "localhost"
	defaultPort    = 5432
	defaultSSLMode = "disable"
)

// Settings describes a PostgreSQL endpoint. Zero values fall back to a local
// development database.
type Settings struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// OpenPostgres dials the endpoint and returns a ready gorm handle.
func OpenPostgres(s Settings) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(s.dsn()), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open postgres %s/%s: %w", s.hostPort(), s.Database, err)
	}
	return db, nil
}

// Close releases the connection pool behind a gorm handle.
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s Settings) hostPort() string {
	host := s.Host
	if host == "" {
		host = defaultHost
	}
	port := s.Port
	if port == 0 {
		port = defaultPort
	}
	return fmt.Sprintf("%s:%d", host, port)
}

func (s Settings) dsn() string {
	sslMode := s.SSLMode
	if sslMode == "" {
		sslMode = defaultSSLMode
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   s.hostPort(),
	}
	if s.User != "" {
		if s.Password != "" {
			u.User = url.UserPassword(s.User, s.Password)
		} else {
			u.User = url.User(s.User)
		}
	}
	if s.Database != "" {
		u.Path = "/" + s.Database
	}

	query := url.Values{}
	query.Set("sslmode", sslMode)
	u.RawQuery = query.Encode()
	return u.String()
}
