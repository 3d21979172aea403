package recorder

import (
	"context"
	"fmt"
	"net/url"

	"main/internal/bus"
	"main/internal/schema"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	defaultPostgresHost    = "localhost"
	defaultPostgresPort    = 5432
	defaultPostgresSSLMode = "disable"
)

// Config defines the PostgreSQL connection for the event store.
type Config struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	User     string `json:"user" yaml:"user"`
	Password string `json:"password" yaml:"password"`
	Database string `json:"database" yaml:"database"`
	SSLMode  string `json:"sslMode" yaml:"sslMode"`
}

func (c Config) dsn() string {
	host := c.Host
	if host == "" {
		host = defaultPostgresHost
	}
	port := c.Port
	if port == 0 {
		port = defaultPostgresPort
	}
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = defaultPostgresSSLMode
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", host, port),
	}
	if c.User != "" {
		if c.Password != "" {
			u.User = url.UserPassword(c.User, c.Password)
		} else {
			u.User = url.User(c.User)
		}
	}
	if c.Database != "" {
		u.Path = "/" + c.Database
	}
	query := url.Values{}
	query.Set("sslmode", sslMode)
	u.RawQuery = query.Encode()
	return u.String()
}

// Store appends the order lifecycle stream to PostgreSQL. It only ever
// consumes the bus; the engine core never reads persisted events back.
type Store struct {
	db *gorm.DB
}

// NewStore connects and migrates the event table.
func NewStore(cfg Config) (*Store, error) {
	db, err := gorm.Open(postgres.Open(cfg.dsn()), &gorm.Config{})
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}
	if err := db.AutoMigrate(&OrderEventRow{}); err != nil {
		return nil, errors.Wrap(err, "migrate order events")
	}
	return &Store{db: db}, nil
}

// Record appends one event.
func (s *Store) Record(event schema.OrderEvent) error {
	row := rowFromEvent(event)
	if err := s.db.Create(&row).Error; err != nil {
		return errors.Wrap(err, "insert order event")
	}
	return nil
}

// Run consumes the event queue until it closes or the context ends.
// A failed insert is logged and dropped; persistence never backpressures
// the trading path.
func (s *Store) Run(ctx context.Context, q *bus.Queue) {
	q.Run(ctx, func(event schema.OrderEvent) {
		if err := s.Record(event); err != nil {
			logs.Warnf("record order event seq %d, err: %+v", event.Seq, err)
		}
	})
}

// Close releases the connection pool.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
