package db

import (
	"context"
	"fmt"

	"github.com/emcifuntik/twitch-overlay-widgets/internal/config"
	"github.com/emcifuntik/twitch-overlay-widgets/internal/logger"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var log = logger.New("DB")

// Store wraps the gorm handle with the row-filtered reads and writes the
// engine uses.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for the settings helpers in config.go.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Transaction runs fn inside one database transaction.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

func (s *Store) conn(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

// Open connects to the configured database and runs migrations.
func Open(cfg config.DBConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.Path)
	default:
		// Create DSN according to go-sql-driver/mysql format.
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Name)
		dialector = mysql.Open(dsn)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, log.Error("failed to connect to database", err)
	}

	if cfg.Driver == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		// sqlite allows one writer; a single connection avoids SQLITE_BUSY.
		sqlDB.SetMaxOpenConns(1)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}
	log.Success("Connected to %s database", cfg.Driver)
	return db, nil
}

// Migrate creates or updates every table.
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&Channel{}, &Overlay{}, &WidgetInstance{}, &ConfigStore{},
		&ChannelRole{}, &Permission{},
		&WidgetEvent{}, &WidgetSnapshot{},
		&CooldownEntry{}, &RateLimitWindow{},
		&HotWord{}, &HotWordOccurrence{},
		&BonusHunt{}, &Bonus{}, &Guess{},
		&SlotRequest{}, &SlotBlacklist{}, &SlotBattle{}, &SlotBattleRound{},
		&Wager{}, &WheelSpin{},
		&PointsLedger{}, &PointsBattle{}, &PointsBattleEntry{},
		&StoreItem{}, &Redemption{},
	)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}
