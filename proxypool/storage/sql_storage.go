package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"socks5_inspector/internal/shared/logger"
	"socks5_inspector/proxypool/model"
)

// recordRow is the proxy_records table layout.
type recordRow struct {
	ID       uint   `gorm:"primaryKey"`
	Position int    `gorm:"not null;index"`
	Raw      string `gorm:"not null;uniqueIndex"`
	Status   string `gorm:"not null"`
	Latency  string
	ExitIP   string
	Region   string
	ISP      string
	SavedAt  time.Time
}

func (recordRow) TableName() string {
	return "proxy_records"
}

// SQLStorage 用一张表保存记录；Write 在一个事务内清空并重建整张表。
type SQLStorage struct {
	db *gorm.DB
}

// OpenSQL opens a sqlite or postgres database and migrates the schema.
func OpenSQL(dialect, dsn string) (*SQLStorage, error) {
	if dsn == "" {
		return nil, errors.New("sql store: dsn is empty")
	}
	var dialector gorm.Dialector
	switch dialect {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("sql store: unsupported dialect %q", dialect)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("sql store: open connection: %w", err)
	}
	return NewSQLStorage(db)
}

// NewSQLStorage wraps an existing connection.
func NewSQLStorage(db *gorm.DB) (*SQLStorage, error) {
	if err := db.AutoMigrate(&recordRow{}); err != nil {
		return nil, fmt.Errorf("sql store: auto migrate: %w", err)
	}
	return &SQLStorage{db: db}, nil
}

func (ss *SQLStorage) Read(ctx context.Context) ([]model.Record, error) {
	var rows []recordRow
	if err := ss.db.WithContext(ctx).Order("position").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("sql store: read: %w", err)
	}

	records := make([]model.Record, 0, len(rows))
	for _, row := range rows {
		status, err := model.ParseStatus(row.Status)
		if err != nil {
			l := logger.WithComponent("ProxyPool/Storage")
			l.Warn().Err(err).Str("raw", row.Raw).Msg("Skipping row with unknown status.")
			continue
		}
		records = append(records, model.Record{
			Raw:     row.Raw,
			Status:  status,
			Latency: row.Latency,
			ExitIP:  row.ExitIP,
			Region:  row.Region,
			ISP:     row.ISP,
			SavedAt: row.SavedAt.UTC(),
		})
	}
	return records, nil
}

func (ss *SQLStorage) Write(ctx context.Context, records []model.Record) error {
	rows := make([]recordRow, 0, len(records))
	for i, r := range records {
		rows = append(rows, recordRow{
			Position: i,
			Raw:      r.Raw,
			Status:   r.Status.String(),
			Latency:  r.Latency,
			ExitIP:   r.ExitIP,
			Region:   r.Region,
			ISP:      r.ISP,
			SavedAt:  r.SavedAt.UTC(),
		})
	}

	err := ss.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&recordRow{}).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.CreateInBatches(rows, 200).Error
	})
	if err != nil {
		return fmt.Errorf("sql store: write: %w", err)
	}

	l := logger.WithComponent("ProxyPool/Storage")

	l.Info().Int("count", len(rows)).Msg("Saved records to database.")
	return nil
}

func (ss *SQLStorage) Close() error {
	sqlDB, err := ss.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
