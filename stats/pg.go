package stats

import (
	"time"

	"github.com/pkg/errors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/JellyTony/poolboard/protocol"
)

// PollCount counts poll outcomes per key per minute.
type PollCount struct {
	Key       string    `gorm:"primaryKey;size:255"`
	Timestamp time.Time `gorm:"primaryKey;type:timestamp"`
	Count     int       `gorm:"not null"`
}

// WindowRow is one block record of a persisted window.
type WindowRow struct {
	Series  string `gorm:"primaryKey;size:128"`
	Height  int64  `gorm:"primaryKey"`
	Payload []byte `gorm:"not null"`
}

type PGStore struct{ db *gorm.DB }

func NewPGStore(dsn string) (*PGStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}
	s := &PGStore{db: db}
	if err := s.ensureSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PGStore) ensureSchema() error {
	return errors.Wrap(s.db.AutoMigrate(&PollCount{}, &WindowRow{}), "migrate")
}

func (s *PGStore) Increment(key string, minute time.Time) error {
	m := minute.Truncate(time.Minute)
	rec := PollCount{Key: key, Timestamp: m, Count: 1}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}, {Name: "timestamp"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"count": gorm.Expr("poll_counts.count + EXCLUDED.count")}),
	}).Create(&rec).Error
}

func (s *PGStore) Get(key string, minute time.Time) (int, error) {
	m := minute.Truncate(time.Minute)
	var rec PollCount
	err := s.db.Where("key = ? AND timestamp = date_trunc('minute', ?::timestamp)", key, m).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	return rec.Count, err
}

// SaveWindow upserts the window's records and deletes rows of the same
// series that fell out of it.
func (s *PGStore) SaveWindow(series string, recs []protocol.BlockRecord) error {
	rows := make([]WindowRow, 0, len(recs))
	for _, r := range recs {
		b, err := protocol.Encode(r)
		if err != nil {
			return errors.Wrap(err, "encode record")
		}
		rows = append(rows, WindowRow{Series: series, Height: r.Height, Payload: b})
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		if len(rows) == 0 {
			return tx.Where("series = ?", series).Delete(&WindowRow{}).Error
		}
		minHeight := rows[0].Height
		for _, r := range rows {
			if r.Height < minHeight {
				minHeight = r.Height
			}
		}
		if err := tx.Where("series = ? AND height < ?", series, minHeight).Delete(&WindowRow{}).Error; err != nil {
			return err
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "series"}, {Name: "height"}},
			DoUpdates: clause.AssignmentColumns([]string{"payload"}),
		}).CreateInBatches(rows, 100).Error
	})
}

func (s *PGStore) LoadWindow(series string) ([]protocol.BlockRecord, error) {
	var rows []WindowRow
	if err := s.db.Where("series = ?", series).Order("height asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]protocol.BlockRecord, 0, len(rows))
	for _, row := range rows {
		var r protocol.BlockRecord
		if err := protocol.Decode(row.Payload, &r); err != nil {
			return nil, errors.Wrapf(err, "decode %s@%d", series, row.Height)
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *PGStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
