package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"secwatch/models"
)

// Store is the gorm-backed persistent store for channels, events, field
// mappings and settings. It is the sole source of truth: every cache above
// it is an optimization and must survive being cleared at any time. The
// unique index on channel source identifiers and the foreign key from
// events to channels are enforced here, not in application code.
type Store struct {
	db *gorm.DB
}

// Open opens (or creates) the sqlite database at path and migrates the
// schema. Foreign key enforcement is switched on explicitly; sqlite leaves
// it off by default.
func Open(path string) (*Store, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}

	if err := db.AutoMigrate(
		&models.Channel{},
		&models.SecurityEvent{},
		&models.FieldMapping{},
		&models.Setting{},
	); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return &Store{db: db}, nil
}

// DB exposes the underlying gorm handle for the administrative layer and
// for tests. The ingestion pipeline itself only goes through the methods
// below.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// FindChannelByIdentifier looks a channel up by its unique source
// identifier. Returns gorm.ErrRecordNotFound when no such channel exists.
func (s *Store) FindChannelByIdentifier(ctx context.Context, identifier string) (*models.Channel, error) {
	var ch models.Channel
	err := s.db.WithContext(ctx).Where("source_identifier = ?", identifier).First(&ch).Error
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

// CreateChannelIfAbsent inserts a channel for the identifier unless one
// already exists, in which case the existing row is read back. The insert
// uses ON CONFLICT DO NOTHING on the unique identifier column, so two
// racing creators can never both insert and neither sees a conflict error.
func (s *Store) CreateChannelIfAbsent(ctx context.Context, identifier string) (*models.Channel, error) {
	ch := models.Channel{
		SourceIdentifier: identifier,
		Name:             identifier,
		Description:      "Auto-created on first event",
		Enabled:          true,
	}

	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "source_identifier"}},
			DoNothing: true,
		}).
		Create(&ch)
	if res.Error != nil {
		return nil, fmt.Errorf("create channel %s: %w", identifier, res.Error)
	}
	if res.RowsAffected == 0 {
		// Lost the race to a concurrent creator; the row exists now.
		return s.FindChannelByIdentifier(ctx, identifier)
	}
	return &ch, nil
}

// UpdateChannelStats bumps the channel's event counter and refreshes its
// last-seen timestamp.
func (s *Store) UpdateChannelStats(ctx context.Context, channelID uint, lastEventAt time.Time) error {
	return s.db.WithContext(ctx).
		Model(&models.Channel{}).
		Where("id = ?", channelID).
		Updates(map[string]any{
			"event_count":   gorm.Expr("event_count + 1"),
			"last_event_at": lastEventAt,
		}).Error
}

// CreateSecurityEvent persists one ingested event. A stale channel id
// surfaces as gorm.ErrForeignKeyViolated for the ingestor's self-heal
// retry.
func (s *Store) CreateSecurityEvent(ctx context.Context, event *models.SecurityEvent) error {
	return s.db.WithContext(ctx).Omit("Channel").Create(event).Error
}

// FindFieldMappings returns the enabled mappings that apply to a channel:
// its own plus the global ones, ordered by descending priority. At equal
// priority a channel-specific mapping sorts before a global one, and id
// breaks any remaining tie so the order is deterministic.
func (s *Store) FindFieldMappings(ctx context.Context, channelID uint) ([]models.FieldMapping, error) {
	var mappings []models.FieldMapping
	err := s.db.WithContext(ctx).
		Where("enabled = ?", true).
		Where("channel_id = ? OR channel_id IS NULL", channelID).
		Order("priority DESC, channel_id IS NULL ASC, id ASC").
		Find(&mappings).Error
	if err != nil {
		return nil, err
	}
	return mappings, nil
}

// FindSettings returns the string-encoded values for the given keys.
// Missing keys are simply absent from the result.
func (s *Store) FindSettings(ctx context.Context, keys []string) (map[string]string, error) {
	var settings []models.Setting
	err := s.db.WithContext(ctx).Where("key IN ?", keys).Find(&settings).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(settings))
	for _, s := range settings {
		out[s.Key] = s.Value
	}
	return out, nil
}
