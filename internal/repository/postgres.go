package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"finance-coach/internal/domain"
)

// historyRow is the gorm model of goal_chat_history.
type historyRow struct {
	ID               string    `gorm:"primaryKey;size:64"`
	SessionID        string    `gorm:"size:64;not null;index:idx_history_session,priority:1"`
	OwnerID          string    `gorm:"size:128;not null;index:idx_history_session,priority:2;index:idx_history_owner,priority:1"`
	GoalID           string    `gorm:"size:128;not null"`
	GoalLabel        string    `gorm:"not null"`
	UserInput        string    `gorm:"type:text"`
	AssistantReply   string    `gorm:"type:text"`
	Timestamp        time.Time `gorm:"column:recorded_at;not null;index:idx_history_owner,priority:2"`
	Starred          bool      `gorm:"not null;default:false"`
	ModelName        string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Fallback         bool `gorm:"not null;default:false"`
}

func (historyRow) TableName() string { return "goal_chat_history" }

// PostgresStore keeps coaching history in PostgreSQL through gorm.
type PostgresStore struct {
	db *gorm.DB
}

// NewPostgres connects with dsn and migrates the history table.
func NewPostgres(dsn string) (*PostgresStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("repository: postgres dsn must not be empty")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: open postgres: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("repository: postgres pool: %w", err)
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return NewPostgresFromDB(db)
}

// NewPostgresFromDB wraps an existing gorm handle.
func NewPostgresFromDB(db *gorm.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, errors.New("repository: db must not be nil")
	}
	if err := db.AutoMigrate(&historyRow{}); err != nil {
		return nil, fmt.Errorf("repository: migrate history: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *PostgresStore) Append(ctx context.Context, e domain.HistoryEntry) error {
	if e.ID == "" || e.SessionID == "" || e.OwnerID == "" {
		return errors.New("repository: Append: entry id, session id and owner id are required")
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	row := toRow(e)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("repository: Append: %w", err)
	}
	return nil
}

func (s *PostgresStore) EntriesForSession(ctx context.Context, sessionID, ownerID string) ([]domain.HistoryEntry, error) {
	var rows []historyRow
	err := s.db.WithContext(ctx).
		Where("session_id = ? AND owner_id = ?", sessionID, ownerID).
		Order("recorded_at ASC").Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("repository: EntriesForSession: %w", err)
	}
	return fromRows(rows), nil
}

// ListRecentSessions over-fetches the owner's newest rows and keeps one per
// session.
func (s *PostgresStore) ListRecentSessions(ctx context.Context, ownerID string, limit int) ([]domain.HistoryEntry, error) {
	limit = normalizeLimit(limit)
	var rows []historyRow
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("recorded_at DESC").Order("id DESC").
		Limit(listWindow(limit)).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("repository: ListRecentSessions: %w", err)
	}
	return latestPerSession(fromRows(rows), limit), nil
}

func (s *PostgresStore) SetStarred(ctx context.Context, sessionID, ownerID string, starred bool) error {
	if err := s.update(ctx, sessionID, ownerID, "starred", starred); err != nil {
		return fmt.Errorf("repository: SetStarred: %w", err)
	}
	return nil
}

func (s *PostgresStore) Rename(ctx context.Context, sessionID, ownerID, newLabel string) error {
	if err := s.update(ctx, sessionID, ownerID, "goal_label", newLabel); err != nil {
		return fmt.Errorf("repository: Rename: %w", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, sessionID, ownerID string) error {
	res := s.db.WithContext(ctx).
		Where("session_id = ? AND owner_id = ?", sessionID, ownerID).
		Delete(&historyRow{})
	if res.Error != nil {
		return fmt.Errorf("repository: Delete: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("repository: Delete: %w", domain.ErrSessionNotFound)
	}
	return nil
}

func (s *PostgresStore) update(ctx context.Context, sessionID, ownerID, column string, value any) error {
	res := s.db.WithContext(ctx).
		Model(&historyRow{}).
		Where("session_id = ? AND owner_id = ?", sessionID, ownerID).
		Update(column, value)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func toRow(e domain.HistoryEntry) historyRow {
	return historyRow{
		ID:               e.ID,
		SessionID:        e.SessionID,
		OwnerID:          e.OwnerID,
		GoalID:           e.GoalID,
		GoalLabel:        e.GoalLabel,
		UserInput:        e.UserInput,
		AssistantReply:   e.AssistantReply,
		Timestamp:        e.Timestamp.UTC(),
		Starred:          e.Starred,
		ModelName:        e.ModelName,
		PromptTokens:     e.Usage.PromptTokens,
		CompletionTokens: e.Usage.CompletionTokens,
		TotalTokens:      e.Usage.TotalTokens,
		Fallback:         e.Fallback,
	}
}

func fromRows(rows []historyRow) []domain.HistoryEntry {
	entries := make([]domain.HistoryEntry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, domain.HistoryEntry{
			ID:             r.ID,
			SessionID:      r.SessionID,
			OwnerID:        r.OwnerID,
			GoalID:         r.GoalID,
			GoalLabel:      r.GoalLabel,
			UserInput:      r.UserInput,
			AssistantReply: r.AssistantReply,
			Timestamp:      r.Timestamp.UTC(),
			Starred:        r.Starred,
			ModelName:      r.ModelName,
			Usage: domain.TokenUsage{
				PromptTokens:     r.PromptTokens,
				CompletionTokens: r.CompletionTokens,
				TotalTokens:      r.TotalTokens,
			},
			Fallback: r.Fallback,
		})
	}
	return entries
}
