package reactions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrMissingUserID indicates an empty user identifier.
	ErrMissingUserID = errors.New("reactions: user id is required")
	// ErrMissingPostID indicates an empty post identifier.
	ErrMissingPostID = errors.New("reactions: post id is required")
)

// Choice persists the viewer's reaction to one post. This is the local
// analogue of the web client's per-user reaction storage: a plain key-value
// record, deliberately outside the entity synchronization engine.
type Choice struct {
	UserID    string    `gorm:"column:user_id;primaryKey;size:190;not null"`
	PostID    string    `gorm:"column:post_id;primaryKey;size:190;not null"`
	Reaction  string    `gorm:"column:reaction;size:64;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Choice) TableName() string {
	return "reaction_choices"
}

// Store is the SQLite-backed reaction choice store.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open establishes the SQLite connection and performs schema migration.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("reactions: database path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&Choice{}); err != nil {
		return nil, err
	}

	logger.Info("reaction store initialized", zap.String("path", path))
	return &Store{db: db, logger: logger}, nil
}

// Set upserts the viewer's reaction to a post.
func (s *Store) Set(ctx context.Context, userID, postID, reaction string) error {
	if strings.TrimSpace(userID) == "" {
		return ErrMissingUserID
	}
	if strings.TrimSpace(postID) == "" {
		return ErrMissingPostID
	}

	choice := Choice{UserID: userID, PostID: postID, Reaction: reaction}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "post_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"reaction", "updated_at"}),
	}).Create(&choice).Error
}

// Get returns the viewer's reaction to a post, or empty when none is stored.
func (s *Store) Get(ctx context.Context, userID, postID string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", ErrMissingUserID
	}
	if strings.TrimSpace(postID) == "" {
		return "", ErrMissingPostID
	}

	var choice Choice
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND post_id = ?", userID, postID).
		Take(&choice).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return choice.Reaction, nil
}

// ListForUser returns the viewer's stored reactions keyed by post id.
func (s *Store) ListForUser(ctx context.Context, userID string) (map[string]string, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrMissingUserID
	}

	var choices []Choice
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Find(&choices).Error; err != nil {
		return nil, err
	}

	byPost := make(map[string]string, len(choices))
	for _, choice := range choices {
		byPost[choice.PostID] = choice.Reaction
	}
	return byPost, nil
}

// ClearUser removes every stored reaction for the user. Run on logout.
func (s *Store) ClearUser(ctx context.Context, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return ErrMissingUserID
	}
	return s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Delete(&Choice{}).Error
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
