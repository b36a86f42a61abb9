package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/t77yq/distributed-profiler/internal/model"
)

// ErrNotFound is returned when no profile has the requested id
var ErrNotFound = errors.New("profile not found")

// ProfileRecord is the summary row of a stored profile
type ProfileRecord struct {
	ID              string    `json:"id"`
	CodeID          string    `json:"code_id"`
	Score           int       `json:"score"`
	SuccessfulNodes int       `json:"successful_nodes"`
	FailedNodes     int       `json:"failed_nodes"`
	Bottlenecks     int       `json:"bottlenecks"`
	CreatedAt       time.Time `json:"created_at"`
}

// ListFilter narrows history queries. Zero fields do not filter.
type ListFilter struct {
	CodeID   string
	MaxScore *int
	Since    time.Time
	Offset   int
	Limit    int
}

// ProfileHistory stores completed distributed profiles
type ProfileHistory interface {
	// Store persists a profile
	Store(ctx context.Context, profile *model.DistributedProfile) error

	// Get loads the full profile by ID
	Get(ctx context.Context, id string) (*model.DistributedProfile, error)

	// List returns summaries, newest first
	List(ctx context.Context, filter ListFilter) ([]*ProfileRecord, error)

	// Count returns the number of profiles matching the filter
	Count(ctx context.Context, filter ListFilter) (int, error)

	// DeleteBefore deletes profiles older than the specified time
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)

	Close() error
}

// SQLiteProfileHistory implements ProfileHistory using SQLite
type SQLiteProfileHistory struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewSQLiteProfileHistory opens or creates the history database at dbPath
func NewSQLiteProfileHistory(logger *zap.Logger, dbPath string) (*SQLiteProfileHistory, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	storage := &SQLiteProfileHistory{
		logger: logger.Named("profile-history"),
		db:     db,
	}

	if err := storage.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return storage, nil
}

func (s *SQLiteProfileHistory) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS profile_history (
			id TEXT PRIMARY KEY,
			code_id TEXT NOT NULL,
			score INTEGER NOT NULL,
			successful_nodes INTEGER NOT NULL,
			failed_nodes INTEGER NOT NULL,
			bottlenecks INTEGER NOT NULL,
			profile TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_profile_history_code_id ON profile_history(code_id);
		CREATE INDEX IF NOT EXISTS idx_profile_history_created_at ON profile_history(created_at);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	return nil
}

// Store implements ProfileHistory.Store
func (s *SQLiteProfileHistory) Store(ctx context.Context, profile *model.DistributedProfile) error {
	data, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("failed to marshal profile: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO profile_history (
			id, code_id, score, successful_nodes, failed_nodes, bottlenecks, profile, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		profile.ID,
		profile.CodeID,
		profile.OverallScore,
		profile.AggregatedMetrics.SuccessfulNodes,
		profile.AggregatedMetrics.FailedNodes,
		len(profile.Bottlenecks),
		string(data),
		profile.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to store profile: %w", err)
	}

	s.logger.Debug("Profile stored",
		zap.String("profile_id", profile.ID),
		zap.Int("score", profile.OverallScore))
	return nil
}

// Get implements ProfileHistory.Get
func (s *SQLiteProfileHistory) Get(ctx context.Context, id string) (*model.DistributedProfile, error) {
	var data string
	err := s.db.QueryRowContext(ctx, "SELECT profile FROM profile_history WHERE id = ?", id).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}

	var profile model.DistributedProfile
	if err := json.Unmarshal([]byte(data), &profile); err != nil {
		return nil, fmt.Errorf("failed to unmarshal profile: %w", err)
	}
	return &profile, nil
}

func (f ListFilter) where() (string, []interface{}) {
	var clauses []string
	var args []interface{}

	if f.CodeID != "" {
		clauses = append(clauses, "code_id = ?")
		args = append(args, f.CodeID)
	}
	if f.MaxScore != nil {
		clauses = append(clauses, "score <= ?")
		args = append(args, *f.MaxScore)
	}
	if !f.Since.IsZero() {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, f.Since.UTC())
	}

	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// List implements ProfileHistory.List
func (s *SQLiteProfileHistory) List(ctx context.Context, filter ListFilter) ([]*ProfileRecord, error) {
	where, args := filter.where()
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	query := "SELECT id, code_id, score, successful_nodes, failed_nodes, bottlenecks, created_at FROM profile_history" +
		where + " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list profile history: %w", err)
	}
	defer rows.Close()

	var records []*ProfileRecord
	for rows.Next() {
		r := &ProfileRecord{}
		err := rows.Scan(
			&r.ID,
			&r.CodeID,
			&r.Score,
			&r.SuccessfulNodes,
			&r.FailedNodes,
			&r.Bottlenecks,
			&r.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan profile history: %w", err)
		}
		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	return records, nil
}

// Count implements ProfileHistory.Count
func (s *SQLiteProfileHistory) Count(ctx context.Context, filter ListFilter) (int, error) {
	where, args := filter.where()

	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM profile_history"+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count profile history: %w", err)
	}
	return count, nil
}

// DeleteBefore implements ProfileHistory.DeleteBefore
func (s *SQLiteProfileHistory) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM profile_history WHERE created_at < ?", before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete profile history: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	s.logger.Info("Deleted old profile records",
		zap.Time("before", before),
		zap.Int64("deleted", affected))

	return affected, nil
}

// Close closes the database connection
func (s *SQLiteProfileHistory) Close() error {
	return s.db.Close()
}
