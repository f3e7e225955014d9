package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/growthdesk/internal/domain"
	"github.com/ashureev/growthdesk/internal/shared"
	"github.com/containerd/errdefs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// progressColumns maps a progress kind to the column it owns.
var progressColumns = map[domain.ProgressKind]string{
	domain.ProgressExecution: "execution_json",
	domain.ProgressWeekly:    "weekly_json",
}

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // serializes writes to prevent SQLITE_BUSY
	retry   shared.ConflictRetry
	logger  *slog.Logger
	now     func() time.Time
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{
		db:     db,
		retry:  shared.DefaultConflictRetry,
		logger: slog.Default(),
		now:    time.Now,
	}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS accounts (
		user_id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS auth_sessions (
		device_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		email TEXT NOT NULL,
		access_token TEXT NOT NULL,
		expires_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_auth_sessions_expires ON auth_sessions(expires_at);

	CREATE TABLE IF NOT EXISTS businesses (
		business_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL UNIQUE,
		profile_json TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS strategy_snapshots (
		business_id TEXT PRIMARY KEY,
		profile_json TEXT NOT NULL,
		strategy_json TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS progress (
		user_id TEXT PRIMARY KEY,
		business_id TEXT NOT NULL,
		execution_json TEXT,
		weekly_json TEXT,
		updated_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

func (s *SQLiteStore) write(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return s.retry.Do(ctx, op, func(ctx context.Context) error {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
		return fn(ctx)
	})
}

// UpsertBusinessProfile creates or updates the business profile for a user.
func (s *SQLiteStore) UpsertBusinessProfile(ctx context.Context, userID string, profile *domain.BusinessProfile) (*domain.BusinessRecord, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", errdefs.ErrInvalidArgument)
	}
	if profile == nil {
		return nil, fmt.Errorf("%w: profile is required", errdefs.ErrInvalidArgument)
	}
	profileJSON, err := json.Marshal(profile)
	if err != nil {
		return nil, fmt.Errorf("marshal profile: %w", err)
	}

	query := `
	INSERT INTO businesses (business_id, user_id, profile_json, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		profile_json = excluded.profile_json,
		updated_at = excluded.updated_at
	RETURNING business_id, created_at, updated_at`

	now := s.now()
	var businessID string
	var createdAt, updatedAt int64
	err = s.write(ctx, "upsert_business_profile", func(ctx context.Context) error {
		return s.db.QueryRowContext(ctx, query,
			uuid.NewString(), userID, string(profileJSON), now.Unix(), now.Unix(),
		).Scan(&businessID, &createdAt, &updatedAt)
	})
	if err != nil {
		return nil, fmt.Errorf("upsert business profile: %w", err)
	}

	return &domain.BusinessRecord{
		BusinessID: businessID,
		UserID:     userID,
		Profile:    *profile.Clone(),
		CreatedAt:  time.Unix(createdAt, 0),
		UpdatedAt:  time.Unix(updatedAt, 0),
	}, nil
}

// UpsertStrategySnapshot saves the profile/strategy pair and keeps the
// business row's profile aligned with it.
func (s *SQLiteStore) UpsertStrategySnapshot(ctx context.Context, businessID string, snapshot *domain.StrategySnapshot) error {
	if businessID == "" {
		return fmt.Errorf("%w: business id is required", errdefs.ErrFailedPrecondition)
	}
	if snapshot == nil || !snapshot.Strategy.IsPresent() {
		return fmt.Errorf("%w: snapshot must carry a strategy with its audit", errdefs.ErrInvalidArgument)
	}
	profileJSON, err := json.Marshal(snapshot.Profile)
	if err != nil {
		return fmt.Errorf("marshal snapshot profile: %w", err)
	}
	strategyJSON, err := json.Marshal(snapshot.Strategy)
	if err != nil {
		return fmt.Errorf("marshal snapshot strategy: %w", err)
	}

	now := s.now().Unix()
	return s.write(ctx, "upsert_strategy_snapshot", func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin snapshot tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		res, err := tx.ExecContext(ctx,
			`UPDATE businesses SET profile_json = ?, updated_at = ? WHERE business_id = ?`,
			string(profileJSON), now, businessID)
		if err != nil {
			return fmt.Errorf("update business profile: %w", err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if rows == 0 {
			return fmt.Errorf("%w: business %s", errdefs.ErrNotFound, businessID)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO strategy_snapshots (business_id, profile_json, strategy_json, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(business_id) DO UPDATE SET
				profile_json = excluded.profile_json,
				strategy_json = excluded.strategy_json,
				updated_at = excluded.updated_at`,
			businessID, string(profileJSON), string(strategyJSON), now,
		); err != nil {
			return fmt.Errorf("upsert strategy snapshot: %w", err)
		}

		return tx.Commit()
	})
}

// LoadUserData aggregates profile, strategy and progress for a user.
func (s *SQLiteStore) LoadUserData(ctx context.Context, userID string) (*domain.UserData, error) {
	query := `
		SELECT b.business_id, b.profile_json, ss.profile_json, ss.strategy_json,
		       p.business_id, p.execution_json, p.weekly_json
		FROM businesses b
		LEFT JOIN strategy_snapshots ss ON ss.business_id = b.business_id
		LEFT JOIN progress p ON p.user_id = b.user_id
		WHERE b.user_id = ?`

	var (
		businessID      string
		profileJSON     string
		snapProfileJSON sql.NullString
		strategyJSON    sql.NullString
		progressBizID   sql.NullString
		executionJSON   sql.NullString
		weeklyJSON      sql.NullString
	)
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&businessID, &profileJSON, &snapProfileJSON, &strategyJSON,
		&progressBizID, &executionJSON, &weeklyJSON,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load user data: %w", err)
	}

	data := &domain.UserData{BusinessID: businessID}

	var profile domain.BusinessProfile
	if err := json.Unmarshal([]byte(profileJSON), &profile); err != nil {
		return nil, fmt.Errorf("%w: decode profile for %s: %w", errdefs.ErrDataLoss, userID, err)
	}
	data.Profile = &profile

	if strategyJSON.Valid && snapProfileJSON.Valid {
		var strategy domain.ComprehensiveStrategy
		var snapProfile domain.BusinessProfile
		switch {
		case json.Unmarshal([]byte(strategyJSON.String), &strategy) != nil,
			json.Unmarshal([]byte(snapProfileJSON.String), &snapProfile) != nil:
			s.logger.Warn("Discarding undecodable strategy snapshot", "user_id", userID, "business_id", businessID)
		case !strategy.IsPresent():
			s.logger.Warn("Discarding strategy snapshot without audit", "user_id", userID, "business_id", businessID)
		default:
			data.Strategy = &strategy
			data.Profile = &snapProfile
		}
	}

	if progressBizID.Valid && progressBizID.String == businessID {
		if executionJSON.Valid && executionJSON.String != "" {
			var exec domain.ExecutionState
			if err := json.Unmarshal([]byte(executionJSON.String), &exec); err != nil {
				s.logger.Warn("Discarding undecodable execution progress", "user_id", userID, "error", err)
			} else {
				data.ExecutionState = exec
			}
		}
		if weeklyJSON.Valid && weeklyJSON.String != "" {
			var plan *domain.WeeklyAgencyPlan
			if err := json.Unmarshal([]byte(weeklyJSON.String), &plan); err != nil {
				s.logger.Warn("Discarding undecodable weekly progress", "user_id", userID, "error", err)
			} else {
				data.WeeklyPlan = plan
			}
		}
	}

	return data, nil
}

// UpsertProgress writes one progress kind for a user.
func (s *SQLiteStore) UpsertProgress(ctx context.Context, userID, businessID string, kind domain.ProgressKind, payload any) error {
	column, ok := progressColumns[kind]
	if !ok {
		return fmt.Errorf("%w: unknown progress kind %q", errdefs.ErrInvalidArgument, kind)
	}
	if userID == "" || businessID == "" {
		return fmt.Errorf("%w: user id and business id are required", errdefs.ErrFailedPrecondition)
	}
	if err := checkProgressPayload(kind, payload); err != nil {
		return err
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s progress: %w", kind, err)
	}

	query := fmt.Sprintf(`
	INSERT INTO progress (user_id, business_id, %[1]s, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		business_id = excluded.business_id,
		%[1]s = excluded.%[1]s,
		updated_at = excluded.updated_at`, column)

	err = s.write(ctx, "upsert_progress", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, query, userID, businessID, string(payloadJSON), s.now().Unix())
		return err
	})
	if err != nil {
		return fmt.Errorf("upsert %s progress: %w", kind, err)
	}
	return nil
}

func checkProgressPayload(kind domain.ProgressKind, payload any) error {
	switch kind {
	case domain.ProgressExecution:
		if _, ok := payload.(domain.ExecutionState); ok {
			return nil
		}
	case domain.ProgressWeekly:
		if p, ok := payload.(*domain.WeeklyAgencyPlan); ok && p != nil {
			return nil
		}
	}
	return fmt.Errorf("%w: payload %T does not match progress kind %q", errdefs.ErrInvalidArgument, payload, kind)
}

// PurgeUser deletes every business record of a user.
func (s *SQLiteStore) PurgeUser(ctx context.Context, userID string) (int64, error) {
	var total int64
	err := s.write(ctx, "purge_user", func(ctx context.Context) error {
		total = 0
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin purge tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		stmts := []string{
			`DELETE FROM strategy_snapshots WHERE business_id IN (SELECT business_id FROM businesses WHERE user_id = ?)`,
			`DELETE FROM progress WHERE user_id = ?`,
			`DELETE FROM businesses WHERE user_id = ?`,
		}
		for _, stmt := range stmts {
			res, err := tx.ExecContext(ctx, stmt, userID)
			if err != nil {
				return fmt.Errorf("purge user: %w", err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("purge rows affected: %w", err)
			}
			total += n
		}
		return tx.Commit()
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

// UpsertAccount returns the account for email, creating it on first sign-in.
func (s *SQLiteStore) UpsertAccount(ctx context.Context, email string) (*domain.Account, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: invalid email %q", errdefs.ErrInvalidArgument, email)
	}

	query := `
	INSERT INTO accounts (user_id, email, created_at)
	VALUES (?, ?, ?)
	ON CONFLICT(email) DO UPDATE SET email = excluded.email
	RETURNING user_id, created_at`

	var account domain.Account
	var createdAt int64
	err := s.write(ctx, "upsert_account", func(ctx context.Context) error {
		return s.db.QueryRowContext(ctx, query, uuid.NewString(), email, s.now().Unix()).
			Scan(&account.UserID, &createdAt)
	})
	if err != nil {
		return nil, fmt.Errorf("upsert account: %w", err)
	}
	account.Email = email
	account.CreatedAt = time.Unix(createdAt, 0)
	return &account, nil
}

// GetAuthSession retrieves the session bound to a device.
func (s *SQLiteStore) GetAuthSession(ctx context.Context, deviceID string) (*domain.Session, error) {
	query := `SELECT user_id, email, access_token, expires_at FROM auth_sessions WHERE device_id = ?`

	var session domain.Session
	var expiresAt int64
	err := s.db.QueryRowContext(ctx, query, deviceID).Scan(
		&session.UserID, &session.Email, &session.AccessToken, &expiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan auth session: %w", err)
	}
	session.ExpiresAt = time.Unix(expiresAt, 0)
	return &session, nil
}

// UpsertAuthSession binds a session to a device.
func (s *SQLiteStore) UpsertAuthSession(ctx context.Context, deviceID string, session *domain.Session) error {
	query := `
	INSERT INTO auth_sessions (device_id, user_id, email, access_token, expires_at, created_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(device_id) DO UPDATE SET
		user_id = excluded.user_id,
		email = excluded.email,
		access_token = excluded.access_token,
		expires_at = excluded.expires_at`

	err := s.write(ctx, "upsert_auth_session", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, query,
			deviceID, session.UserID, session.Email, session.AccessToken,
			session.ExpiresAt.Unix(), s.now().Unix(),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("upsert auth session: %w", err)
	}
	return nil
}

// DeleteAuthSession removes a device's session.
func (s *SQLiteStore) DeleteAuthSession(ctx context.Context, deviceID string) error {
	err := s.write(ctx, "delete_auth_session", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM auth_sessions WHERE device_id = ?`, deviceID)
		return err
	})
	if err != nil {
		return fmt.Errorf("delete auth session for %s: %w", deviceID, err)
	}
	return nil
}

// DeleteExpiredAuthSessions removes sessions that expired before now.
func (s *SQLiteStore) DeleteExpiredAuthSessions(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	err := s.write(ctx, "delete_expired_auth_sessions", func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM auth_sessions WHERE expires_at <= ?`, now.Unix())
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("cleanup expired auth sessions: %w", err)
	}
	return n, nil
}
