// Package db is the Postgres-backed points, watchtime, account-link and
// moderation-record store. Callers talk to a single actor; every operation
// that touches more than one statement runs inside a transaction.
package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iamllama/aussiebot/internal/msg"
)

var (
	// ErrDeduct reports that the source row could not cover the amount.
	ErrDeduct = errors.New("db: deduct failed")
	// ErrDeposit reports that no target row accepted the amount.
	ErrDeposit = errors.New("db: deposit failed")
	// ErrSamePlatform reports a linked transfer onto its own platform.
	ErrSamePlatform = errors.New("db: source and target platform are the same")
	// ErrInvalidPlatform reports a platform outside the stored set.
	ErrInvalidPlatform = errors.New("db: invalid platform")
	// ErrAmountBelowMin reports an amount under the configured minimum.
	ErrAmountBelowMin = errors.New("db: amount below minimum")
	// ErrNotLinked reports a linked transfer for an account with no link row.
	ErrNotLinked = errors.New("db: account not linked")
	// ErrNoDatabase reports an operation against a nil store, i.e. a
	// deployment running without Postgres.
	ErrNoDatabase = errors.New("db: no database configured")
)

// Config configures the Postgres pool.
type Config struct {
	DSN             string
	MaxConnections  int32
	MinConnections  int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	ApplicationName string
	Logger          *slog.Logger
}

// Store is the actor handle. All methods are safe for concurrent use.
type Store struct {
	pool   *pgxpool.Pool
	tasks  chan func()
	logger *slog.Logger
}

// New opens the pool and starts the actor. The actor runs until ctx is
// cancelled; Close releases the pool.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections > 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.ApplicationName != "" {
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
		}
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	store := &Store{
		pool:   pool,
		tasks:  make(chan func(), 32),
		logger: logger,
	}
	go store.run(ctx)
	return store, nil
}

func (s *Store) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-s.tasks:
			go task()
		}
	}
}

// Close releases the pool once outstanding queries finish.
func (s *Store) Close(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		s.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// do queues fn on the actor mailbox and waits for it to finish.
func (s *Store) do(ctx context.Context, fn func() error) error {
	if s == nil {
		return ErrNoDatabase
	}
	done := make(chan error, 1)
	task := func() { done <- fn() }
	select {
	case s.tasks <- task:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func platformSuffix(p msg.Platform) (string, error) {
	switch p {
	case msg.PlatformYoutube:
		return "youtube", nil
	case msg.PlatformDiscord:
		return "discord", nil
	case msg.PlatformTwitch:
		return "twitch", nil
	}
	return "", fmt.Errorf("%w: %s", ErrInvalidPlatform, p)
}

// Balances holds the linked per-platform balances. A nil entry means the
// platform is not linked for the queried account.
type Balances struct {
	Youtube *int32
	Discord *int32
	Twitch  *int32
}

func getPointsSQL(suffix string) string {
	switch suffix {
	case "youtube":
		return `SELECT y.id, ly.discord_id, lt.twitch_id, y.points, d.points, t.points
			FROM youtube_users y
			LEFT JOIN links_youtube ly ON ly.youtube_id = y.id
			LEFT JOIN discord_users d ON d.id = ly.discord_id
			LEFT JOIN links_twitch lt ON lt.discord_id = ly.discord_id
			LEFT JOIN twitch_users t ON t.id = lt.twitch_id
			WHERE y.id = $1`
	case "discord":
		return `SELECT ly.youtube_id, d.id, lt.twitch_id, y.points, d.points, t.points
			FROM discord_users d
			LEFT JOIN links_youtube ly ON ly.discord_id = d.id
			LEFT JOIN youtube_users y ON y.id = ly.youtube_id
			LEFT JOIN links_twitch lt ON lt.discord_id = d.id
			LEFT JOIN twitch_users t ON t.id = lt.twitch_id
			WHERE d.id = $1`
	default:
		return `SELECT ly.youtube_id, lt.discord_id, t.id, y.points, d.points, t.points
			FROM twitch_users t
			LEFT JOIN links_twitch lt ON lt.twitch_id = t.id
			LEFT JOIN discord_users d ON d.id = lt.discord_id
			LEFT JOIN links_youtube ly ON ly.discord_id = lt.discord_id
			LEFT JOIN youtube_users y ON y.id = ly.youtube_id
			WHERE t.id = $1`
	}
}

// GetPoints returns the balances reachable from (platform, id) through the
// account links.
func (s *Store) GetPoints(ctx context.Context, platform msg.Platform, id string) (Balances, error) {
	var balances Balances
	err := s.do(ctx, func() error {
		suffix, err := platformSuffix(platform)
		if err != nil {
			return err
		}
		var ytID, dID, twID *string
		row := s.pool.QueryRow(ctx, getPointsSQL(suffix), id)
		if err := row.Scan(&ytID, &dID, &twID, &balances.Youtube, &balances.Discord, &balances.Twitch); err != nil {
			return fmt.Errorf("get points: %w", err)
		}
		return nil
	})
	return balances, err
}

// UpsertPoints inserts the account row if needed and adjusts its balance by
// delta, refreshing the stored display name.
func (s *Store) UpsertPoints(ctx context.Context, platform msg.Platform, id, name string, delta int32) error {
	return s.do(ctx, func() error {
		suffix, err := platformSuffix(platform)
		if err != nil {
			return err
		}
		sql := fmt.Sprintf(`INSERT INTO %s_users (id, name, points) VALUES ($1, $2, $3)
			ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, points = %s_users.points + EXCLUDED.points`,
			suffix, suffix)
		if _, err := s.pool.Exec(ctx, sql, id, name, delta); err != nil {
			return fmt.Errorf("upsert points: %w", err)
		}
		return nil
	})
}

// SetPoints overwrites the balance of the account with the given display
// name. Used only when scraping a cooperating bot's messages; a missing name
// is silently ignored.
func (s *Store) SetPoints(ctx context.Context, platform msg.Platform, name string, points int32) error {
	return s.do(ctx, func() error {
		suffix, err := platformSuffix(platform)
		if err != nil {
			return err
		}
		sql := fmt.Sprintf(`UPDATE %s_users SET points = $2 WHERE name = $1`, suffix)
		if _, err := s.pool.Exec(ctx, sql, name, points); err != nil {
			s.logger.Warn("set points failed", "platform", platform.String(), "name", name, "error", err)
		}
		return nil
	})
}

// Hours folds the gap since the account was last seen into its watchtime and
// returns the new total in seconds. Gaps of maxGap seconds or longer do not
// count when maxGap is positive.
func (s *Store) Hours(ctx context.Context, platform msg.Platform, id string, maxGap int64) (int32, error) {
	var watchtime int32
	err := s.do(ctx, func() error {
		suffix, err := platformSuffix(platform)
		if err != nil {
			return err
		}
		tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
		if err != nil {
			return fmt.Errorf("begin hours transaction: %w", err)
		}
		defer rollbackTx(ctx, tx, s.logger)

		now := time.Now()
		newWatchtime := int32(0)
		selectSQL := fmt.Sprintf(`SELECT last_seen, watchtime FROM hours_%s WHERE id = $1`, suffix)
		var lastSeen time.Time
		var stored int32
		switch err := tx.QueryRow(ctx, selectSQL, id).Scan(&lastSeen, &stored); {
		case errors.Is(err, pgx.ErrNoRows):
			// First sighting.
		case err != nil:
			return fmt.Errorf("select hours: %w", err)
		default:
			delta := int64(now.Sub(lastSeen) / time.Second)
			if delta < 0 {
				delta = 0
			}
			if delta > int64(maxInt32) {
				delta = int64(maxInt32)
			}
			capped := maxGap
			if capped > int64(maxInt32) {
				capped = int64(maxInt32)
			}
			if maxGap > 0 && delta >= capped {
				newWatchtime = stored
			} else {
				newWatchtime = stored + int32(delta)
			}
		}

		upsertSQL := fmt.Sprintf(`INSERT INTO hours_%s (id, watchtime, last_seen) VALUES ($1, $2, $3)
			ON CONFLICT (id) DO UPDATE SET watchtime = EXCLUDED.watchtime, last_seen = EXCLUDED.last_seen`, suffix)
		if _, err := tx.Exec(ctx, upsertSQL, id, newWatchtime, now); err != nil {
			return fmt.Errorf("upsert hours: %w", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit hours: %w", err)
		}
		watchtime = newWatchtime
		return nil
	})
	return watchtime, err
}

// Link replaces any existing link for discordID on the given platform with a
// link to platformID.
func (s *Store) Link(ctx context.Context, platform msg.Platform, discordID, platformID string) error {
	return s.do(ctx, func() error {
		var table, column string
		switch platform {
		case msg.PlatformYoutube:
			table, column = "links_youtube", "youtube_id"
		case msg.PlatformTwitch:
			table, column = "links_twitch", "twitch_id"
		default:
			return fmt.Errorf("%w: %s", ErrInvalidPlatform, platform)
		}
		tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
		if err != nil {
			return fmt.Errorf("begin link transaction: %w", err)
		}
		defer rollbackTx(ctx, tx, s.logger)

		deleteSQL := fmt.Sprintf(`DELETE FROM %s WHERE discord_id = $1`, table)
		if _, err := tx.Exec(ctx, deleteSQL, discordID); err != nil {
			return fmt.Errorf("delete link: %w", err)
		}
		insertSQL := fmt.Sprintf(`INSERT INTO %s (discord_id, %s) VALUES ($1, $2)
			ON CONFLICT (%s) DO UPDATE SET discord_id = EXCLUDED.discord_id`, table, column, column)
		if _, err := tx.Exec(ctx, insertSQL, discordID, platformID); err != nil {
			return fmt.Errorf("insert link: %w", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit link: %w", err)
		}
		return nil
	})
}

const maxInt32 = int32(^uint32(0) >> 1)

func rollbackTx(ctx context.Context, tx pgx.Tx, logger *slog.Logger) {
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		logger.Warn("transaction rollback failed", "error", err)
	}
}
