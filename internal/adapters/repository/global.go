package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	model "github.com/okian/mindshare/internal/domain/model"
	"github.com/okian/mindshare/pkg/logger"
)

// PublishStats describes a published rollup.
type PublishStats struct {
	Identities int `json:"identities"`
	Rankings   int `json:"rankings"`
	// Stale counts rankings carried over from the previous rollup with
	// zeroed metrics.
	Stale int `json:"stale"`
	// Kept counts rankings of unread projects carried over unchanged.
	Kept int `json:"kept"`
}

// IdentityView is one identity with its rankings grouped by provider, then
// by project.
type IdentityView struct {
	model.GlobalIdentity
	Providers []ProviderRankings `json:"providers"`
}

// ProviderRankings groups one provider's projects.
type ProviderRankings struct {
	Provider model.Provider    `json:"provider"`
	Projects []ProjectRankings `json:"projects"`
}

// ProjectRankings holds one project's rankings across timeframes.
type ProjectRankings struct {
	Project  string                `json:"project"`
	Rankings []model.GlobalRanking `json:"rankings"`
}

// GlobalStore holds the cross-project rollup.
type GlobalStore struct {
	db  *sql.DB
	log logger.Logger
	// mu serializes Publish; readers are never blocked by it.
	mu sync.Mutex
}

// OpenGlobal opens or creates the rollup store at path.
func OpenGlobal(ctx context.Context, path string, opts ...Option) (*GlobalStore, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	db, err := openDB(ctx, path, globalMigrations, o)
	if err != nil {
		return nil, err
	}
	return &GlobalStore{db: db, log: o.logger}, nil
}

// Close closes the database.
func (g *GlobalStore) Close() error { return g.db.Close() }

const (
	usersTable    = `(identity TEXT PRIMARY KEY, display_name TEXT NOT NULL DEFAULT '', image_url TEXT NOT NULL DEFAULT '', score REAL, followers INTEGER, smart_followers INTEGER)`
	rankingsTable = `(identity TEXT NOT NULL, project TEXT NOT NULL, provider TEXT NOT NULL, timeframe TEXT NOT NULL, rank INTEGER, composite_rank INTEGER, metric REAL NOT NULL DEFAULT 0, composite_metric REAL, position_change INTEGER, PRIMARY KEY (identity, project, timeframe))`
)

var globalIndexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_users_display_name ON users (display_name)`,
	`CREATE INDEX IF NOT EXISTS idx_rankings_identity ON rankings (identity)`,
	`CREATE INDEX IF NOT EXISTS idx_rankings_project_timeframe ON rankings (project, timeframe)`,
}

// Publish replaces the rollup with identities and rankings. The new tables
// are staged first and swapped in with one transaction, so readers see
// either the old rollup or the new one. Rankings of the old rollup missing
// from this one are kept with zero metrics and no ranks, and their
// identities are kept too. Rankings of the projects named in keep were not
// read this time and are carried over unchanged.
func (g *GlobalStore) Publish(ctx context.Context, identities []model.GlobalIdentity, rankings []model.GlobalRanking, keep ...string) (PublishStats, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.stage(ctx, identities, rankings); err != nil {
		return PublishStats{}, err
	}
	stats, err := g.swap(ctx, keep)
	if err != nil {
		return PublishStats{}, err
	}
	g.log.Info(ctx, "rollup published",
		logger.Int("identities", stats.Identities),
		logger.Int("rankings", stats.Rankings),
		logger.Int("stale", stats.Stale),
		logger.Int("kept", stats.Kept))
	return stats, nil
}

func (g *GlobalStore) stage(ctx context.Context, identities []model.GlobalIdentity, rankings []model.GlobalRanking) error {
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: stage: %w", ErrStoreWrite, err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, q := range []string{
		`DROP TABLE IF EXISTS users_temp`,
		`DROP TABLE IF EXISTS rankings_temp`,
		`CREATE TABLE users_temp ` + usersTable,
		`CREATE TABLE rankings_temp ` + rankingsTable,
	} {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("%w: stage: %w", ErrStoreWrite, err)
		}
	}

	users, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO users_temp
		(identity, display_name, image_url, score, followers, smart_followers)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("%w: stage users: %w", ErrStoreWrite, err)
	}
	defer users.Close()
	for _, u := range identities {
		if _, err := users.ExecContext(ctx, u.Identity, u.DisplayName, u.ImageURL,
			u.Score, u.Followers, u.SmartFollowers); err != nil {
			return fmt.Errorf("%w: stage user %s: %w", ErrStoreWrite, u.Identity, err)
		}
	}

	ranks, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO rankings_temp
		(identity, project, provider, timeframe, rank, composite_rank, metric, composite_metric, position_change)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("%w: stage rankings: %w", ErrStoreWrite, err)
	}
	defer ranks.Close()
	for _, r := range rankings {
		if _, err := ranks.ExecContext(ctx, r.Identity, r.Project, string(r.Provider), r.Timeframe,
			r.Rank, r.CompositeRank, r.Metric, r.CompositeMetric, r.PositionChange); err != nil {
			return fmt.Errorf("%w: stage ranking %s/%s: %w", ErrStoreWrite, r.Project, r.Identity, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: stage: %w", ErrStoreWrite, err)
	}
	return nil
}

func (g *GlobalStore) swap(ctx context.Context, keep []string) (PublishStats, error) {
	var stats PublishStats

	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return stats, fmt.Errorf("%w: swap: %w", ErrStoreWrite, err)
	}
	defer func() { _ = tx.Rollback() }()

	exec := func(q string) (sql.Result, error) {
		res, err := tx.ExecContext(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("%w: swap: %w", ErrStoreWrite, err)
		}
		return res, nil
	}

	for _, q := range []string{
		`ALTER TABLE users RENAME TO users_old`,
		`ALTER TABLE rankings RENAME TO rankings_old`,
		`ALTER TABLE users_temp RENAME TO users`,
		`ALTER TABLE rankings_temp RENAME TO rankings`,
	} {
		if _, err := exec(q); err != nil {
			return stats, err
		}
	}

	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM rankings`).Scan(&stats.Rankings); err != nil {
		return stats, fmt.Errorf("%w: swap: %w", ErrStoreWrite, err)
	}

	if len(keep) > 0 {
		args := make([]any, len(keep))
		for i, p := range keep {
			args[i] = p
		}
		res, err := tx.ExecContext(ctx, `INSERT INTO rankings
			(identity, project, provider, timeframe, rank, composite_rank, metric, composite_metric, position_change)
			SELECT o.identity, o.project, o.provider, o.timeframe, o.rank, o.composite_rank, o.metric,
				o.composite_metric, o.position_change
			FROM rankings_old o
			WHERE o.project IN (`+placeholders(len(keep))+`)
			AND NOT EXISTS (
				SELECT 1 FROM rankings n
				WHERE n.identity = o.identity AND n.project = o.project AND n.timeframe = o.timeframe)`, args...)
		if err != nil {
			return stats, fmt.Errorf("%w: swap: %w", ErrStoreWrite, err)
		}
		kept, _ := res.RowsAffected()
		stats.Kept = int(kept)
	}

	res, err := exec(`INSERT INTO rankings
		(identity, project, provider, timeframe, rank, composite_rank, metric, composite_metric, position_change)
		SELECT o.identity, o.project, o.provider, o.timeframe, NULL, NULL, 0,
			CASE WHEN o.composite_metric IS NULL THEN NULL ELSE 0 END, NULL
		FROM rankings_old o
		WHERE NOT EXISTS (
			SELECT 1 FROM rankings n
			WHERE n.identity = o.identity AND n.project = o.project AND n.timeframe = o.timeframe)`)
	if err != nil {
		return stats, err
	}
	stale, _ := res.RowsAffected()
	stats.Stale = int(stale)

	if _, err := exec(`INSERT INTO users
		SELECT o.* FROM users_old o
		WHERE NOT EXISTS (SELECT 1 FROM users n WHERE n.identity = o.identity)`); err != nil {
		return stats, err
	}

	for _, q := range []string{`DROP TABLE users_old`, `DROP TABLE rankings_old`} {
		if _, err := exec(q); err != nil {
			return stats, err
		}
	}
	for _, q := range globalIndexes {
		if _, err := exec(q); err != nil {
			return stats, err
		}
	}

	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&stats.Identities); err != nil {
		return stats, fmt.Errorf("%w: swap: %w", ErrStoreWrite, err)
	}
	if err := tx.Commit(); err != nil {
		return PublishStats{}, fmt.Errorf("%w: swap commit: %w", ErrStoreWrite, err)
	}
	return stats, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// Search returns identities whose identity or display name contains q,
// ordered by identity.
func (g *GlobalStore) Search(ctx context.Context, q string, limit int) ([]model.GlobalIdentity, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLimit, limit)
	}
	pattern := "%" + escapeLike(strings.TrimSpace(q)) + "%"
	rows, err := g.db.QueryContext(ctx, `SELECT identity, display_name, image_url, score, followers, smart_followers
		FROM users
		WHERE identity LIKE ? ESCAPE '\' OR display_name LIKE ? ESCAPE '\'
		ORDER BY identity
		LIMIT ?`, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer rows.Close()

	var out []model.GlobalIdentity
	for rows.Next() {
		var u model.GlobalIdentity
		if err := rows.Scan(&u.Identity, &u.DisplayName, &u.ImageURL,
			&u.Score, &u.Followers, &u.SmartFollowers); err != nil {
			return nil, fmt.Errorf("search: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// Identity returns one identity and its rankings, or ErrNotFound.
func (g *GlobalStore) Identity(ctx context.Context, id string) (*IdentityView, error) {
	view := &IdentityView{}
	err := g.db.QueryRowContext(ctx, `SELECT identity, display_name, image_url, score, followers, smart_followers
		FROM users WHERE identity = ?`, id).Scan(
		&view.Identity, &view.DisplayName, &view.ImageURL,
		&view.Score, &view.Followers, &view.SmartFollowers)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: identity %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("identity %s: %w", id, err)
	}

	rows, err := g.db.QueryContext(ctx, `SELECT identity, project, provider, timeframe, rank,
		composite_rank, metric, composite_metric, position_change
		FROM rankings WHERE identity = ?
		ORDER BY provider, project, timeframe`, id)
	if err != nil {
		return nil, fmt.Errorf("identity %s rankings: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			r        model.GlobalRanking
			provider string
		)
		if err := rows.Scan(&r.Identity, &r.Project, &provider, &r.Timeframe, &r.Rank,
			&r.CompositeRank, &r.Metric, &r.CompositeMetric, &r.PositionChange); err != nil {
			return nil, fmt.Errorf("identity %s rankings: %w", id, err)
		}
		r.Provider = model.Provider(provider)
		view.add(r)
	}
	return view, rows.Err()
}

// add appends r; rankings arrive ordered by provider then project.
func (v *IdentityView) add(r model.GlobalRanking) {
	if n := len(v.Providers); n == 0 || v.Providers[n-1].Provider != r.Provider {
		v.Providers = append(v.Providers, ProviderRankings{Provider: r.Provider})
	}
	p := &v.Providers[len(v.Providers)-1]
	if n := len(p.Projects); n == 0 || p.Projects[n-1].Project != r.Project {
		p.Projects = append(p.Projects, ProjectRankings{Project: r.Project})
	}
	proj := &p.Projects[len(p.Projects)-1]
	proj.Rankings = append(proj.Rankings, r)
}

// Counts returns the number of identities and rankings in the live rollup.
func (g *GlobalStore) Counts(ctx context.Context) (int, int, error) {
	var users, rankings int
	if err := g.db.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(*) FROM users), (SELECT COUNT(*) FROM rankings)`).Scan(&users, &rankings); err != nil {
		return 0, 0, fmt.Errorf("counts: %w", err)
	}
	return users, rankings, nil
}
