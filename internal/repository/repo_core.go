package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"wasmscan/internal/models"
)

// Repository is the single gateway to the indexed database: event tables
// written by the exporter, the computation memo, accounts and webhook
// subscriptions. All reads are plain SQL over a pgx pool.
type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(dbURL string) (*Repository, error) {
	config, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse db url: %w", err)
	}

	// Apply Pool Settings
	if maxConnStr := os.Getenv("DB_MAX_OPEN_CONNS"); maxConnStr != "" {
		if maxConn, err := strconv.Atoi(maxConnStr); err == nil {
			config.MaxConns = int32(maxConn)
		}
	}
	if minConnStr := os.Getenv("DB_MAX_IDLE_CONNS"); minConnStr != "" {
		if minConn, err := strconv.Atoi(minConnStr); err == nil {
			config.MinConns = int32(minConn)
		}
	}

	// Prevent stale connections from surviving across deployments.
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	// Kill orphaned queries: the range evaluator can fan out many reads
	// per request, and a cancelled client must not leave them running.
	if config.ConnConfig.RuntimeParams == nil {
		config.ConnConfig.RuntimeParams = map[string]string{}
	}
	if _, ok := config.ConnConfig.RuntimeParams["statement_timeout"]; !ok {
		config.ConnConfig.RuntimeParams["statement_timeout"] = getEnvDefault("DB_STATEMENT_TIMEOUT", "300000") // 5 min
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	return &Repository{db: pool}, nil
}

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func (r *Repository) Migrate(schemaPath string) error {
	content, err := os.ReadFile(schemaPath)
	if err != nil {
		return fmt.Errorf("failed to read schema file: %w", err)
	}

	// Execute the entire schema script
	_, err = r.db.Exec(context.Background(), string(content))
	if err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}

func (r *Repository) Close() {
	r.db.Close()
}

// GetState returns the exporter-maintained chain state singleton, nil
// before the exporter has written it.
func (r *Repository) GetState(ctx context.Context) (*models.State, error) {
	var s models.State
	err := r.db.QueryRow(ctx,
		`SELECT chain_id, latest_block_height, latest_block_time_unix_ms FROM state`,
	).Scan(&s.ChainID, &s.LatestBlockHeight, &s.LatestBlockTimeUnixMs)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// --- blocks ---

func (r *Repository) scanBlock(row pgx.Row) (*models.Block, error) {
	var b models.Block
	err := row.Scan(&b.Height, &b.TimeUnixMs)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *Repository) GetBlock(ctx context.Context, height uint64) (*models.Block, error) {
	return r.scanBlock(r.db.QueryRow(ctx,
		`SELECT height, time_unix_ms FROM blocks WHERE height = $1`, height))
}

func (r *Repository) GetBlockAtOrAfter(ctx context.Context, height uint64) (*models.Block, error) {
	return r.scanBlock(r.db.QueryRow(ctx,
		`SELECT height, time_unix_ms FROM blocks WHERE height >= $1 ORDER BY height ASC LIMIT 1`, height))
}

func (r *Repository) GetFirstBlock(ctx context.Context) (*models.Block, error) {
	return r.scanBlock(r.db.QueryRow(ctx,
		`SELECT height, time_unix_ms FROM blocks ORDER BY height ASC LIMIT 1`))
}

func (r *Repository) GetLatestBlock(ctx context.Context) (*models.Block, error) {
	return r.scanBlock(r.db.QueryRow(ctx,
		`SELECT height, time_unix_ms FROM blocks ORDER BY height DESC LIMIT 1`))
}

// GetBlockForTime resolves a wall-clock instant to the block in effect at
// that time: the greatest block at or before it, or the first indexed
// block when the instant predates the chain.
func (r *Repository) GetBlockForTime(ctx context.Context, timeUnixMs uint64) (*models.Block, error) {
	b, err := r.scanBlock(r.db.QueryRow(ctx,
		`SELECT height, time_unix_ms FROM blocks WHERE time_unix_ms <= $1 ORDER BY height DESC LIMIT 1`, timeUnixMs))
	if err != nil || b != nil {
		return b, err
	}
	return r.GetFirstBlock(ctx)
}

// --- contracts and validators ---

func (r *Repository) GetContract(ctx context.Context, address string) (*models.Contract, error) {
	var c models.Contract
	err := r.db.QueryRow(ctx,
		`SELECT address, code_id, COALESCE(admin, ''), COALESCE(creator, ''), COALESCE(label, ''),
		        instantiated_at_block_height, instantiated_at_block_time_unix_ms
		 FROM contracts WHERE address = $1`, address,
	).Scan(&c.Address, &c.CodeID, &c.Admin, &c.Creator, &c.Label,
		&c.InstantiatedAtBlockHeight, &c.InstantiatedAtBlockTimeUnixMs)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *Repository) GetValidator(ctx context.Context, operatorAddress string) (*models.Validator, error) {
	var v models.Validator
	err := r.db.QueryRow(ctx,
		`SELECT operator_address, COALESCE(consensus_address, ''), COALESCE(moniker, '')
		 FROM validators WHERE operator_address = $1`, operatorAddress,
	).Scan(&v.OperatorAddress, &v.ConsensusAddress, &v.Moniker)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}
