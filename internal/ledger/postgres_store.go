package ledger

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS processed_messages (
    channel_id BIGINT NOT NULL,
    message_id BIGINT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (channel_id, message_id)
)`

// PostgresStore keeps marks in a processed_messages table shared with
// operators who prefer a server database.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects and ensures the table exists.
func NewPostgresStore(ctx context.Context, url string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create processed_messages: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresStore) Load(ctx context.Context) (State, error) {
	rows, err := p.pool.Query(ctx, `SELECT channel_id, message_id FROM processed_messages`)
	if err != nil {
		return nil, fmt.Errorf("query processed_messages: %w", err)
	}
	defer rows.Close()

	s := make(State)
	for rows.Next() {
		var ch, id int64
		if err := rows.Scan(&ch, &id); err != nil {
			return nil, err
		}
		s.Add(ch, id)
	}
	return s, rows.Err()
}

func (p *PostgresStore) Save(ctx context.Context, s State) error {
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM processed_messages`); err != nil {
			return err
		}
		batch := &pgx.Batch{}
		for ch, ids := range s.Sorted() {
			for _, id := range ids {
				batch.Queue(`INSERT INTO processed_messages (channel_id, message_id) VALUES ($1, $2)`, ch, id)
			}
		}
		if batch.Len() == 0 {
			return nil
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

func (p *PostgresStore) Append(ctx context.Context, channel, id int64) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO processed_messages (channel_id, message_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		channel, id)
	if err != nil {
		return fmt.Errorf("insert processed %d/%d: %w", channel, id, err)
	}
	return nil
}

func (p *PostgresStore) Remove(ctx context.Context, channel, id int64) error {
	_, err := p.pool.Exec(ctx,
		`DELETE FROM processed_messages WHERE channel_id = $1 AND message_id = $2`, channel, id)
	return err
}

func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}
