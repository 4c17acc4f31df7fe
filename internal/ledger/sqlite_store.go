package ledger

import (
	"context"

	"signal-trader/pkg/db"
)

// SQLiteStore keeps marks in the processed_messages table.
type SQLiteStore struct {
	db *db.Database
}

func NewSQLiteStore(database *db.Database) *SQLiteStore {
	return &SQLiteStore{db: database}
}

func (s *SQLiteStore) Load(ctx context.Context) (State, error) {
	rows, err := s.db.LoadProcessed(ctx)
	if err != nil {
		return nil, err
	}
	return FromSorted(rows), nil
}

func (s *SQLiteStore) Save(ctx context.Context, st State) error {
	return s.db.ReplaceProcessed(ctx, st.Sorted())
}

func (s *SQLiteStore) Append(ctx context.Context, channel, id int64) error {
	return s.db.InsertProcessed(ctx, channel, id)
}

func (s *SQLiteStore) Remove(ctx context.Context, channel, id int64) error {
	return s.db.DeleteProcessed(ctx, channel, id)
}
