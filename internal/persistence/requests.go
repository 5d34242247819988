package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/ctib-core/Pulley/internal/allocator"
	"github.com/ctib-core/Pulley/internal/xmsg"
)

// RequestChecker is the durable tier of the allocator's replay
// protection, backed by audit.processed_requests. The in-memory set
// answers the hot path; this table answers after a restart.
type RequestChecker struct {
	db *sql.DB
}

func NewRequestChecker(db *sql.DB) *RequestChecker {
	return &RequestChecker{db: db}
}

func (c *RequestChecker) IsProcessed(ctx context.Context, id xmsg.RequestID) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	var exists int
	err := c.db.QueryRowContext(ctx, `
		SELECT 1
		FROM audit.processed_requests
		WHERE request_id = $1
		LIMIT 1
	`, id.String()).Scan(&exists)

	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (c *RequestChecker) MarkProcessed(ctx context.Context, req *allocator.CrossChainRequest) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO audit.processed_requests
			(request_id, destination, message_type, asset, amount, processed_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (request_id) DO NOTHING
	`, req.ID.String(), req.Destination, req.Type.String(), req.Asset, req.Amount)
	return err
}
