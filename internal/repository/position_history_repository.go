package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/courier-track/internal/domain"
)

// PositionHistoryRepository archives accepted position writes.
type PositionHistoryRepository interface {
	Insert(ctx context.Context, entry *domain.PositionHistoryEntry) error
	ListRecent(ctx context.Context, agentID string, limit int) ([]domain.PositionHistoryEntry, error)
	DeleteByAgent(ctx context.Context, agentID string) error
}

type positionHistoryRepository struct {
	pool *pgxpool.Pool
}

// NewPositionHistoryRepository builds repository.
func NewPositionHistoryRepository(pool *pgxpool.Pool) PositionHistoryRepository {
	return &positionHistoryRepository{pool: pool}
}

func (r *positionHistoryRepository) Insert(ctx context.Context, entry *domain.PositionHistoryEntry) error {
	const query = `
        INSERT INTO agent_positions (agent_id, lat, lng, accuracy, speed_kmh, area, recorded_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        RETURNING id, created_at`
	return r.pool.QueryRow(ctx, query,
		entry.AgentID,
		entry.Lat,
		entry.Lng,
		entry.Accuracy,
		entry.SpeedKmh,
		entry.Area,
		entry.RecordedAt,
	).Scan(&entry.ID, &entry.CreatedAt)
}

func (r *positionHistoryRepository) ListRecent(ctx context.Context, agentID string, limit int) ([]domain.PositionHistoryEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	const query = `
        SELECT id, agent_id, lat, lng, accuracy, speed_kmh, area, recorded_at, created_at
        FROM agent_positions WHERE agent_id=$1 ORDER BY recorded_at DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, query, agentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.PositionHistoryEntry
	for rows.Next() {
		var entry domain.PositionHistoryEntry
		if err := rows.Scan(
			&entry.ID,
			&entry.AgentID,
			&entry.Lat,
			&entry.Lng,
			&entry.Accuracy,
			&entry.SpeedKmh,
			&entry.Area,
			&entry.RecordedAt,
			&entry.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, entry)
	}
	return result, rows.Err()
}

func (r *positionHistoryRepository) DeleteByAgent(ctx context.Context, agentID string) error {
	const query = `DELETE FROM agent_positions WHERE agent_id=$1`
	_, err := r.pool.Exec(ctx, query, agentID)
	return err
}
