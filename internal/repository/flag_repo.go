package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"digestgenie/pkg/featureflag"
)

// FlagRepository implements featureflag.Store.
type FlagRepository struct {
	db *pgxpool.Pool
}

func NewFlagRepository(db *pgxpool.Pool) *FlagRepository {
	return &FlagRepository{db: db}
}

func (r *FlagRepository) GetFlag(ctx context.Context, name string) (*featureflag.Flag, error) {
	var f featureflag.Flag
	err := r.db.QueryRow(ctx, `
        SELECT name, enabled, rollout_percentage, target_users, description, updated_at
        FROM feature_flags
        WHERE name = $1
    `, name).Scan(&f.Name, &f.Enabled, &f.RolloutPercentage, &f.TargetUsers, &f.Description, &f.UpdatedAt)
	if err != nil {
		if notFound(err) == ErrNotFound {
			return nil, featureflag.ErrNotFound
		}
		return nil, err
	}
	return &f, nil
}

func (r *FlagRepository) UpsertFlag(ctx context.Context, f *featureflag.Flag) error {
	targets := f.TargetUsers
	if targets == nil {
		targets = []string{}
	}
	_, err := r.db.Exec(ctx, `
        INSERT INTO feature_flags (name, enabled, rollout_percentage, target_users, description, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (name) DO UPDATE
        SET enabled = EXCLUDED.enabled,
            rollout_percentage = EXCLUDED.rollout_percentage,
            target_users = EXCLUDED.target_users,
            description = CASE WHEN EXCLUDED.description = '' THEN feature_flags.description
                               ELSE EXCLUDED.description END,
            updated_at = EXCLUDED.updated_at
    `, f.Name, f.Enabled, f.RolloutPercentage, targets, f.Description, f.UpdatedAt)
	return err
}

func (r *FlagRepository) ListFlags(ctx context.Context) ([]*featureflag.Flag, error) {
	rows, err := r.db.Query(ctx, `
        SELECT name, enabled, rollout_percentage, target_users, description, updated_at
        FROM feature_flags
        ORDER BY name
    `)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	flags := []*featureflag.Flag{}
	for rows.Next() {
		var f featureflag.Flag
		if err := rows.Scan(&f.Name, &f.Enabled, &f.RolloutPercentage, &f.TargetUsers, &f.Description, &f.UpdatedAt); err != nil {
			return nil, err
		}
		flags = append(flags, &f)
	}
	return flags, rows.Err()
}
