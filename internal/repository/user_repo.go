package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"digestgenie/contracts/db"
)

type UserRepository struct {
	db *pgxpool.Pool
}

func NewUserRepository(db *pgxpool.Pool) *UserRepository {
	return &UserRepository{db: db}
}

// FindBySystemEmail resolves the owner of a forwarding address.
func (r *UserRepository) FindBySystemEmail(ctx context.Context, addr string) (*db.User, error) {
	query := `
        SELECT id, email, system_email
        FROM users
        WHERE LOWER(system_email) = $1
    `
	var u db.User
	err := r.db.QueryRow(ctx, query, strings.ToLower(addr)).Scan(&u.ID, &u.Email, &u.SystemEmail)
	if err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (r *UserRepository) SystemEmailExists(ctx context.Context, addr string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE LOWER(system_email) = $1)`,
		strings.ToLower(addr)).Scan(&exists)
	return exists, err
}

// AssignSystemEmail sets the forwarding address once; an existing address is kept and returned.
func (r *UserRepository) AssignSystemEmail(ctx context.Context, userID, addr string) (string, error) {
	query := `
        UPDATE users
        SET system_email = COALESCE(system_email, $2)
        WHERE id = $1
        RETURNING system_email
    `
	var assigned string
	if err := r.db.QueryRow(ctx, query, userID, addr).Scan(&assigned); err != nil {
		return "", fmt.Errorf("assign system email: %w", notFound(err))
	}
	return assigned, nil
}

// GetPreferences falls back to defaults when the user never saved preferences.
func (r *UserRepository) GetPreferences(ctx context.Context, userID string) (*db.UserPreferences, error) {
	query := `
        SELECT user_id, interest_keywords, summary_length, thumbnails_enabled
        FROM user_preferences
        WHERE user_id = $1
    `
	var p db.UserPreferences
	err := r.db.QueryRow(ctx, query, userID).Scan(&p.UserID, &p.InterestKeywords, &p.SummaryLength, &p.ThumbnailsEnabled)
	if err != nil {
		if err = notFound(err); err == ErrNotFound {
			return db.DefaultPreferences(userID), nil
		}
		return nil, err
	}
	return &p, nil
}
