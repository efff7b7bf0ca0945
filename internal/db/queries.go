package db

import (
	"context"
	"time"

	"github.com/HanTheDev/reqnest-engine/internal/models"
	"github.com/jackc/pgx/v5"
)

const schemaColumns = `id, name, schema_json, created_by, created_at, updated_at`

func scanSchema(row pgx.Row) (*models.SchemaDefinition, error) {
	var def models.SchemaDefinition
	err := row.Scan(
		&def.ID,
		&def.Name,
		&def.SchemaJSON,
		&def.CreatedBy,
		&def.CreatedAt,
		&def.UpdatedAt,
	)
	if err != nil {
		return nil, mapError(err)
	}
	return &def, nil
}

func (db *DB) CreateSchema(ctx context.Context, def *models.SchemaDefinition) error {
	query := `
        INSERT INTO api_schemas (name, schema_json, created_by)
        VALUES ($1, $2, $3)
        RETURNING id, created_at, updated_at
    `

	err := db.Pool.QueryRow(ctx, query, def.Name, def.SchemaJSON, def.CreatedBy).Scan(
		&def.ID,
		&def.CreatedAt,
		&def.UpdatedAt,
	)
	return mapError(err)
}

func (db *DB) GetSchema(ctx context.Context, name, owner string) (*models.SchemaDefinition, error) {
	query := `SELECT ` + schemaColumns + ` FROM api_schemas WHERE name = $1 AND created_by = $2`
	return scanSchema(db.Pool.QueryRow(ctx, query, name, owner))
}

// GetSchemaByName returns the oldest registration of name across owners.
func (db *DB) GetSchemaByName(ctx context.Context, name string) (*models.SchemaDefinition, error) {
	query := `SELECT ` + schemaColumns + ` FROM api_schemas WHERE name = $1 ORDER BY id LIMIT 1`
	return scanSchema(db.Pool.QueryRow(ctx, query, name))
}

func (db *DB) ListSchemasByOwner(ctx context.Context, owner string) ([]*models.SchemaDefinition, error) {
	query := `SELECT ` + schemaColumns + ` FROM api_schemas WHERE created_by = $1 ORDER BY id`

	rows, err := db.Pool.Query(ctx, query, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	defs := []*models.SchemaDefinition{}
	for rows.Next() {
		def, err := scanSchema(rows)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

func (db *DB) UpdateSchema(ctx context.Context, def *models.SchemaDefinition) error {
	query := `
        UPDATE api_schemas
        SET name = $2, schema_json = $3, updated_at = NOW()
        WHERE id = $1
        RETURNING updated_at
    `

	err := db.Pool.QueryRow(ctx, query, def.ID, def.Name, def.SchemaJSON).Scan(&def.UpdatedAt)
	return mapError(err)
}

func (db *DB) DeleteSchema(ctx context.Context, name, owner string) error {
	tag, err := db.Pool.Exec(ctx, `DELETE FROM api_schemas WHERE name = $1 AND created_by = $2`, name, owner)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (db *DB) CountSchemasByName(ctx context.Context, name string) (int, error) {
	var n int
	err := db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM api_schemas WHERE name = $1`, name).Scan(&n)
	return n, err
}

const userColumns = `email, name, api_key, tier, created_at, updated_at`

func scanUser(row pgx.Row) (*models.User, error) {
	var user models.User
	err := row.Scan(
		&user.Email,
		&user.Name,
		&user.APIKey,
		&user.Tier,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, mapError(err)
	}
	return &user, nil
}

func (db *DB) CreateUser(ctx context.Context, user *models.User) error {
	query := `
        INSERT INTO users (email, name, api_key, tier)
        VALUES ($1, $2, $3, $4)
        RETURNING created_at, updated_at
    `

	err := db.Pool.QueryRow(ctx, query, user.Email, user.Name, user.APIKey, user.Tier).Scan(
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	return mapError(err)
}

func (db *DB) GetUserByAPIKey(ctx context.Context, apiKey string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE api_key = $1`
	return scanUser(db.Pool.QueryRow(ctx, query, apiKey))
}

func (db *DB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUser(db.Pool.QueryRow(ctx, query, email))
}

func (db *DB) UpdateUserTier(ctx context.Context, email, tier string) error {
	tag, err := db.Pool.Exec(ctx, `UPDATE users SET tier = $2, updated_at = NOW() WHERE email = $1`, email, tier)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (db *DB) RotateAPIKey(ctx context.Context, email, newAPIKey string) error {
	tag, err := db.Pool.Exec(ctx, `UPDATE users SET api_key = $2, updated_at = NOW() WHERE email = $1`, email, newAPIKey)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// Tier returns the tier for apiKey, or "" if no user holds it.
func (db *DB) Tier(ctx context.Context, apiKey string) (string, error) {
	var tier string
	err := db.Pool.QueryRow(ctx, `SELECT tier FROM users WHERE api_key = $1`, apiKey).Scan(&tier)
	if err == pgx.ErrNoRows {
		return "", models.ErrNotFound
	}
	return tier, err
}

func (db *DB) LogUsage(ctx context.Context, rec *models.UsageRecord) error {
	query := `
        INSERT INTO usage_logs (user_id, api_name, operation, status, response_time_ms, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)
    `

	_, err := db.Pool.Exec(ctx, query,
		rec.UserID,
		rec.APIName,
		string(rec.Operation),
		rec.Status,
		rec.ResponseTimeMs,
		rec.Timestamp,
	)

	return err
}

// GetUsageAnalytics aggregates a user's persisted usage per API and
// operation over [from, to).
func (db *DB) GetUsageAnalytics(ctx context.Context, userID string, from, to time.Time) ([]models.UsageAnalytics, error) {
	query := `
        SELECT api_name, operation,
               COUNT(*),
               COUNT(*) FILTER (WHERE status <> 200),
               COALESCE(AVG(response_time_ms), 0),
               MAX(created_at)
        FROM usage_logs
        WHERE user_id = $1 AND created_at >= $2 AND created_at < $3
        GROUP BY api_name, operation
        ORDER BY api_name, operation
    `

	rows, err := db.Pool.Query(ctx, query, userID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := []models.UsageAnalytics{}
	for rows.Next() {
		var (
			a  models.UsageAnalytics
			op string
		)
		if err := rows.Scan(&a.APIName, &op, &a.Calls, &a.Errors, &a.AvgResponseTimeMs, &a.LastCall); err != nil {
			return nil, err
		}
		a.Operation = models.Operation(op)
		stats = append(stats, a)
	}
	return stats, rows.Err()
}
