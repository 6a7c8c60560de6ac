package postgres

import (
	"context"
	"database/sql"
	"time"

	"odatasample/internal/repository"
)

// RatingPostgres stores product ratings in product_ratings.
type RatingPostgres struct {
	db  *sql.DB
	now func() time.Time
}

func NewRatingPostgres(db *sql.DB) *RatingPostgres {
	return &RatingPostgres{db: db, now: time.Now}
}

var _ repository.RatingRepository = (*RatingPostgres)(nil)

func (r *RatingPostgres) Create(ctx context.Context, productID, rating int) error {
	const q = `
		INSERT INTO product_ratings (product_id, rating, rated_at)
		VALUES ($1, $2, $3)
	`
	_, err := r.db.ExecContext(ctx, q, productID, rating, r.now().UTC())
	return err
}
