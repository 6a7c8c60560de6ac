package migration

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
)

type migrationStep struct {
	Name string
	SQL  string
}

var steps = []migrationStep{
	{
		Name: "create_table_customers",
		SQL: `CREATE TABLE IF NOT EXISTS customers (
  id   SERIAL PRIMARY KEY,
  name TEXT   NOT NULL
);`,
	},
	{
		Name: "create_table_orders",
		SQL: `CREATE TABLE IF NOT EXISTS orders (
  order_id    SERIAL           PRIMARY KEY,
  order_name  TEXT             NOT NULL DEFAULT '',
  unit_price  DOUBLE PRECISION NOT NULL DEFAULT 0,
  customer_id INTEGER          NOT NULL REFERENCES customers (id) ON DELETE CASCADE
);`,
	},
	{
		Name: "create_index_orders_customer_id",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_orders_customer_id ON orders (customer_id);`,
	},
	{
		Name: "create_type_my_enum",
		SQL: `DO $$ BEGIN
  CREATE TYPE my_enum AS ENUM ('ValueOne', 'ValueTwo', 'ValueThree');
EXCEPTION WHEN duplicate_object THEN NULL;
END $$;`,
	},
	{
		Name: "create_table_products",
		SQL: `CREATE TABLE IF NOT EXISTS products (
  id         SERIAL           PRIMARY KEY,
  name       TEXT             NOT NULL,
  price      DOUBLE PRECISION NOT NULL DEFAULT 0 CHECK (price >= 0),
  enum_value my_enum          NOT NULL DEFAULT 'ValueOne'
);`,
	},
	{
		Name: "create_index_products_price",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_products_price ON products (price);`,
	},
	{
		Name: "create_table_product_ratings",
		SQL: `CREATE TABLE IF NOT EXISTS product_ratings (
  id         BIGSERIAL   PRIMARY KEY,
  product_id INTEGER     NOT NULL REFERENCES products (id) ON DELETE CASCADE,
  rating     SMALLINT    NOT NULL CHECK (rating BETWEEN 1 AND 5),
  rated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);`,
	},
	{
		Name: "create_index_product_ratings_product_id",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_product_ratings_product_id ON product_ratings (product_id);`,
	},
	{
		Name: "seed_sample_data",
		SQL: `INSERT INTO customers (name) VALUES ('Customer One'), ('Customer Two');
INSERT INTO orders (order_name, unit_price, customer_id) VALUES ('Order One', 2.5, 1), ('Order Two', 10, 1), ('Order Three', 7.25, 2);
INSERT INTO products (name, price, enum_value) VALUES ('Product One', 9.99, 'ValueOne'), ('Product Two', 19.99, 'ValueTwo'), ('Product Three', 4.5, 'ValueThree');`,
	},
}

// EnsureMigrated checks if the 'customers' table exists and runs migrations if it doesn't.
func EnsureMigrated(ctx context.Context, db *sql.DB, log *zap.Logger, dbHost string) error {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("component", "database"), zap.String("db_host", dbHost))
	start := time.Now()

	log.Info("db migration check", zap.String("event", "db_migration_check"), zap.String("status", "starting"))

	var exists bool
	query := "SELECT to_regclass('public.customers') IS NOT NULL"
	if err := db.QueryRowContext(ctx, query).Scan(&exists); err != nil {
		log.Error("db migration failed",
			zap.String("event", "db_migration_failed"),
			zap.String("status", "error"),
			zap.String("error_message", fmt.Sprintf("failed to check sentinel table: %v", err)),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
		return fmt.Errorf("failed to check sentinel table: %w", err)
	}

	if exists {
		log.Info("schema already exists, skipping migration",
			zap.String("event", "db_migration_skip"),
			zap.String("status", "success"),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
		return nil
	}

	log.Info("db migration start", zap.String("event", "db_migration_start"), zap.String("status", "in_progress"))

	for _, step := range steps {
		stepStart := time.Now()
		if _, err := db.ExecContext(ctx, step.SQL); err != nil {
			log.Error("db migration failed",
				zap.String("event", "db_migration_failed"),
				zap.String("status", "error"),
				zap.String("migration_step", step.Name),
				zap.String("error_message", err.Error()),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
				zap.Int64("step_duration_ms", time.Since(stepStart).Milliseconds()),
			)
			return fmt.Errorf("migration step %s failed: %w", step.Name, err)
		}

		log.Info("db migration step",
			zap.String("event", "db_migration_step"),
			zap.String("status", "success"),
			zap.String("migration_step", step.Name),
			zap.Int64("step_duration_ms", time.Since(stepStart).Milliseconds()),
		)
	}

	log.Info("db migration success",
		zap.String("event", "db_migration_success"),
		zap.String("status", "success"),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)

	return nil
}
