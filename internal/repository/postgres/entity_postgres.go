package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"strings"

	"odatasample/internal/edm"
	"odatasample/internal/odata/query"
	"odatasample/internal/repository"
)

// EntityPostgres is a PostgreSQL implementation of repository.EntityRepository.
// Each entity set maps to the table named by EntitySet.Table and each structural
// property to the column named by Property.Column.
type EntityPostgres struct {
	db *sql.DB
}

// NewEntityPostgres creates a new EntityPostgres repository.
func NewEntityPostgres(db *sql.DB) *EntityPostgres {
	return &EntityPostgres{db: db}
}

var _ repository.EntityRepository = (*EntityPostgres)(nil)

func scanTargets(et *edm.EntityType, entity any) []any {
	v := reflect.ValueOf(entity).Elem()
	out := make([]any, len(et.Properties))
	for i, p := range et.Properties {
		out[i] = v.FieldByIndex(p.Index).Addr().Interface()
	}
	return out
}

func fieldValue(entity any, p *edm.Property) any {
	return reflect.Indirect(reflect.ValueOf(entity)).FieldByIndex(p.Index).Interface()
}

func nonKey(et *edm.EntityType) []*edm.Property {
	var out []*edm.Property
	for _, p := range et.Properties {
		if !et.IsKey(p) {
			out = append(out, p)
		}
	}
	return out
}

// List runs an optional COUNT query and a page query sharing the same WHERE clause.
func (r *EntityPostgres) List(ctx context.Context, set *edm.EntitySet, q *query.Options) (*repository.PageResult[any], error) {
	if q == nil {
		q = &query.Options{}
	}
	et := set.Type
	table := quote(set.Table)

	var b sqlBuilder
	where := ""
	if q.Filter != nil {
		cond, err := b.where(q.Filter)
		if err != nil {
			return nil, fmt.Errorf("translate filter: %w", err)
		}
		where = " WHERE " + cond
	}

	total := -1
	if q.Count {
		qCount := "SELECT COUNT(*) FROM " + table + where
		if err := r.db.QueryRowContext(ctx, qCount, b.args...).Scan(&total); err != nil {
			return nil, err
		}
	}

	qList := "SELECT " + columnList(et.Properties) + " FROM " + table + where + " ORDER BY " + orderBy(et, q.OrderBy)
	if q.Top != nil {
		qList += " LIMIT " + b.arg(*q.Top)
	}
	if q.Skip != nil {
		qList += " OFFSET " + b.arg(*q.Skip)
	}
	rows, err := r.db.QueryContext(ctx, qList, b.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]any, 0)
	for rows.Next() {
		e := et.New()
		if err := rows.Scan(scanTargets(et, e)...); err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if total < 0 {
		total = len(items)
	}
	return &repository.PageResult[any]{Items: items, Total: total}, nil
}

// FindByKey fetches a single entity by its key.
func (r *EntityPostgres) FindByKey(ctx context.Context, set *edm.EntitySet, key []query.KeyValue) (any, error) {
	et := set.Type
	var b sqlBuilder
	q := "SELECT " + columnList(et.Properties) + " FROM " + quote(set.Table) + " WHERE " + b.keyCondition(key)
	e := et.New()
	if err := r.db.QueryRowContext(ctx, q, b.args...).Scan(scanTargets(et, e)...); err != nil {
		return nil, err
	}
	return e, nil
}

// Create inserts a row and returns the stored record. A zero single-column key is left to the
// column default so the database assigns it.
func (r *EntityPostgres) Create(ctx context.Context, set *edm.EntitySet, entity any) (any, error) {
	et := set.Type
	var (
		b            sqlBuilder
		insert       []*edm.Property
		placeholders []string
	)
	for _, p := range et.Properties {
		if len(et.Key) == 1 && et.IsKey(p) && reflect.ValueOf(fieldValue(entity, p)).IsZero() {
			continue
		}
		insert = append(insert, p)
		placeholders = append(placeholders, b.arg(fieldValue(entity, p)))
	}
	q := "INSERT INTO " + quote(set.Table) + " (" + columnList(insert) + ") VALUES (" + strings.Join(placeholders, ", ") + ") RETURNING " + columnList(et.Properties)
	out := et.New()
	if err := r.db.QueryRowContext(ctx, q, b.args...).Scan(scanTargets(et, out)...); err != nil {
		return nil, err
	}
	return out, nil
}

// Update overwrites the non-key columns. A missing row yields sql.ErrNoRows.
func (r *EntityPostgres) Update(ctx context.Context, set *edm.EntitySet, key []query.KeyValue, entity any) error {
	return r.update(ctx, set, key, nonKey(set.Type), entity)
}

// Patch writes the given columns only; key properties are ignored.
func (r *EntityPostgres) Patch(ctx context.Context, set *edm.EntitySet, key []query.KeyValue, props []*edm.Property, entity any) error {
	var cols []*edm.Property
	for _, p := range props {
		if !set.Type.IsKey(p) {
			cols = append(cols, p)
		}
	}
	if len(cols) == 0 {
		_, err := r.FindByKey(ctx, set, key)
		return err
	}
	return r.update(ctx, set, key, cols, entity)
}

func (r *EntityPostgres) update(ctx context.Context, set *edm.EntitySet, key []query.KeyValue, cols []*edm.Property, entity any) error {
	var b sqlBuilder
	assignments := make([]string, len(cols))
	for i, p := range cols {
		assignments[i] = quote(p.Column) + " = " + b.arg(fieldValue(entity, p))
	}
	q := "UPDATE " + quote(set.Table) + " SET " + strings.Join(assignments, ", ") + " WHERE " + b.keyCondition(key)
	res, err := r.db.ExecContext(ctx, q, b.args...)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// Delete removes a row by key. A missing row yields sql.ErrNoRows.
func (r *EntityPostgres) Delete(ctx context.Context, set *edm.EntitySet, key []query.KeyValue) error {
	var b sqlBuilder
	q := "DELETE FROM " + quote(set.Table) + " WHERE " + b.keyCondition(key)
	res, err := r.db.ExecContext(ctx, q, b.args...)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
