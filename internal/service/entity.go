package service

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"

	"odatasample/internal/edm"
	"odatasample/internal/odata/query"
	"odatasample/internal/repository"
	"odatasample/internal/storage"
)

var (
	ErrNotFound    = errors.New("entity not found")
	ErrKeyRequired = errors.New("key is required")
	ErrEntityNil   = errors.New("entity is nil")
	ErrReaderNil   = errors.New("reader is nil")
	ErrInvalid     = errors.New("invalid entity")
	ErrNoMedia     = errors.New("entity type has no media stream")
)

// ListResult is a page of entities and the number of matches before paging.
type ListResult struct {
	Items []any
	Total int
}

// EntityService defines the use cases behind the OData controllers and the RESTier route.
// Entities are pointers to the Go type of the entity set's entity type.
type EntityService interface {
	List(ctx context.Context, set *edm.EntitySet, opts *query.Options) (*ListResult, error)
	Get(ctx context.Context, set *edm.EntitySet, key []query.KeyValue) (any, error)

	// Related lists the targets of a collection-valued navigation property of the entity at key.
	Related(ctx context.Context, model *edm.Model, set *edm.EntitySet, key []query.KeyValue, nav *edm.NavigationProperty, opts *query.Options) (*ListResult, error)
	// RelatedOne returns the target of a single-valued navigation property of the entity at key.
	RelatedOne(ctx context.Context, model *edm.Model, set *edm.EntitySet, key []query.KeyValue, nav *edm.NavigationProperty) (any, error)
	// Expand loads the named navigation properties into each entity.
	Expand(ctx context.Context, model *edm.Model, set *edm.EntitySet, items []any, expand []string) error

	// Create validates and stores a new entity.
	Create(ctx context.Context, set *edm.EntitySet, entity any) (any, error)
	// Replace validates the entity and overwrites the stored one at key.
	Replace(ctx context.Context, set *edm.EntitySet, key []query.KeyValue, entity any) error
	// Patch merges props of delta into the stored entity at key and returns the result.
	Patch(ctx context.Context, set *edm.EntitySet, key []query.KeyValue, props []*edm.Property, delta any) (any, error)
	// Delete removes the entity at key and its media stream.
	Delete(ctx context.Context, set *edm.EntitySet, key []query.KeyValue) error

	// Rate records a 1 to 5 rating for a product.
	Rate(ctx context.Context, productID, rating int) error

	// PutMedia replaces the media stream of the entity at key.
	PutMedia(ctx context.Context, set *edm.EntitySet, key []query.KeyValue, r io.Reader, contentType string, size int64) error
	// GetMedia returns the media stream of the entity at key and its content type.
	GetMedia(ctx context.Context, set *edm.EntitySet, key []query.KeyValue) ([]byte, string, error)
}

type entityService struct {
	repo    repository.EntityRepository
	ratings repository.RatingRepository
	store   storage.Storage
}

// NewEntityService constructs a new EntityService.
func NewEntityService(repo repository.EntityRepository, ratings repository.RatingRepository, store storage.Storage) EntityService {
	return &entityService{repo: repo, ratings: ratings, store: store}
}

func notFound(set *edm.EntitySet, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", set.Name, ErrNotFound)
	}
	return err
}

func (s *entityService) List(ctx context.Context, set *edm.EntitySet, opts *query.Options) (*ListResult, error) {
	res, err := s.repo.List(ctx, set, opts)
	if err != nil {
		return nil, err
	}
	return &ListResult{Items: res.Items, Total: res.Total}, nil
}

func (s *entityService) Get(ctx context.Context, set *edm.EntitySet, key []query.KeyValue) (any, error) {
	if len(key) == 0 {
		return nil, ErrKeyRequired
	}
	e, err := s.repo.FindByKey(ctx, set, key)
	if err != nil {
		return nil, notFound(set, err)
	}
	return e, nil
}

func targetSet(model *edm.Model, nav *edm.NavigationProperty) (*edm.EntitySet, error) {
	if nav.ForeignKey == nil {
		return nil, fmt.Errorf("navigation property %s declares no foreign key", nav.Name)
	}
	target, ok := model.EntitySetOf(nav.Target)
	if !ok {
		return nil, fmt.Errorf("navigation property %s: no entity set holds %s", nav.Name, nav.Target.FullName())
	}
	return target, nil
}

func referencing(fk *edm.Property, value any) query.Expr {
	return &query.BinaryExpr{Op: "eq", Left: &query.PropertyExpr{Property: fk}, Right: &query.ValueExpr{Value: value}}
}

func (s *entityService) Related(ctx context.Context, model *edm.Model, set *edm.EntitySet, key []query.KeyValue, nav *edm.NavigationProperty, opts *query.Options) (*ListResult, error) {
	target, err := targetSet(model, nav)
	if err != nil {
		return nil, err
	}
	source, err := s.Get(ctx, set, key)
	if err != nil {
		return nil, err
	}
	scoped := query.Options{}
	if opts != nil {
		scoped = *opts
	}
	filter := referencing(nav.ForeignKey, set.Type.KeyOf(source)[0])
	if scoped.Filter != nil {
		filter = &query.BinaryExpr{Op: "and", Left: filter, Right: scoped.Filter}
	}
	scoped.Filter = filter
	return s.List(ctx, target, &scoped)
}

func (s *entityService) RelatedOne(ctx context.Context, model *edm.Model, set *edm.EntitySet, key []query.KeyValue, nav *edm.NavigationProperty) (any, error) {
	target, err := targetSet(model, nav)
	if err != nil {
		return nil, err
	}
	source, err := s.Get(ctx, set, key)
	if err != nil {
		return nil, err
	}
	fk := reflect.ValueOf(source).Elem().FieldByIndex(nav.ForeignKey.Index).Interface()
	return s.Get(ctx, target, []query.KeyValue{{Property: target.Type.Key[0], Value: fk}})
}

func (s *entityService) Expand(ctx context.Context, model *edm.Model, set *edm.EntitySet, items []any, expand []string) error {
	for _, name := range expand {
		nav, ok := set.Type.NavigationProperty(name)
		if !ok {
			return fmt.Errorf("%w: %s has no navigation property %s", ErrInvalid, set.Type.Name, name)
		}
		target, err := targetSet(model, nav)
		if err != nil {
			return err
		}
		for _, item := range items {
			if err := s.expandOne(ctx, set, target, nav, item); err != nil {
				return fmt.Errorf("expand %s: %w", name, err)
			}
		}
	}
	return nil
}

func (s *entityService) expandOne(ctx context.Context, set, target *edm.EntitySet, nav *edm.NavigationProperty, item any) error {
	v := reflect.ValueOf(item).Elem()
	field := v.FieldByIndex(nav.Index)
	if nav.Collection {
		res, err := s.repo.List(ctx, target, &query.Options{Filter: referencing(nav.ForeignKey, set.Type.KeyOf(item)[0])})
		if err != nil {
			return err
		}
		slice := reflect.MakeSlice(field.Type(), 0, len(res.Items))
		for _, e := range res.Items {
			slice = reflect.Append(slice, assignable(reflect.ValueOf(e), field.Type().Elem()))
		}
		field.Set(slice)
		return nil
	}
	fk := v.FieldByIndex(nav.ForeignKey.Index).Interface()
	e, err := s.repo.FindByKey(ctx, target, []query.KeyValue{{Property: target.Type.Key[0], Value: fk}})
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	field.Set(assignable(reflect.ValueOf(e), field.Type()))
	return nil
}

// assignable dereferences a stored entity pointer when the field holds values.
func assignable(v reflect.Value, t reflect.Type) reflect.Value {
	if t.Kind() != reflect.Pointer && v.Kind() == reflect.Pointer {
		return v.Elem()
	}
	return v
}

func (s *entityService) Create(ctx context.Context, set *edm.EntitySet, entity any) (any, error) {
	if entity == nil {
		return nil, ErrEntityNil
	}
	if err := Validate(entity); err != nil {
		return nil, err
	}
	return s.repo.Create(ctx, set, entity)
}

func (s *entityService) Replace(ctx context.Context, set *edm.EntitySet, key []query.KeyValue, entity any) error {
	if len(key) == 0 {
		return ErrKeyRequired
	}
	if entity == nil {
		return ErrEntityNil
	}
	if err := Validate(entity); err != nil {
		return err
	}
	return notFound(set, s.repo.Update(ctx, set, key, entity))
}

func (s *entityService) Patch(ctx context.Context, set *edm.EntitySet, key []query.KeyValue, props []*edm.Property, delta any) (any, error) {
	if delta == nil {
		return nil, ErrEntityNil
	}
	current, err := s.Get(ctx, set, key)
	if err != nil {
		return nil, err
	}
	dst := reflect.ValueOf(current).Elem()
	src := reflect.Indirect(reflect.ValueOf(delta))
	for _, p := range props {
		if set.Type.IsKey(p) {
			continue
		}
		dst.FieldByIndex(p.Index).Set(src.FieldByIndex(p.Index))
	}
	if err := Validate(current); err != nil {
		return nil, err
	}
	if err := s.repo.Patch(ctx, set, key, props, current); err != nil {
		return nil, notFound(set, err)
	}
	return current, nil
}

func (s *entityService) Delete(ctx context.Context, set *edm.EntitySet, key []query.KeyValue) error {
	if len(key) == 0 {
		return ErrKeyRequired
	}
	if err := s.repo.Delete(ctx, set, key); err != nil {
		return notFound(set, err)
	}
	if set.Type.HasStream {
		if err := s.store.Delete(ctx, mediaKey(set, key)); err != nil {
			return fmt.Errorf("delete media: %w", err)
		}
	}
	return nil
}

func (s *entityService) Rate(ctx context.Context, productID, rating int) error {
	if err := ValidateRating(rating); err != nil {
		return err
	}
	if err := s.ratings.Create(ctx, productID, rating); err != nil {
		return fmt.Errorf("save rating: %w", err)
	}
	return nil
}

// mediaKey names the object holding an entity's stream: <set>/<key values joined by commas>.
func mediaKey(set *edm.EntitySet, key []query.KeyValue) string {
	parts := make([]string, len(key))
	for i, kv := range key {
		parts[i] = fmt.Sprint(kv.Value)
	}
	return set.Name + "/" + strings.Join(parts, ",")
}

func (s *entityService) PutMedia(ctx context.Context, set *edm.EntitySet, key []query.KeyValue, r io.Reader, contentType string, size int64) error {
	if r == nil {
		return ErrReaderNil
	}
	if !set.Type.HasStream {
		return ErrNoMedia
	}
	if _, err := s.Get(ctx, set, key); err != nil {
		return err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if _, err := s.store.Put(ctx, mediaKey(set, key), r, storage.PutObjectOptions{
		Size:        size,
		ContentType: contentType,
		Metadata:    map[string]string{"entity-set": set.Name},
	}); err != nil {
		return fmt.Errorf("upload to storage: %w", err)
	}
	return nil
}

func (s *entityService) GetMedia(ctx context.Context, set *edm.EntitySet, key []query.KeyValue) ([]byte, string, error) {
	if !set.Type.HasStream {
		return nil, "", ErrNoMedia
	}
	if _, err := s.Get(ctx, set, key); err != nil {
		return nil, "", err
	}
	rc, info, err := s.store.Get(ctx, mediaKey(set, key))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, "", fmt.Errorf("media of %s: %w", set.Name, ErrNotFound)
		}
		return nil, "", fmt.Errorf("download from storage: %w", err)
	}
	defer rc.Close()
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, rc); err != nil {
		return nil, "", fmt.Errorf("read media: %w", err)
	}
	return buf.Bytes(), info.ContentType, nil
}
