package authcore

import (
	"context"
	"fmt"
)

// schemaAdapter translates logical model and field names to the storage
// names of the wrapped adapter and restores field types on the way back.
type schemaAdapter struct {
	schema *Schema
	next   Adapter
}

func newSchemaAdapter(schema *Schema, next Adapter) *schemaAdapter {
	return &schemaAdapter{schema: schema, next: next}
}

func (s *schemaAdapter) Create(ctx context.Context, model string, data Record) (Record, error) {
	rec, err := s.next.Create(ctx, s.schema.TableName(model), s.schema.ToStorage(model, data))
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", model, err)
	}
	return s.schema.FromStorage(model, rec), nil
}

func (s *schemaAdapter) FindOne(ctx context.Context, model string, where []Where) (Record, error) {
	rec, err := s.next.FindOne(ctx, s.schema.TableName(model), s.schema.WhereToStorage(model, where))
	if err != nil {
		return nil, err
	}
	return s.schema.FromStorage(model, rec), nil
}

func (s *schemaAdapter) FindMany(ctx context.Context, model string, query FindManyQuery) ([]Record, error) {
	query.Where = s.schema.WhereToStorage(model, query.Where)
	if query.SortBy != nil {
		query.SortBy = &SortBy{Field: s.schema.ColumnName(model, query.SortBy.Field), Desc: query.SortBy.Desc}
	}
	recs, err := s.next.FindMany(ctx, s.schema.TableName(model), query)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", model, err)
	}
	out := make([]Record, len(recs))
	for i, rec := range recs {
		out[i] = s.schema.FromStorage(model, rec)
	}
	return out, nil
}

func (s *schemaAdapter) Count(ctx context.Context, model string, where []Where) (int64, error) {
	return s.next.Count(ctx, s.schema.TableName(model), s.schema.WhereToStorage(model, where))
}

func (s *schemaAdapter) Update(ctx context.Context, model string, where []Where, data Record) (Record, error) {
	rec, err := s.next.Update(ctx, s.schema.TableName(model), s.schema.WhereToStorage(model, where), s.schema.ToStorage(model, data))
	if err != nil {
		return nil, err
	}
	return s.schema.FromStorage(model, rec), nil
}

func (s *schemaAdapter) UpdateMany(ctx context.Context, model string, where []Where, data Record) (int64, error) {
	return s.next.UpdateMany(ctx, s.schema.TableName(model), s.schema.WhereToStorage(model, where), s.schema.ToStorage(model, data))
}

func (s *schemaAdapter) Delete(ctx context.Context, model string, where []Where) error {
	return s.next.Delete(ctx, s.schema.TableName(model), s.schema.WhereToStorage(model, where))
}

func (s *schemaAdapter) DeleteMany(ctx context.Context, model string, where []Where) (int64, error) {
	return s.next.DeleteMany(ctx, s.schema.TableName(model), s.schema.WhereToStorage(model, where))
}
