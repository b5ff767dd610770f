//go:build !wasm
// +build !wasm

package gorm

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	ac "github.com/panyam/authcore"
)

// Adapter implements authcore.Adapter using GORM. Tables are addressed by
// name and rows exchanged as maps, so any schema produced by Migrate works.
type Adapter struct {
	db *gorm.DB
}

func NewAdapter(db *gorm.DB) *Adapter {
	return &Adapter{db: db}
}

func (a *Adapter) table(ctx context.Context, model string) *gorm.DB {
	return a.db.WithContext(ctx).Table(model)
}

func (a *Adapter) Create(ctx context.Context, model string, data ac.Record) (ac.Record, error) {
	row := toRow(data)
	if id, _ := row["id"].(string); id == "" {
		row["id"] = uuid.NewString()
	}
	if err := a.table(ctx, model).Create(row).Error; err != nil {
		if isDuplicateKey(err) {
			return nil, &ac.Error{Kind: ac.KindConflict, Code: "duplicate_record", Message: "record already exists in " + model, Err: err}
		}
		return nil, err
	}
	return ac.Record(row).Clone(), nil
}

func (a *Adapter) FindOne(ctx context.Context, model string, where []ac.Where) (ac.Record, error) {
	var rows []map[string]any
	err := applyWhere(a.table(ctx, model), where).Limit(1).Find(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ac.ErrRecordNotFound
	}
	return fromRow(rows[0]), nil
}

func (a *Adapter) FindMany(ctx context.Context, model string, query ac.FindManyQuery) ([]ac.Record, error) {
	tx := applyWhere(a.table(ctx, model), query.Where)
	if query.SortBy != nil && query.SortBy.Field != "" {
		tx = tx.Order(clause.OrderByColumn{Column: clause.Column{Name: query.SortBy.Field}, Desc: query.SortBy.Desc})
	}
	if query.Limit > 0 {
		tx = tx.Limit(query.Limit)
	}
	if query.Offset > 0 {
		if query.Limit <= 0 {
			// Some dialects reject OFFSET without LIMIT.
			tx = tx.Limit(-1)
		}
		tx = tx.Offset(query.Offset)
	}
	var rows []map[string]any
	if err := tx.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]ac.Record, len(rows))
	for i, row := range rows {
		out[i] = fromRow(row)
	}
	return out, nil
}

func (a *Adapter) Count(ctx context.Context, model string, where []ac.Where) (int64, error) {
	var n int64
	err := applyWhere(a.table(ctx, model), where).Count(&n).Error
	return n, err
}

// Update changes the first matching row and returns it as stored.
func (a *Adapter) Update(ctx context.Context, model string, where []ac.Where, data ac.Record) (ac.Record, error) {
	var updated ac.Record
	err := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []map[string]any
		if err := applyWhere(tx.Table(model), where).Limit(1).Find(&rows).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return ac.ErrRecordNotFound
		}
		byID := []ac.Where{ac.Eq("id", rows[0]["id"])}
		if err := applyWhere(tx.Table(model), byID).Updates(toRow(data)).Error; err != nil {
			return err
		}
		rows = rows[:0]
		if err := applyWhere(tx.Table(model), byID).Limit(1).Find(&rows).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return ac.ErrRecordNotFound
		}
		updated = fromRow(rows[0])
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (a *Adapter) UpdateMany(ctx context.Context, model string, where []ac.Where, data ac.Record) (int64, error) {
	tx := applyWhere(a.table(ctx, model).Session(&gorm.Session{AllowGlobalUpdate: true}), where).Updates(toRow(data))
	return tx.RowsAffected, tx.Error
}

// Delete removes the first matching row. Deleting nothing is not an error.
func (a *Adapter) Delete(ctx context.Context, model string, where []ac.Where) error {
	var rows []map[string]any
	if err := applyWhere(a.table(ctx, model), where).Select("id").Limit(1).Find(&rows).Error; err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	return applyWhere(a.table(ctx, model), []ac.Where{ac.Eq("id", rows[0]["id"])}).Delete(map[string]any{}).Error
}

func (a *Adapter) DeleteMany(ctx context.Context, model string, where []ac.Where) (int64, error) {
	tx := applyWhere(a.table(ctx, model).Session(&gorm.Session{AllowGlobalUpdate: true}), where).Delete(map[string]any{})
	return tx.RowsAffected, tx.Error
}

// applyWhere adds the clauses as one expression: the AND clauses joined
// with a disjunction of the OR clauses.
func applyWhere(tx *gorm.DB, where []ac.Where) *gorm.DB {
	var ands, ors []clause.Expression
	for _, w := range where {
		expr := toExpression(w)
		if w.Connector == ac.Or {
			ors = append(ors, expr)
		} else {
			ands = append(ands, expr)
		}
	}
	if len(ors) > 0 {
		ands = append(ands, clause.Or(ors...))
	}
	if len(ands) == 0 {
		return tx
	}
	return tx.Where(clause.And(ands...))
}

func toExpression(w ac.Where) clause.Expression {
	col := clause.Column{Name: w.Field}
	value := toColumnValue(w.Value)
	switch w.Operator {
	case ac.OpNe:
		return clause.Neq{Column: col, Value: value}
	case ac.OpLt:
		return clause.Lt{Column: col, Value: value}
	case ac.OpLte:
		return clause.Lte{Column: col, Value: value}
	case ac.OpGt:
		return clause.Gt{Column: col, Value: value}
	case ac.OpGte:
		return clause.Gte{Column: col, Value: value}
	case ac.OpIn:
		return clause.IN{Column: col, Values: anySlice(w.Value)}
	case ac.OpContains:
		return clause.Like{Column: col, Value: "%" + toString(w.Value) + "%"}
	case ac.OpStartsWith:
		return clause.Like{Column: col, Value: toString(w.Value) + "%"}
	case ac.OpEndsWith:
		return clause.Like{Column: col, Value: "%" + toString(w.Value)}
	}
	return clause.Eq{Column: col, Value: value}
}

func toString(v any) string {
	s, _ := v.(string)
	return s
}

func anySlice(v any) []any {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return []any{v}
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = toColumnValue(rv.Index(i).Interface())
	}
	return out
}

// toRow converts a record to column values: arrays and objects become JSON
// text, times are stored in UTC.
func toRow(rec ac.Record) map[string]any {
	row := make(map[string]any, len(rec))
	for k, v := range rec {
		row[k] = toColumnValue(v)
	}
	return row
}

func toColumnValue(v any) any {
	switch t := v.(type) {
	case nil, string, bool, int, int64, float64:
		return v
	case time.Time:
		return t.UTC()
	case *time.Time:
		if t == nil {
			return nil
		}
		return t.UTC()
	case []byte:
		return string(t)
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.Slice, reflect.Array, reflect.Map, reflect.Struct:
		data, err := json.Marshal(v)
		if err != nil {
			return v
		}
		return string(data)
	}
	return v
}

// fromRow normalises driver values: byte slices become strings and NULL
// columns are dropped.
func fromRow(row map[string]any) ac.Record {
	rec := make(ac.Record, len(row))
	for k, v := range row {
		switch t := v.(type) {
		case nil:
			continue
		case []byte:
			rec[k] = string(t)
		default:
			rec[k] = v
		}
	}
	return rec
}

// isDuplicateKey reports whether err is a unique constraint violation.
// Drivers without error translation only say so in the message.
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}
