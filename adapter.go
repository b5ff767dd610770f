package authcore

import (
	"context"
	"errors"
	"maps"
	"time"
)

// Record is a single row exchanged with storage. Keys are field names:
// logical names above the schema layer, column names below it.
type Record map[string]any

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	return maps.Clone(r)
}

func (r Record) String(key string) string {
	s, _ := r[key].(string)
	return s
}

func (r Record) Bool(key string) bool {
	b, _ := coerceBool(r[key])
	return b
}

func (r Record) Int64(key string) int64 {
	n, _ := coerceInt(r[key])
	return n
}

// Time returns the value at key as a time, accepting time.Time values and
// the string and numeric forms document stores hand back.
func (r Record) Time(key string) time.Time {
	t, _ := coerceTime(r[key])
	return t
}

// Operator is a comparison applied by a Where clause.
type Operator string

const (
	OpEq         Operator = "eq"
	OpNe         Operator = "ne"
	OpLt         Operator = "lt"
	OpLte        Operator = "lte"
	OpGt         Operator = "gt"
	OpGte        Operator = "gte"
	OpIn         Operator = "in"
	OpContains   Operator = "contains"
	OpStartsWith Operator = "starts_with"
	OpEndsWith   Operator = "ends_with"
)

// Connector joins a Where clause to the others of a query.
type Connector string

const (
	And Connector = "AND"
	Or  Connector = "OR"
)

// Where is a single predicate. A record matches a list of clauses when every
// AND clause holds and, if any OR clauses are present, at least one of them
// holds. An empty Operator means eq and an empty Connector means AND.
type Where struct {
	Field     string
	Operator  Operator
	Value     any
	Connector Connector
}

// Eq is shorthand for an AND equality clause.
func Eq(field string, value any) Where {
	return Where{Field: field, Operator: OpEq, Value: value}
}

// SortBy orders FindMany results.
type SortBy struct {
	Field string
	Desc  bool
}

// FindManyQuery selects records for FindMany. Limit <= 0 means no limit.
type FindManyQuery struct {
	Where  []Where
	SortBy *SortBy
	Limit  int
	Offset int
}

// ErrRecordNotFound is returned by FindOne and Update when nothing matches.
var ErrRecordNotFound = errors.New("record not found")

// Adapter is the storage contract every backend implements. Models and
// fields reach the adapter already translated to table and column names.
// Create returns the stored record, including any id the backend assigned.
type Adapter interface {
	Create(ctx context.Context, model string, data Record) (Record, error)
	FindOne(ctx context.Context, model string, where []Where) (Record, error)
	FindMany(ctx context.Context, model string, query FindManyQuery) ([]Record, error)
	Count(ctx context.Context, model string, where []Where) (int64, error)
	Update(ctx context.Context, model string, where []Where, data Record) (Record, error)
	UpdateMany(ctx context.Context, model string, where []Where, data Record) (int64, error)
	Delete(ctx context.Context, model string, where []Where) error
	DeleteMany(ctx context.Context, model string, where []Where) (int64, error)
}

// SecondaryStorage is a key/value store with expiry used for sessions and
// rate limit counters. A ttl of zero stores the value without expiry.
type SecondaryStorage interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// SetStorage is implemented by secondary storage that can add and remove
// set members atomically. Per-user session indexes use it when available;
// otherwise index updates are serialised within the process only.
type SetStorage interface {
	// SetAdd adds member to the set at key and extends the key's expiry to
	// at least ttl.
	SetAdd(ctx context.Context, key, member string, ttl time.Duration) error
	SetRemove(ctx context.Context, key, member string) error
	SetMembers(ctx context.Context, key string) ([]string, error)
}
