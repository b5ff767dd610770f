//go:build !wasm
// +build !wasm

package gae

import (
	"context"
	"errors"

	"cloud.google.com/go/datastore"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"

	ac "github.com/panyam/authcore"
)

// Adapter implements authcore.Adapter using Google Cloud Datastore
type Adapter struct {
	client    *datastore.Client
	namespace string
}

// NewAdapter creates a Datastore-backed adapter in namespace ("" is the
// default namespace).
func NewAdapter(client *datastore.Client, namespace string) *Adapter {
	return &Adapter{client: client, namespace: namespace}
}

func (a *Adapter) namespacedKey(kind, name string) *datastore.Key {
	key := datastore.NameKey(kind, name, nil)
	key.Namespace = a.namespace
	return key
}

type entity struct {
	key *datastore.Key
	rec ac.Record
}

// scan visits the entities of model matching where until fn returns false.
// A clause pinning the id becomes a key lookup.
func (a *Adapter) scan(ctx context.Context, model string, where []ac.Where, fn func(entity) bool) error {
	if id, ok := keyLookup(where); ok {
		key := a.namespacedKey(model, id)
		var props datastore.PropertyList
		err := a.client.Get(ctx, key, &props)
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil
		}
		if err != nil {
			return err
		}
		rec := fromProperties(key, props)
		if ac.MatchWhere(rec, where) {
			fn(entity{key: key, rec: rec})
		}
		return nil
	}

	q := datastore.NewQuery(model).Namespace(a.namespace)
	for _, w := range pushdownFilters(where) {
		q = q.FilterField(w.Field, "=", w.Value)
	}
	it := a.client.Run(ctx, q)
	for {
		var props datastore.PropertyList
		key, err := it.Next(&props)
		if err == iterator.Done {
			return nil
		}
		if err != nil {
			return err
		}
		rec := fromProperties(key, props)
		if !ac.MatchWhere(rec, where) {
			continue
		}
		if !fn(entity{key: key, rec: rec}) {
			return nil
		}
	}
}

func (a *Adapter) first(ctx context.Context, model string, where []ac.Where) (*entity, error) {
	var found *entity
	err := a.scan(ctx, model, where, func(e entity) bool {
		found = &e
		return false
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, ac.ErrRecordNotFound
	}
	return found, nil
}

func (a *Adapter) Create(ctx context.Context, model string, data ac.Record) (ac.Record, error) {
	rec := data.Clone()
	if rec == nil {
		rec = ac.Record{}
	}
	id, _ := rec["id"].(string)
	if id == "" {
		id = uuid.NewString()
		rec["id"] = id
	}
	if _, err := a.client.Put(ctx, a.namespacedKey(model, id), ptrTo(toProperties(rec))); err != nil {
		return nil, err
	}
	return rec, nil
}

func (a *Adapter) FindOne(ctx context.Context, model string, where []ac.Where) (ac.Record, error) {
	e, err := a.first(ctx, model, where)
	if err != nil {
		return nil, err
	}
	return e.rec, nil
}

func (a *Adapter) FindMany(ctx context.Context, model string, query ac.FindManyQuery) ([]ac.Record, error) {
	var rows []ac.Record
	err := a.scan(ctx, model, query.Where, func(e entity) bool {
		rows = append(rows, e.rec)
		return true
	})
	if err != nil {
		return nil, err
	}
	return ac.ApplyQuery(rows, ac.FindManyQuery{SortBy: query.SortBy, Limit: query.Limit, Offset: query.Offset}), nil
}

func (a *Adapter) Count(ctx context.Context, model string, where []ac.Where) (int64, error) {
	var n int64
	err := a.scan(ctx, model, where, func(entity) bool {
		n++
		return true
	})
	return n, err
}

// Update rewrites the first matching entity inside a transaction.
func (a *Adapter) Update(ctx context.Context, model string, where []ac.Where, data ac.Record) (ac.Record, error) {
	e, err := a.first(ctx, model, where)
	if err != nil {
		return nil, err
	}
	return a.update(ctx, e.key, data)
}

func (a *Adapter) update(ctx context.Context, key *datastore.Key, data ac.Record) (ac.Record, error) {
	var updated ac.Record
	_, err := a.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var props datastore.PropertyList
		if err := tx.Get(key, &props); err != nil {
			if errors.Is(err, datastore.ErrNoSuchEntity) {
				return ac.ErrRecordNotFound
			}
			return err
		}
		rec := fromProperties(key, props)
		for k, v := range data {
			if k != "id" {
				rec[k] = v
			}
		}
		if _, err := tx.Put(key, ptrTo(toProperties(rec))); err != nil {
			return err
		}
		updated = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (a *Adapter) UpdateMany(ctx context.Context, model string, where []ac.Where, data ac.Record) (int64, error) {
	keys, err := a.keys(ctx, model, where)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, key := range keys {
		if _, err := a.update(ctx, key, data); err != nil {
			if errors.Is(err, ac.ErrRecordNotFound) {
				continue
			}
			return n, err
		}
		n++
	}
	return n, nil
}

func (a *Adapter) Delete(ctx context.Context, model string, where []ac.Where) error {
	e, err := a.first(ctx, model, where)
	if errors.Is(err, ac.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return a.client.Delete(ctx, e.key)
}

func (a *Adapter) DeleteMany(ctx context.Context, model string, where []ac.Where) (int64, error) {
	keys, err := a.keys(ctx, model, where)
	if err != nil || len(keys) == 0 {
		return 0, err
	}
	if err := a.client.DeleteMulti(ctx, keys); err != nil {
		return 0, err
	}
	return int64(len(keys)), nil
}

func (a *Adapter) keys(ctx context.Context, model string, where []ac.Where) ([]*datastore.Key, error) {
	var keys []*datastore.Key
	err := a.scan(ctx, model, where, func(e entity) bool {
		keys = append(keys, e.key)
		return true
	})
	return keys, err
}

func ptrTo(props datastore.PropertyList) *datastore.PropertyList { return &props }
