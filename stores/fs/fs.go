// Package fs stores authcore records as JSON files, one directory per table
// and one file per record. It suits single process deployments and local
// development where a database is overkill.
package fs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	ac "github.com/panyam/authcore"
)

// Adapter implements authcore.Adapter on top of a directory tree. Values
// come back in their JSON form (times as RFC 3339 strings, numbers as
// json.Number); the schema layer coerces them to their declared types.
type Adapter struct {
	StoragePath string
	mu          sync.RWMutex
}

func NewAdapter(storagePath string) *Adapter {
	return &Adapter{StoragePath: storagePath}
}

func (a *Adapter) tableDir(model string) string {
	return filepath.Join(a.StoragePath, url.PathEscape(model))
}

func (a *Adapter) recordPath(model, id string) string {
	return filepath.Join(a.tableDir(model), url.PathEscape(id)+".json")
}

func (a *Adapter) save(model string, rec ac.Record) error {
	id, _ := rec["id"].(string)
	if id == "" {
		return fmt.Errorf("record in %s has no id", model)
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomicFile(a.recordPath(model, id), data)
}

// forEachRecord calls fn for every readable record of model. Unreadable
// files are skipped.
func (a *Adapter) forEachRecord(model string, fn func(rec ac.Record, path string) (bool, error)) error {
	dir := a.tableDir(model)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var rec ac.Record
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&rec); err != nil {
			continue
		}
		more, err := fn(rec, path)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
	return nil
}

func (a *Adapter) Create(_ context.Context, model string, data ac.Record) (ac.Record, error) {
	rec := data.Clone()
	if rec == nil {
		rec = ac.Record{}
	}
	if id, _ := rec["id"].(string); id == "" {
		rec["id"] = uuid.NewString()
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.save(model, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (a *Adapter) FindOne(_ context.Context, model string, where []ac.Where) (ac.Record, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var found ac.Record
	err := a.forEachRecord(model, func(rec ac.Record, _ string) (bool, error) {
		if ac.MatchWhere(rec, where) {
			found = rec
			return false, nil
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, ac.ErrRecordNotFound
	}
	return found, nil
}

func (a *Adapter) FindMany(_ context.Context, model string, query ac.FindManyQuery) ([]ac.Record, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var rows []ac.Record
	err := a.forEachRecord(model, func(rec ac.Record, _ string) (bool, error) {
		rows = append(rows, rec)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return ac.ApplyQuery(rows, query), nil
}

func (a *Adapter) Count(_ context.Context, model string, where []ac.Where) (int64, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var n int64
	err := a.forEachRecord(model, func(rec ac.Record, _ string) (bool, error) {
		if ac.MatchWhere(rec, where) {
			n++
		}
		return true, nil
	})
	return n, err
}

func (a *Adapter) Update(_ context.Context, model string, where []ac.Where, data ac.Record) (ac.Record, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var updated ac.Record
	err := a.forEachRecord(model, func(rec ac.Record, _ string) (bool, error) {
		if !ac.MatchWhere(rec, where) {
			return true, nil
		}
		for k, v := range data {
			rec[k] = v
		}
		updated = rec
		return false, a.save(model, rec)
	})
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, ac.ErrRecordNotFound
	}
	return updated, nil
}

func (a *Adapter) UpdateMany(_ context.Context, model string, where []ac.Where, data ac.Record) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var n int64
	err := a.forEachRecord(model, func(rec ac.Record, _ string) (bool, error) {
		if !ac.MatchWhere(rec, where) {
			return true, nil
		}
		for k, v := range data {
			rec[k] = v
		}
		n++
		return true, a.save(model, rec)
	})
	return n, err
}

func (a *Adapter) Delete(_ context.Context, model string, where []ac.Where) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.forEachRecord(model, func(rec ac.Record, path string) (bool, error) {
		if !ac.MatchWhere(rec, where) {
			return true, nil
		}
		return false, removeFile(path)
	})
}

func (a *Adapter) DeleteMany(_ context.Context, model string, where []ac.Where) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var n int64
	err := a.forEachRecord(model, func(rec ac.Record, path string) (bool, error) {
		if !ac.MatchWhere(rec, where) {
			return true, nil
		}
		n++
		return true, removeFile(path)
	})
	return n, err
}

func removeFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
