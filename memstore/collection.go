package memstore

import (
	"context"
	"fmt"
	"reflect"

	"github.com/goliatone/go-repository-core/document"
	"go.mongodb.org/mongo-driver/bson"
)

// Collection is a handle on one in-memory collection.
type Collection struct {
	db   *Database
	name string
}

// Name returns the collection name.
func (c *Collection) Name() string {
	return c.name
}

// with runs fn against the table visible to ctx: the session's staged copy
// inside a transaction, the committed table otherwise.
func (c *Collection) with(ctx context.Context, write bool, fn func(*table) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s := sessionFrom(ctx, c.db); s != nil {
		s.mu.Lock()
		if s.ended {
			s.mu.Unlock()
			return document.ErrSessionEnded
		}
		if s.inTxn {
			defer s.mu.Unlock()
			t, ok := s.staged[c.name]
			if !ok {
				t = c.db.snapshot(c.name)
				s.staged[c.name] = t
			}
			return fn(t)
		}
		s.mu.Unlock()
	}

	if write {
		c.db.mu.Lock()
		defer c.db.mu.Unlock()
		return fn(c.db.committed(c.name))
	}
	c.db.mu.RLock()
	defer c.db.mu.RUnlock()
	t, ok := c.db.collections[c.name]
	if !ok {
		t = newTable()
	}
	return fn(t)
}

// Find decodes every match into out, a pointer to a slice of structs or struct pointers.
func (c *Collection) Find(ctx context.Context, filter document.Filter, out any) error {
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Ptr || rv.IsNil() || rv.Elem().Kind() != reflect.Slice {
		return document.ErrInvalidOutput
	}

	var found []*entry
	err := c.with(ctx, false, func(t *table) error {
		var err error
		found, err = t.scan(filter)
		return err
	})
	if err != nil {
		return err
	}

	sliceType := rv.Elem().Type()
	elemType := sliceType.Elem()
	result := reflect.MakeSlice(sliceType, 0, len(found))
	for _, e := range found {
		var item reflect.Value
		if elemType.Kind() == reflect.Ptr {
			item = reflect.New(elemType.Elem())
			if err := bson.Unmarshal(e.raw, item.Interface()); err != nil {
				return fmt.Errorf("memstore: decode %s: %w", e.key, err)
			}
		} else {
			ptr := reflect.New(elemType)
			if err := bson.Unmarshal(e.raw, ptr.Interface()); err != nil {
				return fmt.Errorf("memstore: decode %s: %w", e.key, err)
			}
			item = ptr.Elem()
		}
		result = reflect.Append(result, item)
	}
	rv.Elem().Set(result)
	return nil
}

// Count returns the number of matches.
func (c *Collection) Count(ctx context.Context, filter document.Filter) (int64, error) {
	var n int64
	err := c.with(ctx, false, func(t *table) error {
		found, err := t.scan(filter)
		n = int64(len(found))
		return err
	})
	return n, err
}

// InsertOne stores doc; the _id must be unique.
func (c *Collection) InsertOne(ctx context.Context, doc any) error {
	e, err := newEntry(doc)
	if err != nil {
		return err
	}
	return c.with(ctx, true, func(t *table) error {
		return t.insert(e)
	})
}

// ReplaceOne replaces the first match with doc, keeping its _id.
func (c *Collection) ReplaceOne(ctx context.Context, filter document.Filter, doc any) (int64, error) {
	e, err := newEntry(doc)
	if err != nil {
		return 0, err
	}
	var matched int64
	err = c.with(ctx, true, func(t *table) error {
		found, err := t.scan(filter)
		if err != nil || len(found) == 0 {
			return err
		}
		matched = 1
		if found[0].key != e.key {
			return ErrImmutableID
		}
		return t.replace(e)
	})
	return matched, err
}

// UpdateMany overwrites the given top-level fields on every match.
func (c *Collection) UpdateMany(ctx context.Context, filter document.Filter, set map[string]any) (int64, error) {
	var matched int64
	err := c.with(ctx, true, func(t *table) error {
		found, err := t.scan(filter)
		if err != nil {
			return err
		}
		for _, old := range found {
			updated, err := old.withFields(set)
			if err != nil {
				return err
			}
			if err := t.replace(updated); err != nil {
				return err
			}
			matched++
		}
		return nil
	})
	return matched, err
}

// DeleteMany removes every match.
func (c *Collection) DeleteMany(ctx context.Context, filter document.Filter) (int64, error) {
	var deleted int64
	err := c.with(ctx, true, func(t *table) error {
		found, err := t.scan(filter)
		if err != nil {
			return err
		}
		drop := make(map[string]struct{}, len(found))
		for _, e := range found {
			drop[e.key] = struct{}{}
		}
		t.remove(drop)
		deleted = int64(len(found))
		return nil
	})
	return deleted, err
}

// CreateIndex registers an index on the committed collection. Creating an
// index that already exists by name is a no-op.
func (c *Collection) CreateIndex(ctx context.Context, index document.IndexSpec) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if index.Name == "" {
		return fmt.Errorf("memstore: index on %s needs a name", c.name)
	}
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	return c.db.committed(c.name).addIndex(index)
}
