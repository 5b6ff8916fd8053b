package memstore

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"

	"github.com/goliatone/go-repository-core/document"
	"go.mongodb.org/mongo-driver/bson"
)

// entry is an immutable stored document. Updates replace the entry.
type entry struct {
	key    string
	raw    bson.Raw
	fields bson.M
}

func newEntry(doc any) (*entry, error) {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("memstore: encode document: %w", err)
	}
	return entryFromRaw(raw)
}

func entryFromRaw(raw bson.Raw) (*entry, error) {
	id, err := raw.LookupErr(document.FieldID)
	if err != nil {
		return nil, ErrMissingID
	}
	var fields bson.M
	if err := bson.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("memstore: decode document: %w", err)
	}
	return &entry{key: id.String(), raw: raw, fields: fields}, nil
}

// withFields returns a copy of e with the given top-level fields overwritten.
func (e *entry) withFields(set map[string]any) (*entry, error) {
	var d bson.D
	if err := bson.Unmarshal(e.raw, &d); err != nil {
		return nil, fmt.Errorf("memstore: decode document: %w", err)
	}
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if name == document.FieldID {
			return nil, ErrImmutableID
		}
		replaced := false
		for i := range d {
			if d[i].Key == name {
				d[i].Value = set[name]
				replaced = true
				break
			}
		}
		if !replaced {
			d = append(d, bson.E{Key: name, Value: set[name]})
		}
	}

	raw, err := bson.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("memstore: encode document: %w", err)
	}
	return entryFromRaw(raw)
}

type changeOp int

const (
	opInsert changeOp = iota
	opReplace
	opDelete
)

// change is one write recorded by a transaction's staged table.
type change struct {
	op    changeOp
	key   string
	entry *entry
}

type table struct {
	keys    []string
	docs    map[string]*entry
	indexes []document.IndexSpec
	// journal is set on staged tables only.
	journal []change
	staged  bool
}

func newTable() *table {
	return &table{docs: make(map[string]*entry)}
}

func (t *table) clone() *table {
	out := &table{
		keys:    append([]string(nil), t.keys...),
		docs:    make(map[string]*entry, len(t.docs)),
		indexes: t.indexesCopy(),
	}
	for k, e := range t.docs {
		out.docs[k] = e
	}
	return out
}

func (t *table) indexesCopy() []document.IndexSpec {
	return append([]document.IndexSpec(nil), t.indexes...)
}

// scan returns matching entries in insertion order.
func (t *table) scan(filter document.Filter) ([]*entry, error) {
	var out []*entry
	for _, key := range t.keys {
		e := t.docs[key]
		ok, err := matches(e.fields, filter)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (t *table) insert(e *entry) error {
	if _, exists := t.docs[e.key]; exists {
		return fmt.Errorf("%w: _id %s", document.ErrDuplicateKey, e.key)
	}
	if err := t.checkUnique(e, ""); err != nil {
		return err
	}
	t.docs[e.key] = e
	t.keys = append(t.keys, e.key)
	t.record(change{op: opInsert, key: e.key, entry: e})
	return nil
}

func (t *table) replace(e *entry) error {
	if err := t.checkUnique(e, e.key); err != nil {
		return err
	}
	t.docs[e.key] = e
	t.record(change{op: opReplace, key: e.key, entry: e})
	return nil
}

func (t *table) remove(keys map[string]struct{}) {
	kept := t.keys[:0]
	for _, key := range t.keys {
		if _, drop := keys[key]; drop {
			delete(t.docs, key)
			t.record(change{op: opDelete, key: key})
			continue
		}
		kept = append(kept, key)
	}
	t.keys = kept
}

func (t *table) record(c change) {
	if t.staged {
		t.journal = append(t.journal, c)
	}
}

// apply replays a transaction's journal in order. A replace of a document
// removed since the transaction read it is a write conflict.
func (t *table) apply(changes []change) error {
	for _, c := range changes {
		switch c.op {
		case opInsert:
			if err := t.insert(c.entry); err != nil {
				return err
			}
		case opReplace:
			if _, ok := t.docs[c.key]; !ok {
				return fmt.Errorf("%w: _id %s was removed", ErrWriteConflict, c.key)
			}
			if err := t.replace(c.entry); err != nil {
				return err
			}
		case opDelete:
			t.remove(map[string]struct{}{c.key: {}})
		}
	}
	return nil
}

func (t *table) addIndex(spec document.IndexSpec) error {
	for _, existing := range t.indexes {
		if existing.Name == spec.Name {
			return nil
		}
	}
	if spec.Unique {
		seen := make(map[string]struct{}, len(t.docs))
		for _, key := range t.keys {
			k := indexKey(t.docs[key].fields, spec.Fields)
			if _, dup := seen[k]; dup {
				return fmt.Errorf("%w: index %s", document.ErrDuplicateKey, spec.Name)
			}
			seen[k] = struct{}{}
		}
	}
	t.indexes = append(t.indexes, spec)
	return nil
}

func (t *table) checkUnique(e *entry, self string) error {
	for _, idx := range t.indexes {
		if !idx.Unique {
			continue
		}
		want := indexKey(e.fields, idx.Fields)
		for _, key := range t.keys {
			if key == self {
				continue
			}
			if indexKey(t.docs[key].fields, idx.Fields) == want {
				return fmt.Errorf("%w: index %s", document.ErrDuplicateKey, idx.Name)
			}
		}
	}
	return nil
}

func indexKey(fields bson.M, names []string) string {
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%#v", canonical(fields[name]))
	}
	return strings.Join(parts, "\x00")
}

func matches(fields bson.M, filter document.Filter) (bool, error) {
	for _, p := range filter {
		actual, present := fields[p.Field]
		switch p.Op {
		case document.OpEq:
			want, err := normalize(p.Value)
			if err != nil {
				return false, err
			}
			if !equal(actual, present, want) {
				return false, nil
			}
		case document.OpNe:
			want, err := normalize(p.Value)
			if err != nil {
				return false, err
			}
			if equal(actual, present, want) {
				return false, nil
			}
		case document.OpIn:
			found := false
			for _, v := range p.Values {
				want, err := normalize(v)
				if err != nil {
					return false, err
				}
				if equal(actual, present, want) {
					found = true
					break
				}
			}
			if !found {
				return false, nil
			}
		default:
			return false, fmt.Errorf("%w: %s on %s", document.ErrUnsupportedPredicate, p.Op, p.Field)
		}
	}
	return true, nil
}

// normalize round-trips v through bson so it compares like a stored field value.
func normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := bson.Marshal(bson.D{{Key: "v", Value: v}})
	if err != nil {
		return nil, fmt.Errorf("memstore: encode predicate value: %w", err)
	}
	var out bson.M
	if err := bson.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("memstore: decode predicate value: %w", err)
	}
	return out["v"], nil
}

// equal follows mongo semantics where a nil predicate value matches a missing field.
func equal(actual any, present bool, want any) bool {
	if want == nil {
		return !present || actual == nil
	}
	if !present {
		return false
	}
	return reflect.DeepEqual(canonical(actual), canonical(want))
}

// canonical maps integer kinds to int64 so int32 and int64 compare by value.
// A float64 holding a whole number in the exact int64 range also becomes an
// int64; other floats stay as they are.
func canonical(v any) any {
	switch n := v.(type) {
	case int32:
		return int64(n)
	case int:
		return int64(n)
	case float64:
		if n == math.Trunc(n) && n >= -maxExactFloat && n <= maxExactFloat {
			return int64(n)
		}
		return n
	default:
		return v
	}
}

// maxExactFloat is the largest magnitude below which every integer is exact in a float64.
const maxExactFloat = 1 << 53
