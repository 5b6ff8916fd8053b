package mongostore

import (
	"fmt"

	"github.com/goliatone/go-repository-core/document"
	"go.mongodb.org/mongo-driver/bson"
)

// compile translates a document filter to a mongo query. Predicates on
// distinct fields merge into one document; a field named twice forces an
// explicit $and so no condition is lost to a duplicate key.
func compile(filter document.Filter) (bson.D, error) {
	conds := make(bson.A, 0, len(filter))
	merged := bson.D{}
	seen := make(map[string]struct{}, len(filter))
	repeated := false

	for _, p := range filter {
		var cond bson.D
		switch p.Op {
		case document.OpEq:
			cond = bson.D{{Key: "$eq", Value: p.Value}}
		case document.OpNe:
			cond = bson.D{{Key: "$ne", Value: p.Value}}
		case document.OpIn:
			values := p.Values
			if values == nil {
				values = []any{}
			}
			cond = bson.D{{Key: "$in", Value: bson.A(values)}}
		default:
			return nil, fmt.Errorf("%w: %s on %s", document.ErrUnsupportedPredicate, p.Op, p.Field)
		}

		e := bson.E{Key: p.Field, Value: cond}
		conds = append(conds, bson.D{e})
		merged = append(merged, e)
		if _, dup := seen[p.Field]; dup {
			repeated = true
		}
		seen[p.Field] = struct{}{}
	}

	if repeated {
		return bson.D{{Key: "$and", Value: conds}}, nil
	}
	return merged, nil
}

func indexKeys(fields []string) bson.D {
	keys := make(bson.D, len(fields))
	for i, f := range fields {
		keys[i] = bson.E{Key: f, Value: 1}
	}
	return keys
}
