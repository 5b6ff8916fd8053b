package cache

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"unicode"
)

// KeySeparator joins the three parts of a cache key.
const KeySeparator = "_"

// KeySerializer builds the composite key of a cache entry from the cached
// type, the name of the lookup key and its value.
type KeySerializer interface {
	SerializeKey(typ, keyName, key string) string
}

// KeySerializerFunc adapts a function to KeySerializer.
type KeySerializerFunc func(typ, keyName, key string) string

func (f KeySerializerFunc) SerializeKey(typ, keyName, key string) string {
	return f(typ, keyName, key)
}

type defaultKeySerializer struct {
	prefix string
}

// NewDefaultKeySerializer returns the serializer producing {type}_{keyName}_{key}.
func NewDefaultKeySerializer() KeySerializer {
	return defaultKeySerializer{}
}

// NewPrefixedKeySerializer namespaces every key with prefix, e.g. a service name.
func NewPrefixedKeySerializer(prefix string) KeySerializer {
	return defaultKeySerializer{prefix: prefix}
}

func (s defaultKeySerializer) SerializeKey(typ, keyName, key string) string {
	k := typ + KeySeparator + keyName + KeySeparator + key
	if s.prefix != "" {
		return s.prefix + ":" + k
	}
	return k
}

// TypeName returns the snake_case type segment for T, ignoring pointers.
func TypeName[T any]() string {
	t := reflect.TypeFor[T]()
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	name := t.Name()
	if name == "" {
		name = t.String()
	}
	return snakeCase(name)
}

// snakeCase lowercases s and joins its words with underscores. A word ends at
// a case change, before a run of digits and at any character that is neither
// a letter nor a digit, so "pkg.Type[int]" becomes "pkg_type_int".
func snakeCase(s string) string {
	runes := []rune(s)
	var words []string
	var word []rune
	flush := func() {
		if len(word) > 0 {
			words = append(words, string(word))
			word = word[:0]
		}
	}
	for i, r := range runes {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			flush()
			continue
		}
		if len(word) > 0 {
			prev := runes[i-1]
			switch {
			case unicode.IsUpper(r) && (unicode.IsLower(prev) || unicode.IsDigit(prev)):
				flush()
			case unicode.IsUpper(r) && unicode.IsUpper(prev) && i+1 < len(runes) && unicode.IsLower(runes[i+1]):
				// last capital of an acronym starts the next word
				flush()
			case unicode.IsDigit(r) && !unicode.IsDigit(prev):
				flush()
			}
		}
		word = append(word, unicode.ToLower(r))
	}
	flush()
	return strings.Join(words, "_")
}

// FormatKey renders a lookup value as a stable key segment. Strings and
// numbers print as themselves, pointers are dereferenced, maps are sorted by
// key and anything else falls back to JSON.
func FormatKey(v any) string {
	if v == nil {
		return "nil"
	}
	if s, ok := v.(string); ok {
		return s
	}
	if s, ok := v.(fmt.Stringer); ok {
		return s.String()
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return "nil"
		}
		return FormatKey(rv.Elem().Interface())
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64, reflect.String:
		return fmt.Sprintf("%v", v)
	case reflect.Slice, reflect.Array:
		parts := make([]string, rv.Len())
		for i := range parts {
			parts[i] = FormatKey(rv.Index(i).Interface())
		}
		return "[" + strings.Join(parts, ",") + "]"
	case reflect.Map:
		pairs := make([]string, 0, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			pairs = append(pairs, FormatKey(iter.Key().Interface())+"="+FormatKey(iter.Value().Interface()))
		}
		sort.Strings(pairs)
		return "{" + strings.Join(pairs, ",") + "}"
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%T", v)
	}
	return string(data)
}
