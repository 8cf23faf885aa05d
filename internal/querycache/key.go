package querycache

import (
	"fmt"
	"strconv"
	"strings"
)

// Key identifies one cached query: a list of a kind under some parameters,
// or the detail of one record of a kind.
type Key struct {
	Kind   string
	Params string
	ID     int64
}

// ListKey is the key of a list query of kind with encoded params.
func ListKey(kind, params string) Key {
	return Key{Kind: kind, Params: params}
}

// DetailKey is the key of the detail query of record id of kind.
func DetailKey(kind string, id int64) Key {
	return Key{Kind: kind, ID: id}
}

// IsDetail reports whether k names a single record. Record ids start at 1.
func (k Key) IsDetail() bool {
	return k.ID != 0
}

func (k Key) String() string {
	if k.IsDetail() {
		return fmt.Sprintf("%s/detail/%d", k.Kind, k.ID)
	}
	return k.Kind + "/list/" + k.Params
}

// ParseKey is the inverse of Key.String.
func ParseKey(s string) (Key, error) {
	parts := strings.SplitN(s, "/", 3)
	if len(parts) != 3 || parts[0] == "" {
		return Key{}, fmt.Errorf("malformed cache key %q", s)
	}
	switch parts[1] {
	case "list":
		return ListKey(parts[0], parts[2]), nil
	case "detail":
		id, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil || id == 0 {
			return Key{}, fmt.Errorf("malformed detail id in cache key %q", s)
		}
		return DetailKey(parts[0], id), nil
	}
	return Key{}, fmt.Errorf("unknown cache key shape %q", s)
}

// Matcher selects keys for bulk operations.
type Matcher func(Key) bool

// Exact matches k only.
func Exact(k Key) Matcher {
	return func(o Key) bool { return o == k }
}

// Lists matches every list key of kind.
func Lists(kind string) Matcher {
	return func(k Key) bool { return k.Kind == kind && !k.IsDetail() }
}

// Kind matches every key of kind.
func Kind(kind string) Matcher {
	return func(k Key) bool { return k.Kind == kind }
}
