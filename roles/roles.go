// Package roles resolves the role set of an authenticated principal from an
// external role store, caching results per principal.
//
// Resolution fails closed. A store that cannot answer yields no roles, so
// every protected tool is denied. The one deliberate grant is DefaultRole,
// given to a principal the store has no document for, or to every principal
// when no store is configured. Anonymous callers never receive it.
package roles

import (
	"context"
	"errors"
)

// DefaultRole is granted to authenticated principals without a role document.
const DefaultRole = "developer"

// ErrNotFound is returned by a Store when it holds no document for the
// principal.
var ErrNotFound = errors.New("roles: principal not found")

// Document is a principal's stored record. Only the "roles" field is read.
type Document map[string]any

// Store looks up role documents. Lookup returns ErrNotFound when there is no
// document and any other error when the store could not be queried.
type Store interface {
	Lookup(ctx context.Context, principal string) (Document, error)
}

// Extract coerces the document's roles field into a list of role names. A
// missing field is an empty list. A field that is not a list yields an empty
// list and ok=false. Non-string list elements are dropped.
func Extract(doc Document) (roles []string, ok bool) {
	raw, present := doc["roles"]
	if !present || raw == nil {
		return []string{}, true
	}

	seen := make(map[string]struct{})
	add := func(r string) {
		if _, dup := seen[r]; dup {
			return
		}
		seen[r] = struct{}{}
		roles = append(roles, r)
	}

	switch v := raw.(type) {
	case []any:
		for _, item := range v {
			if s, isString := item.(string); isString {
				add(s)
			}
		}
	case []string:
		for _, s := range v {
			add(s)
		}
	default:
		return []string{}, false
	}

	if roles == nil {
		roles = []string{}
	}
	return roles, true
}
