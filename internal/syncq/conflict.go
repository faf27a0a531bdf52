// Package syncq drains locally-produced events into the authoritative
// store exactly once, with retry, backoff and conflict resolution.
package syncq

import (
	"fmt"

	"github.com/openfesta/festmesh/internal/errs"
)

// Strategy selects how client state is reconciled with server state for
// sync types that have pre-existing server-side rows (presence, location).
type Strategy string

// Conflict resolution strategies.
const (
	ServerWins Strategy = "server_wins"
	ClientWins Strategy = "client_wins"
	Merge      Strategy = "merge"
	Manual     Strategy = "manual"
)

// Conflict carries both sides of an unresolved conflict for external
// resolution; nothing is applied automatically.
type Conflict struct {
	ItemID string         `json:"item_id"`
	Local  map[string]any `json:"local"`
	Server map[string]any `json:"server"`
}

// Resolve reconciles local and server field maps under the strategy.
// For Manual the returned map is nil and manual holds both sides.
func Resolve(strategy Strategy, itemID string, local, server map[string]any) (resolved map[string]any, manual *Conflict, err error) {
	switch strategy {
	case ClientWins:
		return mergeMaps(server, local, nil), nil, nil
	case ServerWins, "":
		return mergeMaps(local, server, nil), nil, nil
	case Merge:
		return mergeMaps(local, server, unionLists), nil, nil
	case Manual:
		return nil, &Conflict{ItemID: itemID, Local: local, Server: server}, nil
	default:
		return nil, nil, fmt.Errorf("%w: unknown strategy %q", errs.ErrInvalidInput, strategy)
	}
}

// mergeMaps overlays wins on top of base. When both sides hold a value for
// a key and combine is non-nil, combine may produce the merged value.
func mergeMaps(base, wins map[string]any, combine func(a, b any) (any, bool)) map[string]any {
	out := make(map[string]any, len(base)+len(wins))
	for k, v := range base {
		out[k] = v
	}
	for k, w := range wins {
		if b, ok := out[k]; ok && combine != nil {
			if merged, did := combine(b, w); did {
				out[k] = merged
				continue
			}
		}
		out[k] = w
	}
	return out
}

// unionLists set-unions two list values; non-list pairs are not combined,
// so the caller's overlay (server side, for Merge) wins.
func unionLists(a, b any) (any, bool) {
	la, aok := toList(a)
	lb, bok := toList(b)
	if !aok || !bok {
		return nil, false
	}
	seen := make(map[string]struct{}, len(la)+len(lb))
	out := make([]any, 0, len(la)+len(lb))
	for _, v := range append(la, lb...) {
		key := fmt.Sprintf("%v", v)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, v)
	}
	return out, true
}

func toList(v any) ([]any, bool) {
	switch l := v.(type) {
	case []any:
		return l, true
	case []string:
		out := make([]any, len(l))
		for i, s := range l {
			out[i] = s
		}
		return out, true
	default:
		return nil, false
	}
}
