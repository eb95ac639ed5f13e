// Package lock serializes claim, shadow-copy and position updates per item.
//
// Keys are always acquired in sorted order so two operations locking the same
// pair of items can never deadlock.
package lock

import (
	"context"
	"slices"

	id "concytec/pkg/domain"
)

// Locker acquires a set of advisory locks. The returned release function must
// be called exactly once.
type Locker interface {
	Acquire(ctx context.Context, keys ...string) (release func(), err error)
}

func ItemKey(itemID id.ItemID) string {
	return "item:" + itemID.String()
}

func EPersonKey(epersonID id.EPersonID) string {
	return "eperson:" + epersonID.String()
}

func normalize(keys []string) []string {
	out := slices.Clone(keys)
	slices.Sort(out)
	return slices.Compact(out)
}
