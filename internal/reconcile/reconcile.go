// Package reconcile turns the badges observed on a profile into the decision
// of which badge the player should collect next.
package reconcile

import (
	"habblive-backend/internal/catalog"
)

type Result struct {
	// Found holds the observed badges that belong to the catalog, in catalog order.
	Found []catalog.BadgeID
	// Next is the first catalog badge that was not observed, nil when Complete.
	Next     *catalog.BadgeID
	Missing  int
	Complete bool
}

// Reconcile is pure and deterministic: tokens outside the catalog are ignored
// and ties are always broken by catalog order, never by the order in which
// badges were observed.
func Reconcile(c catalog.Catalog, found catalog.Set) Result {
	result := Result{Found: []catalog.BadgeID{}}
	for _, id := range c.IDs() {
		if found.Has(id) {
			result.Found = append(result.Found, id)
			continue
		}
		if result.Next == nil {
			next := id
			result.Next = &next
		}
	}
	result.Missing = c.Len() - len(result.Found)
	result.Complete = result.Missing == 0
	return result
}
