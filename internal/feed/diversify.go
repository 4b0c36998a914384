package feed

import (
	"github.com/google/uuid"
)

// Diversifier reorders a scored pool into an output page enforcing a
// per-author cap.
type Diversifier struct {
	maxPerAuthor int
}

// NewDiversifier creates a new diversifier
func NewDiversifier(maxPerAuthor int) *Diversifier {
	return &Diversifier{maxPerAuthor: maxPerAuthor}
}

// Page runs a greedy pass over the pool (already sorted by final score
// descending) accepting each candidate whose author is below the cap. If
// the page ends short, a second pass relaxes the cap by one and fills the
// remainder; returning a fuller page is preferred over a short one. The
// relaxed flag feeds an internal metric only.
func (d *Diversifier) Page(pool []Candidate, pageSize int) (items []Candidate, relaxed bool) {
	items = make([]Candidate, 0, pageSize)
	perAuthor := make(map[uuid.UUID]int)
	taken := make(map[uuid.UUID]struct{}, pageSize)

	for _, c := range pool {
		if len(items) == pageSize {
			return items, false
		}
		if perAuthor[c.AuthorID] >= d.maxPerAuthor {
			continue
		}
		perAuthor[c.AuthorID]++
		taken[c.ID] = struct{}{}
		items = append(items, c)
	}
	if len(items) == pageSize {
		return items, false
	}

	// Short page: relax the cap by one and fill from the skipped candidates.
	for _, c := range pool {
		if len(items) == pageSize {
			break
		}
		if _, ok := taken[c.ID]; ok {
			continue
		}
		if perAuthor[c.AuthorID] >= d.maxPerAuthor+1 {
			continue
		}
		perAuthor[c.AuthorID]++
		taken[c.ID] = struct{}{}
		items = append(items, c)
		relaxed = true
	}

	return items, relaxed
}
