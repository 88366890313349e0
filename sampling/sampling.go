// Package sampling picks the bounded set of files handed to deeper scoring.
package sampling

import (
	"sort"

	"imgtriage/logger"
	"imgtriage/signals"
)

// MaxItems is the hard sample cap.
const MaxItems = 8

// Item is one sampled file. Head never leaves the process.
type Item struct {
	Path    string   `json:"path"`
	Name    string   `json:"name"`
	Head    []byte   `json:"-"`
	Size    int64    `json:"size"`
	Reasons []string `json:"reasons"`
}

// Candidate is a traversed file offered for sampling, in traversal order.
type Candidate struct {
	Path    string
	Name    string
	Size    int64
	Reasons []string
	// Head is the prefix already read during extraction, if retained.
	Head []byte
}

// HeadReader re-reads the sample prefix of the candidate at index i.
type HeadReader func(i int) ([]byte, error)

// Select admits candidates with explicit evidence first, in traversal order,
// then fills the remaining slots with the other candidates, largest first.
// Files carrying only weak evidence (high entropy) precede evidence-free files
// of the second tier so that reasoned items always come first. Admitted items
// are never revisited. max is clamped to MaxItems.
func Select(cands []Candidate, max int, reread HeadReader) []Item {
	if max <= 0 {
		return nil
	}
	if max > MaxItems {
		max = MaxItems
	}
	items := make([]Item, 0, max)
	var rest []int
	for i, c := range cands {
		if !signals.HasExplicit(c.Reasons) {
			rest = append(rest, i)
			continue
		}
		if len(items) >= max {
			continue
		}
		head := c.Head
		if head == nil && reread != nil {
			var err error
			if head, err = reread(i); err != nil {
				logger.Debugf("Sample head re-read failed for %s: %v", c.Path, err)
				head = nil
			}
		}
		items = append(items, newItem(c, head))
	}
	if len(items) >= max {
		return items
	}

	sort.SliceStable(rest, func(a, b int) bool {
		ca, cb := cands[rest[a]], cands[rest[b]]
		if ra, rb := len(ca.Reasons) > 0, len(cb.Reasons) > 0; ra != rb {
			return ra
		}
		return ca.Size > cb.Size
	})
	for _, i := range rest {
		if len(items) >= max {
			break
		}
		c := cands[i]
		var head []byte
		if reread != nil {
			var err error
			head, err = reread(i)
			if err != nil {
				logger.Debugf("Skipping sample %s: %v", c.Path, err)
				continue
			}
		}
		items = append(items, newItem(c, head))
	}
	return items
}

func newItem(c Candidate, head []byte) Item {
	reasons := c.Reasons
	if reasons == nil {
		reasons = []string{}
	}
	return Item{Path: c.Path, Name: c.Name, Head: head, Size: c.Size, Reasons: reasons}
}
