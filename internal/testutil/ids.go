package testutil

import (
	"fmt"
	"sync"

	"github.com/roach88/storydesk/internal/domain"
)

// SequenceGenerator returns prefix-1, prefix-2, ... and is safe for
// concurrent use.
type SequenceGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

var _ domain.IDGenerator = (*SequenceGenerator)(nil)

// SequenceIDs returns a deterministic ID generator producing prefix-1,
// prefix-2, and so on. The same scenario run twice yields identical IDs,
// which keeps golden output stable.
func SequenceIDs(prefix string) *SequenceGenerator {
	if prefix == "" {
		prefix = "id"
	}
	return &SequenceGenerator{prefix: prefix}
}

// NewID returns the next identity in sequence.
func (g *SequenceGenerator) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}
