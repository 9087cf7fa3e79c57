package ranking

import (
	"strings"
	"sync"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// LabelCollator orders labels the way the user's locale expects.
// collate.Collator keeps scratch buffers, so access is serialized.
type LabelCollator struct {
	mu       sync.Mutex
	collator *collate.Collator
}

func NewLabelCollator(locale string) *LabelCollator {
	tag, err := language.Parse(strings.TrimSpace(locale))
	if err != nil {
		tag = language.AmericanEnglish
	}
	return &LabelCollator{collator: collate.New(tag, collate.IgnoreCase)}
}

func (c *LabelCollator) Compare(a, b string) int {
	if c == nil {
		return strings.Compare(a, b)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.collator.CompareString(a, b)
}
