// Package dedup drops candidates already stored for the same user and newsletter.
//
// The key is (user, newsletter, title). Two different articles sharing a title, such as a
// recurring "This Week in Review" section, are treated as one; nothing disambiguates them.
package dedup

import (
	"context"
	"fmt"

	"digestgenie/email-processor-service/internal/extractor"
)

type Lookup interface {
	ExistsByTitle(ctx context.Context, userID, newsletterID, title string) (bool, error)
}

type Gate struct {
	lookup Lookup
}

func NewGate(lookup Lookup) *Gate {
	return &Gate{lookup: lookup}
}

// Filter checks each candidate on its own so repeats do not hold back new articles from the
// same email. Duplicates inside the batch are dropped too.
func (g *Gate) Filter(ctx context.Context, userID, newsletterID string, candidates []extractor.Candidate) ([]extractor.Candidate, int, error) {
	fresh := make([]extractor.Candidate, 0, len(candidates))
	seen := make(map[string]bool, len(candidates))
	skipped := 0

	for _, c := range candidates {
		if seen[c.Title] {
			skipped++
			continue
		}
		seen[c.Title] = true

		exists, err := g.lookup.ExistsByTitle(ctx, userID, newsletterID, c.Title)
		if err != nil {
			return nil, 0, fmt.Errorf("dedup lookup: %w", err)
		}
		if exists {
			skipped++
			continue
		}
		fresh = append(fresh, c)
	}
	return fresh, skipped, nil
}
