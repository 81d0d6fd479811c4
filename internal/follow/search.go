package follow

import (
	"slices"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// Searcher filters and ranks user records by display name.
// Ordering inside a tier uses the collation rules of its language tag.
type Searcher struct {
	tag language.Tag
}

// NewSearcher creates a Searcher that collates names for the given language.
// Use language.Und for root collation.
func NewSearcher(tag language.Tag) *Searcher {
	return &Searcher{tag: tag}
}

var defaultSearcher = NewSearcher(language.Und)

// Search ranks users against query using root collation.
// See Searcher.Search.
func Search(users []UserRecord, query string) []UserRecord {
	return defaultSearcher.Search(users, query)
}

// Search returns the users whose display name contains query, ignoring case.
//
// A query that is blank after trimming returns users as-is. Otherwise names
// starting with the query come first, and each tier is ordered by
// locale-aware comparison of the display name. The sort is stable, so
// records with equal names keep their input order. users is never modified.
func (s *Searcher) Search(users []UserRecord, query string) []UserRecord {
	if strings.TrimSpace(query) == "" {
		return users
	}

	lowerQuery := strings.ToLower(query)

	matched := make([]UserRecord, 0, len(users))
	for _, u := range users {
		if strings.Contains(strings.ToLower(u.DisplayName), lowerQuery) {
			matched = append(matched, u)
		}
	}
	if len(matched) < 2 {
		return matched
	}

	// collate.Collator keeps per-call buffers and must not be shared across goroutines.
	col := collate.New(s.tag)
	slices.SortStableFunc(matched, func(a, b UserRecord) int {
		aPrefix := strings.HasPrefix(strings.ToLower(a.DisplayName), lowerQuery)
		bPrefix := strings.HasPrefix(strings.ToLower(b.DisplayName), lowerQuery)
		if aPrefix && !bPrefix {
			return -1
		}
		if !aPrefix && bPrefix {
			return 1
		}
		return col.CompareString(a.DisplayName, b.DisplayName)
	})

	return matched
}
