// Package follow provides the follow-list model and the ranked search used
// by the followings page.
package follow

// UserRecord is a followed user as returned by the social API.
// Records are immutable once fetched; a refetch replaces the whole list.
type UserRecord struct {
	ID          int64  `json:"id"`
	DisplayName string `json:"nickname"`
}

// ListResponse is the payload of the followings endpoint.
type ListResponse struct {
	TotalCount int          `json:"totalCount"`
	Users      []UserRecord `json:"users"`
}

// ListState describes which view the followings page should render.
type ListState string

const (
	// StateOK means the list (possibly filtered) has entries to show.
	StateOK ListState = "ok"
	// StateEmpty means the subject follows nobody.
	StateEmpty ListState = "empty"
	// StateNoResults means a query was typed and matched nothing.
	StateNoResults ListState = "no_results"
	// StateForbidden means the viewer may not see this subject's followings.
	StateForbidden ListState = "forbidden"
)

// StateFor picks the page state for a fetched list and its search result.
// Forbidden is decided by the caller before a list exists.
func StateFor(all, filtered []UserRecord) ListState {
	switch {
	case len(all) == 0:
		return StateEmpty
	case len(filtered) == 0:
		return StateNoResults
	default:
		return StateOK
	}
}
