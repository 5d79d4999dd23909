package tracker

// tabStateKind tags the per-tab state variant.
type tabStateKind int

const (
	// tabUnknown: the tab has no tracked URL yet.
	tabUnknown tabStateKind = iota
	// tabCommitted: the tab settled on a URL; page and visit are known.
	tabCommitted
	// tabPendingFromSource: the tab was opened from a link in another tab
	// and carries that tab's page as a deferred edge source until its own
	// first commit consumes it.
	tabPendingFromSource
)

// tabState is the tracker-owned state for one tab. Which fields are
// meaningful depends on kind; there is no stringly-typed encoding of the
// pending marker.
type tabState struct {
	kind tabStateKind

	// Committed state.
	url     string // canonical form
	pageID  string
	visitID string

	// Pending-from-source marker.
	pendingFromPageID string
}
