// Package page defines the contracts between the annotation pipeline and
// whatever owns the live document. The pipeline never touches a DOM API
// directly: discovery, proximity notification, and fragment mounting all go
// through these interfaces, so the same scanner runs against a Chrome tab
// (internal/browser) or a fake in tests.
package page

import "context"

// Element is a stable handle on one candidate element in the document.
//
// Handles must be stable for the life of the element: the scanner keys its
// binding arena on Handle(), and a handle that changes between calls would
// defeat the exactly-once processing guarantee.
type Element interface {
	// Handle returns a document-unique, stable identifier for this element.
	Handle() string

	// Tag returns the element's tag name, lower-case.
	Tag() string

	// Href returns the href of the first descendant matching selector,
	// or "" if none matches.
	Href(selector string) string

	// Text returns the text content of the first descendant matching
	// selector, or "" if none matches.
	Text(selector string) string

	// InsertBefore inserts the HTML fragment as a sibling immediately
	// before the first descendant matching anchorSelector.
	InsertBefore(anchorSelector, html string) error

	// AppendInto appends the HTML fragment inside the first descendant
	// matching containerSelector.
	AppendInto(containerSelector, html string) error

	// RemoveAll removes every descendant matching selector. Removing zero
	// nodes is not an error.
	RemoveAll(selector string) error
}

// Surface is the document-level query interface.
type Surface interface {
	// Location returns the document's current address.
	Location() string

	// QueryAll returns every element matching the comma-separated
	// selector list.
	QueryAll(ctx context.Context, selector string) ([]Element, error)
}

// ProximityWatcher notifies when an observed element comes near the
// viewport. Implementations fire onNear at most once per Observe call;
// the pipeline additionally calls Unobserve from the callback to release
// the slot.
type ProximityWatcher interface {
	Observe(el Element, onNear func(Element))
	Unobserve(el Element)
}

// AddedFunc receives batches of elements inserted into the document after
// the initial scan. The DOM-change collaborator (a MutationObserver behind
// internal/browser, or a test driver) delivers added-node batches; the
// scanner filters them against its target selectors.
type AddedFunc func(ctx context.Context, els []Element) error
