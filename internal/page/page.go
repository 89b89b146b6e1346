// Package page defines the boundary to the rendering environment that hosts
// the target form. The environment itself (browser, extension, or embedded
// view) lives outside this module; the pipeline only consumes these
// inspection and mutation primitives. All calls for one page run on the
// environment's single cooperative event loop, so implementations do not need
// internal locking.
package page

import (
	"context"

	"golang.org/x/net/html"
)

// Inspector provides read-only access to the current document.
type Inspector interface {
	// URL returns the address of the current page.
	URL() string

	// Snapshot returns the parsed current document. The returned tree is a
	// point-in-time copy; callers must not mutate it.
	Snapshot(ctx context.Context) (*html.Node, error)

	// HasGlobal reports whether a named runtime object exists in the page,
	// e.g. the script-injected widget API object.
	HasGlobal(ctx context.Context, name string) (bool, error)
}

// Mutator applies changes back into the page.
type Mutator interface {
	// SetField sets the value of the first element matching selector.
	// When notify is true, input and change events are dispatched on the
	// element so bound listeners fire. Returns false when no element matches.
	SetField(ctx context.Context, selector, value string, notify bool) (bool, error)

	// InvokeFunction calls a page-global function by name with string
	// arguments. Returns false when no such function exists.
	InvokeFunction(ctx context.Context, name string, args ...string) (bool, error)

	// WidgetCallback resolves the callback function name registered with the
	// synchronous widget runtime, when the runtime exposes that lookup.
	WidgetCallback(ctx context.Context) (string, bool, error)

	// SetGlobal stores a value in a named page-global slot.
	SetGlobal(ctx context.Context, name, value string) error
}

// Session is one page's full boundary: inspection plus mutation.
type Session interface {
	Inspector
	Mutator
}
