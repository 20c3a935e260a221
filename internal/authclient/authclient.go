// Package authclient defines the Hub's contract with the external auth
// collaborator referenced by spec.md §4.5/§4.6 ("the Hub consults an
// external auth collaborator which returns {valid, subject}"). The
// collaborator itself is out of scope for this system; this package only
// types the boundary so the Hub can be wired against a real identity
// provider without changing any Session code.
package authclient

import "context"

// Namespace distinguishes the two disjoint token identity spaces spec.md
// §4.6 calls out: "tool-pipe tokens may be disjoint from browser tokens."
type Namespace string

const (
	NamespaceBrowser    Namespace = "browser"
	NamespaceToolServer Namespace = "tool-server"
)

// Result is the external collaborator's verdict on one token.
type Result struct {
	Valid   bool
	Subject string
}

// Validator checks a bearer token carried as a WebSocket upgrade query
// parameter (spec.md §4.5, §4.6). Implementations must be safe for
// concurrent use; Validate is called once per upgrade attempt.
type Validator interface {
	Validate(ctx context.Context, ns Namespace, token string) (Result, error)
}
