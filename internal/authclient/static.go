package authclient

import "context"

// StaticValidator accepts a fixed set of per-namespace tokens. It exists so
// the Hub is runnable standalone for local development and tests without
// wiring a real identity provider (SPEC_FULL.md Auth Token Record).
type StaticValidator struct {
	tokens map[Namespace]map[string]string // token -> subject
}

// NewStaticValidator builds a Validator from a map of namespace to
// token-to-subject pairs.
func NewStaticValidator(tokens map[Namespace]map[string]string) *StaticValidator {
	if tokens == nil {
		tokens = map[Namespace]map[string]string{}
	}
	return &StaticValidator{tokens: tokens}
}

func (v *StaticValidator) Validate(_ context.Context, ns Namespace, token string) (Result, error) {
	subjects, ok := v.tokens[ns]
	if !ok {
		return Result{Valid: false}, nil
	}
	subject, ok := subjects[token]
	if !ok {
		return Result{Valid: false}, nil
	}
	return Result{Valid: true, Subject: subject}, nil
}

// AllowAllValidator accepts any non-empty token. Intended only for local
// development where no auth collaborator is configured.
type AllowAllValidator struct{}

func (AllowAllValidator) Validate(_ context.Context, _ Namespace, token string) (Result, error) {
	if token == "" {
		return Result{Valid: false}, nil
	}
	return Result{Valid: true, Subject: "anonymous"}, nil
}
