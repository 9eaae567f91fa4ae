// Package middleware provides HTTP middleware for the registry API.
package middleware

import "context"

type contextKey string

const subjectKey contextKey = "auth_subject"

// WithSubject returns a context carrying the authenticated subject.
func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, subjectKey, subject)
}

// GetSubject returns the authenticated subject, or "" when the request is
// unauthenticated.
func GetSubject(ctx context.Context) string {
	if s, ok := ctx.Value(subjectKey).(string); ok {
		return s
	}
	return ""
}
