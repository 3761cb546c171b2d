package server

import (
	"context"
	"net/http"
)

type contextKey int

const ctxKeySubject contextKey = 0

func contextWithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, ctxKeySubject, subject)
}

// Subject returns the authenticated user of r, or "" outside authMiddleware.
func Subject(r *http.Request) string {
	s, _ := r.Context().Value(ctxKeySubject).(string)
	return s
}
