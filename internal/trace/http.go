package trace

import (
	"context"
	"net/http"
)

// Middleware continues the caller's trace, or starts one, for each request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tc := FromFields(r.Header.Get)
		next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), tc)))
	})
}

// InjectHeaders writes ctx's trace and session into outgoing headers, such as
// the speech service upgrade request.
func InjectHeaders(ctx context.Context, h http.Header) {
	tc, ok := FromContext(ctx)
	if !ok {
		return
	}
	for k, v := range tc.Fields() {
		h.Set(k, v)
	}
}
