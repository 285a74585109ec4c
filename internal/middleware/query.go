package middleware

import "net/http"

// StripQueryParam removes the named query parameter from the request URL
// before it reaches next, including RequestURI as seen by access logs.
func StripQueryParam(name string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			if !q.Has(name) {
				next.ServeHTTP(w, r)
				return
			}

			q.Del(name)
			stripped := r.Clone(r.Context())
			stripped.URL.RawQuery = q.Encode()
			stripped.RequestURI = stripped.URL.RequestURI()
			next.ServeHTTP(w, stripped)
		})
	}
}
