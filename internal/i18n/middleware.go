package i18n

import "net/http"

// Middleware puts the locale of lang into every request context.
func Middleware(lang string) func(http.Handler) http.Handler {
	l := NewLocale(lang)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(WithLocale(r.Context(), l)))
		})
	}
}
