package i18n

import "net/http"

// Middleware resolves a localizer for each request. A lang query
// parameter wins over the Accept-Language header; defaultLang answers
// when the request states neither.
func Middleware(defaultLang string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			prefs := make([]string, 0, 3)
			for _, lang := range []string{r.URL.Query().Get("lang"), r.Header.Get("Accept-Language"), defaultLang} {
				if lang != "" {
					prefs = append(prefs, lang)
				}
			}
			ctx := WithLocalizer(r.Context(), NewLocalizer(prefs...))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
