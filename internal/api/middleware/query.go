package middleware

import "net/http"

// DropEmptyQuery удаляет параметры query string с пустыми значениями,
// чтобы "?email=&page=" означало отсутствие фильтров, а не пустой email.
func DropEmptyQuery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.RawQuery == "" {
			next.ServeHTTP(w, r)
			return
		}

		query := r.URL.Query()
		for key, values := range query {
			kept := values[:0]
			for _, v := range values {
				if v != "" {
					kept = append(kept, v)
				}
			}
			if len(kept) == 0 {
				query.Del(key)
			} else {
				query[key] = kept
			}
		}

		r2 := r.Clone(r.Context())
		r2.URL.RawQuery = query.Encode()
		next.ServeHTTP(w, r2)
	})
}
