package middleware

import (
	"net/http"
	"strings"
)

// SkipCompressionForStreams wraps a compression middleware handler to skip
// compression for progressive media stream endpoints. Stream delivery relies
// on flushing each fragment as it is appended; compression middleware buffers
// output and breaks that, and transcoded media does not compress anyway.
func SkipCompressionForStreams(compressionHandler func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		// Create the compression-wrapped handler
		compressedHandler := compressionHandler(next)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Stream endpoints hang off the conversions API as .../stream.
			if strings.HasSuffix(r.URL.Path, "/stream") && strings.Contains(r.URL.Path, "/conversions/") {
				next.ServeHTTP(w, r)
				return
			}

			// Apply compression for all other requests
			compressedHandler.ServeHTTP(w, r)
		})
	}
}
