package middleware

import (
	"net/http"

	"github.com/rs/cors"
)

// CORS creates the CORS layer for the two browser clients: the agent
// console and the visitor widget embedded on customer sites.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		// X-Visitor-Id / X-Company-Id are set by the widget loader
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Visitor-Id", "X-Company-Id"},
		AllowCredentials: true,
		MaxAge:           600,
	})

	return c.Handler
}
