package middleware

import "github.com/go-chi/cors"

// CORS allows every origin, method and header, and answers preflight
// requests directly.
var CORS = cors.Handler(cors.Options{
	AllowedOrigins: []string{"*"},
	AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
	AllowedHeaders: []string{"*"},
	MaxAge:         300,
})
