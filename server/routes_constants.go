package server

// Route path constants
// All application routes are defined here to ensure consistency and prevent typos
const (
	// Auth Routes - Login & Logout
	RouteAuthLogin  = "/auth/login"
	RouteAuthLogout = "/auth/logout"
	RouteCallback   = "/callback"

	// API Routes
	RouteAPISession       = "/api/session"
	RouteAPISessionStream = "/api/session/stream"
	RouteAPIToken         = "/api/token"

	// Operational
	RouteHealth = "/healthz"
)
