package server

func (s *Server) initRoutes() {
	// LOGIN (link navigation, form post or fetch with Accept: application/json)
	s.RegisterRouteHandler("GET "+RouteAuthLogin, ChainMiddleware(s.LoginHandler(), s.BrowserMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteAuthLogin, ChainMiddleware(s.LoginHandler(), s.BrowserMiddleware(s.CorsMiddleware, s.SameOriginMiddleware)...))
	// LOGOUT is POST only so a third-party page cannot sign the user out with a plain GET
	s.RegisterRouteHandler("POST "+RouteAuthLogout, ChainMiddleware(s.LogoutHandler(), s.BrowserMiddleware(s.CorsMiddleware, s.SameOriginMiddleware)...))
	s.RegisterRouteHandler("GET "+RouteCallback, ChainMiddleware(s.CallbackHandler(), s.BrowserMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteCallback, ChainMiddleware(s.CallbackHandler(), s.BrowserMiddleware()...)) // For form_post response mode

	// Session state
	s.RegisterRouteHandler("GET "+RouteAPISession, ChainMiddleware(s.SessionStateHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteAPISessionStream, ChainMiddleware(s.SessionStreamHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteAPIToken, ChainMiddleware(s.TokenHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("OPTIONS /api/", ChainMiddleware(s.PreflightHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("OPTIONS /auth/", ChainMiddleware(s.PreflightHandler(), s.APIMiddleware()...))

	s.RegisterRouteFunc("GET "+RouteHealth, s.HealthHandler())
}
