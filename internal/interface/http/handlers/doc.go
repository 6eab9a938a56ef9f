// Package handlers contains the health checks and the reusable middleware
// of the HTTP API.
//
// # Health Checks
//
// Checks are registered by name and executed in parallel:
//
//	checker := handlers.NewCompositeHealthChecker("v1.0.0")
//	checker.AddCheck("database", handlers.NewPingCheck(conn))
//	checker.AddCheck("redis", handlers.NewPingCheck(redisStore))
//	checker.AddOptionalCheck("notion", handlers.NewAvailabilityCheck(notionClient))
//
//	status := checker.Check(ctx)
//
// A failing required check makes the service unhealthy; a failing optional
// check only marks it degraded. The source adapters are optional because
// the API keeps serving cached data while their breakers are open.
//
// # Middleware
//
//	r.Use(handlers.CORS(origins))
//	r.Use(handlers.NewClientRateLimiter(20, 40).Middleware)
//	r.Use(handlers.SecurityHeaders)
package handlers
