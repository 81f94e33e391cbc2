// Package httputil provides HTTP utilities shared by the API handlers.
//
// # Response Helpers
//
//	httputil.WriteJSON(w, http.StatusOK, data)
//	httputil.WriteNotFoundError(w, "release not found")
//	httputil.WriteInternalError(w)
//	httputil.WriteContent(w, http.StatusOK, "image/svg+xml", svg)
//
// Errors are always written as {"error": "<message>"}.
//
// # Request Parsing
//
//	owner, ok := httputil.ParsePathStringOrError(w, r, "owner")
//	query, present := httputil.ParseQueryText(r, "q")
//
// # Middleware
//
//	handler := httputil.Chain(
//		httputil.RecoveryMiddleware(logger),
//		httputil.RequestIDMiddleware(logger),
//		httputil.LoggingMiddleware(logger),
//		httputil.TimeoutMiddleware(10*time.Second),
//	)(router)
package httputil
