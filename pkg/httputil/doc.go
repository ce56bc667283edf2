// Package httputil provides HTTP helpers for JSON request binding, error
// responses and the common middleware stack.
//
// # Request Binding
//
//	var req VerifyUserRequest
//	if err := httputil.MapRequest(r, &req); err != nil {
//		// err wraps httputil.ErrInvalidData
//	}
//
// MapRequestOrError writes the 400 response itself.
//
// # Responses
//
//	httputil.WriteJSON(w, http.StatusOK, data)
//	httputil.WriteUnauthorized(w, "Unauthorized")
//	httputil.WriteServiceUnavailable(w, "sso connection unavailable")
//
// # Middleware
//
//	httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware(logger),
//		httputil.MaxBytesMiddleware(1<<20),
//	)
//
// LoggingMiddleware stores a request-scoped logrus entry in the context;
// retrieve it with observability.FromContext.
package httputil
