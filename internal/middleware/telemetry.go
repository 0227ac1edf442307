package middleware

import (
	"fmt"

	"github.com/getsentry/sentry-go"
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"
)

// TelemetryMiddleware attaches a Sentry hub to every request. Handler panics
// are reported and then re-raised so gin's recovery still answers 500.
func TelemetryMiddleware() gin.HandlerFunc {
	return sentrygin.New(sentrygin.Options{
		Repanic: true,
	})
}

// RouteTag labels the request's Sentry scope, e.g. "control" or "health",
// so engine commands can be filtered apart from polling traffic.
func RouteTag(kind string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if hub := sentrygin.GetHubFromContext(c); hub != nil {
			hub.Scope().SetTag("route_kind", kind)
		}
		c.Next()
	}
}

// RecordError reports err on the request hub and marks the transaction failed.
// It is a no-op when telemetry is not installed.
func RecordError(c *gin.Context, err error, operation string) {
	hub := sentrygin.GetHubFromContext(c)
	if hub == nil || err == nil {
		return
	}
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("operation", operation)
		hub.CaptureException(err)
	})
	if span := sentry.TransactionFromContext(c.Request.Context()); span != nil {
		span.Status = sentry.SpanStatusInternalError
	}
}

// AddBreadcrumb records a control action on the request hub.
func AddBreadcrumb(c *gin.Context, message string, data map[string]interface{}) {
	if hub := sentrygin.GetHubFromContext(c); hub != nil {
		hub.AddBreadcrumb(&sentry.Breadcrumb{
			Category: "control",
			Message:  message,
			Data:     data,
			Level:    sentry.LevelInfo,
		}, nil)
	}
}

// SetTag adds a tag to the request scope.
func SetTag(c *gin.Context, key string, value interface{}) {
	if hub := sentrygin.GetHubFromContext(c); hub != nil {
		hub.Scope().SetTag(key, fmt.Sprint(value))
	}
}
