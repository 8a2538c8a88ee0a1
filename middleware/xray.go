package middleware

import (
	"context"

	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

const segmentName = "sandbox-runner"

// XRayMiddleware wraps Fiber requests with AWS X-Ray tracing
func XRayMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		// Skip tracing for health checks and scrapes to reduce noise
		if c.Path() == "/health" || c.Path() == "/metrics" {
			return c.Next()
		}

		ctx, seg := xray.BeginSegment(c.UserContext(), segmentName)
		defer func() {
			if seg != nil {
				seg.Close(nil)
			}
		}()

		// Add HTTP request metadata
		if seg.GetHTTP() != nil {
			seg.GetHTTP().GetRequest().Method = c.Method()
			seg.GetHTTP().GetRequest().URL = c.OriginalURL()
			seg.GetHTTP().GetRequest().ClientIP = c.IP()
			seg.GetHTTP().GetRequest().UserAgent = c.Get("User-Agent")
		}

		seg.AddAnnotation("route", c.Path())
		seg.AddAnnotation("method", c.Method())
		if sessionID := c.Params("sessionId"); sessionID != "" {
			seg.AddAnnotation("session_id", sessionID)
		}

		// Downstream handlers pick the segment up through GetXRayContext
		c.Locals("xray-ctx", ctx)
		c.SetUserContext(ctx)

		err := c.Next()

		if seg.GetHTTP() != nil {
			seg.GetHTTP().GetResponse().Status = c.Response().StatusCode()
		}

		if err != nil {
			log.Error().Err(err).Str("path", c.Path()).Msg("request error")
			seg.AddError(err)
			if seg.GetHTTP() != nil {
				seg.GetHTTP().GetResponse().Status = fiber.StatusInternalServerError
			}
		}

		return err
	}
}

// GetXRayContext retrieves the X-Ray context from Fiber locals, falling back
// to the request's user context when tracing is off.
func GetXRayContext(c *fiber.Ctx) context.Context {
	if ctx, ok := c.Locals("xray-ctx").(context.Context); ok {
		return ctx
	}
	return c.UserContext()
}
