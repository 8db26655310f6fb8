package middleware

import (
	"math"
	"net/http"
	"strconv"

	"github.com/hearthchat/hearth/internal/ratelimit"
	"github.com/labstack/echo/v4"
)

// rateLimitResponse is the 429 body. Rejections are an expected outcome, not
// an error: they are logged at debug only.
type rateLimitResponse struct {
	Error           string `json:"error"`
	RetryAfter      int    `json:"retryAfter"`
	EndpointType    string `json:"endpointType"`
	IsAuthenticated bool   `json:"isAuthenticated"`
}

// AdmissionControl gates a route group through the sliding-window limiter.
// Clients are identified by their real IP; the class picks the budget, with
// sse further split by authentication state (OptionalAuth/Auth must run
// earlier in the chain for that to be visible).
func AdmissionControl(limiter *ratelimit.Limiter, class ratelimit.Class) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			_, isAuthenticated := CurrentUser(c)

			result := limiter.Check(c.RealIP(), class, isAuthenticated)
			if result.Allowed {
				return next(c)
			}

			retryAfter := int(math.Ceil(result.RetryAfter.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}

			FromContext(c.Request().Context()).Debug("Request rejected by admission control",
				"class", class,
				"source", c.RealIP(),
				"retry_in", retryAfter)

			c.Response().Header().Set("Retry-After", strconv.Itoa(retryAfter))
			return c.JSON(http.StatusTooManyRequests, rateLimitResponse{
				Error:           "Too many requests. Please try again later.",
				RetryAfter:      retryAfter,
				EndpointType:    string(class),
				IsAuthenticated: isAuthenticated,
			})
		}
	}
}
