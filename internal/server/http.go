package server

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/runnerr0/trail/internal/apperr"
)

// HTTPOptions configures the HTTP transport.
type HTTPOptions struct {
	// AuthToken, when set, is required as a bearer token on /v1/rpc.
	AuthToken string
	// MaxRequestSize caps request bodies. Zero means no cap.
	MaxRequestSize int64
	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer
	Version  string
}

// NewRouter returns the gin engine serving svc:
//
//	POST /v1/rpc                     run one envelope
//	POST /v1/rpc/:requestId/abort    abort a running envelope
//	GET  /v1/health                  liveness and queue depth
//	GET  /metrics                    Prometheus metrics
func NewRouter(svc *Service, opts HTTPOptions) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/v1/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"version": opts.Version,
			"queued":  svc.jobs.Len(),
		})
	})
	if opts.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}

	rpc := r.Group("/v1/rpc")
	if opts.AuthToken != "" {
		rpc.Use(bearerAuth(opts.AuthToken))
	}
	rpc.POST("", func(c *gin.Context) {
		body := c.Request.Body
		if opts.MaxRequestSize > 0 {
			body = http.MaxBytesReader(c.Writer, body, opts.MaxRequestSize)
		}
		var env Envelope
		if err := json.NewDecoder(body).Decode(&env); err != nil {
			status := http.StatusBadRequest
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				status = http.StatusRequestEntityTooLarge
			}
			c.JSON(status, Fail("", apperr.Validation("decode envelope: %v", err)))
			return
		}
		c.JSON(http.StatusOK, svc.Handle(c.Request.Context(), env))
	})
	rpc.POST("/:requestId/abort", func(c *gin.Context) {
		id := c.Param("requestId")
		if !svc.Abort(id) {
			c.JSON(http.StatusNotFound, Fail(id, apperr.NotFound("request %s is not running", id)))
			return
		}
		c.JSON(http.StatusOK, Ok(id, gin.H{"aborted": true}))
	})
	return r
}

func bearerAuth(token string) gin.HandlerFunc {
	want := []byte(token)
	return func(c *gin.Context) {
		got := []byte(extractBearerToken(c))
		if len(got) == 0 || subtle.ConstantTimeCompare(got, want) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

// extractBearerToken reads "Authorization: Bearer <token>". The scheme is
// case-insensitive.
func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
