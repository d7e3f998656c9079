// Package httpapi serves health, stats, Prometheus metrics and the Telegram
// webhook over one gin router.
package httpapi

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/zulandar/roadcall/internal/intake"
)

// SessionStats reports active sessions per stage.
type SessionStats interface {
	Stats(ctx context.Context) (map[intake.Stage]int, error)
}

// ReportCounter reports how many reports were submitted today.
type ReportCounter interface {
	CountToday(ctx context.Context, now time.Time) (int64, error)
}

// WebhookHandler consumes one Telegram webhook request.
type WebhookHandler interface {
	HandleWebhook(r *http.Request) error
}

// Opts holds configuration for the HTTP server.
type Opts struct {
	Port     int
	Sessions SessionStats
	// Reports is optional; without it /api/stats omits submitted_today.
	Reports ReportCounter
	// Pending is optional and reports users with queued events.
	Pending func() int
	// Webhook and WebhookToken enable POST /telegram/:token.
	Webhook      WebhookHandler
	WebhookToken string
	Version      string
	Logger       zerolog.Logger
	// Now defaults to time.Now; its location sets the day boundary.
	Now func() time.Time
}

// NewRouter builds the gin engine.
func NewRouter(opts Opts) (*gin.Engine, error) {
	if opts.Sessions == nil {
		return nil, fmt.Errorf("httpapi: session stats are required")
	}
	if opts.Webhook != nil && opts.WebhookToken == "" {
		return nil, fmt.Errorf("httpapi: webhook token is required with a webhook handler")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(opts.Logger))

	router.GET("/healthz", handleHealth(opts.Version))
	router.GET("/api/stats", handleStats(opts))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if opts.Webhook != nil {
		router.POST("/telegram/:token", handleWebhook(opts.Webhook, opts.WebhookToken, opts.Logger))
	}
	return router, nil
}

// Start runs the server until ctx is cancelled, then shuts down gracefully.
func Start(ctx context.Context, opts Opts) error {
	router, err := NewRouter(opts)
	if err != nil {
		return err
	}
	if opts.Port <= 0 {
		opts.Port = 8443
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	opts.Logger.Info().Int("port", opts.Port).Bool("webhook", opts.Webhook != nil).Msg("http server listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("httpapi: %w", err)
	}
	return nil
}

func requestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		// The webhook path embeds the bot token.
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		log.Debug().
			Str("method", c.Request.Method).
			Str("route", path).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("http request")
	}
}

func handleHealth(version string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "version": version})
	}
}

func handleStats(opts Opts) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		byStage, err := opts.Sessions.Stats(ctx)
		if err != nil {
			opts.Logger.Error().Err(err).Msg("session stats")
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "session store unavailable"})
			return
		}

		stages := make(map[string]int, len(byStage))
		active := 0
		for st, n := range byStage {
			stages[st.String()] = n
			active += n
		}
		body := gin.H{"active_sessions": active, "by_stage": stages}

		if opts.Pending != nil {
			body["pending_users"] = opts.Pending()
		}
		if opts.Reports != nil {
			n, err := opts.Reports.CountToday(ctx, opts.Now())
			if err != nil {
				opts.Logger.Warn().Err(err).Msg("count reports today")
			} else {
				body["submitted_today"] = n
			}
		}
		c.JSON(http.StatusOK, body)
	}
}

func handleWebhook(h WebhookHandler, token string, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if subtle.ConstantTimeCompare([]byte(c.Param("token")), []byte(token)) != 1 {
			c.Status(http.StatusNotFound)
			return
		}
		if err := h.HandleWebhook(c.Request); err != nil {
			log.Warn().Err(err).Msg("rejecting webhook update")
			c.Status(http.StatusBadRequest)
			return
		}
		c.Status(http.StatusOK)
	}
}
