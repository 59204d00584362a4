// Package api contains all endpoints available
package api

import (
	"fmt"
	"time"

	"bitwise74/stream-vault/db"
	"bitwise74/stream-vault/internal"
	"bitwise74/stream-vault/internal/authz"
	"bitwise74/stream-vault/internal/identity"
	"bitwise74/stream-vault/internal/queue"
	"bitwise74/stream-vault/internal/reconcile"
	"bitwise74/stream-vault/internal/remote"
	"bitwise74/stream-vault/internal/scheduler"
	"bitwise74/stream-vault/internal/token"
	"bitwise74/stream-vault/pkg/middleware"

	cache "github.com/chenyahui/gin-cache"
	"github.com/chenyahui/gin-cache/persist"
	ginzap "github.com/gin-contrib/zap"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	gray  = "\x1b[90m"
	reset = "\x1b[0m"
)

var store = persist.NewMemoryStore(time.Minute)

type API struct {
	Router    *gin.Engine
	Deps      *internal.Deps
	Scheduler *scheduler.Scheduler
}

func NewRouter() (*API, error) {
	makeLogger()

	d, err := buildDeps()
	if err != nil {
		return nil, err
	}

	a := newRouter(d)

	sched, err := scheduler.New(d.DB, d.Queue, d.Reconciler)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize scheduler, %w", err)
	}

	a.Scheduler = sched
	sched.Start()

	return a, nil
}

func buildDeps() (*internal.Deps, error) {
	conn, err := db.New()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize asset store, %w", err)
	}

	s3, err := remote.NewS3()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize remote client, %w", err)
	}

	rc := remote.WithRetries(s3)

	az := authz.NewEngine(identity.New(conn), viper.GetDuration("authz.cache_ttl"))

	return &internal.Deps{
		DB:         conn,
		Remote:     rc,
		Authz:      az,
		Tokens:     token.NewService(conn, az),
		Queue:      queue.New(conn, rc, queue.FromConfig()),
		Reconciler: reconcile.New(conn, rc),
	}, nil
}

// newRouter wires the routes over already built dependencies. Split from
// NewRouter so tests can inject stub collaborators.
func newRouter(d *internal.Deps) *API {
	router := gin.New()

	a := &API{
		Router: router,
		Deps:   d,
	}

	router.Use(
		cors.New(cors.Config{
			AllowOrigins:     []string{"http://localhost:5173"},
			AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Caller-ID"},
			ExposeHeaders:    []string{"Content-Length"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}),
		gin.Recovery(),
		middleware.NewRequestIDMiddleware(),
		ginzap.GinzapWithConfig(zap.L(), &ginzap.Config{
			TimeFormat: "15:04:05.000",
			UTC:        true,
			Skipper: func(c *gin.Context) bool {
				return c.Request.Method == "HEAD"
			},
			Context: func(c *gin.Context) []zapcore.Field {
				fields := []zapcore.Field{}

				if v := c.GetString("requestID"); v != "" {
					fields = append(fields, zap.String("request_id", v))
				}

				if v := c.GetString("callerID"); v != "" {
					fields = append(fields, zap.String("caller_id", v))
				}

				return fields
			},
		}),
	)

	router.HandleMethodNotAllowed = true
	router.RedirectFixedPath = true

	caller := middleware.NewCallerMiddleware()
	body := middleware.BodySizeLimiter(1 << 20)
	limited := middleware.RateLimiterMiddleware(middleware.RateLimiterConfig{
		RequestsPerSecond: 20,
		Burst:             40,
	})

	main := router.Group("/api")
	{
		// HEAD /api/heartbeat 		-> Used to check if the server is alive
		main.HEAD("/heartbeat", a.Heartbeat)
	}

	tokens := main.Group("/tokens", body, limited)
	{
		// POST /api/tokens		-> Issues a playback token for an asset
		tokens.POST("", caller, a.TokenIssue)

		// GET /api/tokens/validate	-> Validates a playback token
		tokens.GET("/validate", a.TokenValidate)

		// DELETE /api/tokens		-> Revokes a single token
		tokens.DELETE("", a.TokenRevoke)

		// DELETE /api/tokens/users/:id	-> Revokes every token of a user
		tokens.DELETE("/users/:id", a.TokenRevokeUser)

		// DELETE /api/tokens/assets/:id -> Revokes every token for an asset
		tokens.DELETE("/assets/:id", a.TokenRevokeAsset)
	}

	assets := main.Group("/assets", body)
	{
		// POST /api/assets		-> Accepts a new asset for transfer
		assets.POST("", caller, a.AssetCreate)

		// GET /api/assets/:assetID 	-> Returns an asset's lifecycle state
		assets.GET("/:assetID", cacheFor(10), a.AssetFetch)

		// POST /api/assets/:assetID/reset -> Puts a failed asset back in line
		assets.POST("/:assetID/reset", a.AssetReset)

		// GET /api/assets/:assetID/playback-url -> Provider-native signed URL
		assets.GET("/:assetID/playback-url", a.PlaybackURL)
	}

	work := main.Group("/queue", body)
	{
		// POST /api/queue		-> Enqueues a work item for an asset
		work.POST("", a.QueueEnqueue)

		// POST /api/queue/drain	-> Drains a batch of eligible items
		work.POST("/drain", a.QueueDrain)
	}

	// POST /api/reconcile		-> Runs one reconciliation pass
	main.POST("/reconcile", a.ReconcileRun)

	return a
}

func makeLogger() {
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cfg.EncoderConfig.EncodeTime = func(t time.Time, pae zapcore.PrimitiveArrayEncoder) {
		pae.AppendString(gray + t.Format("15:04:05.000") + reset)
	}
	cfg.EncoderConfig.EncodeCaller = func(ec zapcore.EntryCaller, pae zapcore.PrimitiveArrayEncoder) {
		pae.AppendString(gray + ec.TrimmedPath() + reset)
	}

	cfg.DisableStacktrace = true

	log, _ := cfg.Build()
	zap.ReplaceGlobals(log)
}

func cacheFor(sec int) gin.HandlerFunc {
	return cache.CacheByRequestURI(store, time.Second*time.Duration(sec))
}
