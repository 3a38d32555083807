package server

import (
	"net/http"
	"time"

	"github.com/Tyrowin/chatrelay/internal/metrics"
	"github.com/Tyrowin/chatrelay/internal/store"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// NewRouter builds the HTTP routes: the websocket endpoint, the account and
// history API, health, metrics and the test page.
func NewRouter(hub *Hub, accounts store.Accounts, m *metrics.Metrics, log *zap.Logger) *gin.Engine {
	if log == nil {
		log = zap.NewNop()
	}
	httpLog := log.Named("http")

	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Recovery(), requestLogger(httpLog))

	api := &accountHandlers{accounts: accounts, history: hub.Dispatcher(), log: httpLog}
	policy := newOriginPolicy(hub.cfg.AllowedOrigins, httpLog)

	r.GET("/", healthHandler)
	r.GET("/health", healthHandler)
	r.GET("/test", testPageHandler)
	r.GET("/ws", webSocketHandler(hub, newUpgrader(policy), httpLog))
	r.POST("/register", api.register)
	r.POST("/login", api.login)
	r.GET("/users", api.listUsers)
	r.GET("/messages/:user1/:user2", api.messages)
	if m != nil {
		r.GET("/metrics", gin.WrapH(m.Handler()))
	}

	r.NoMethod(func(c *gin.Context) {
		c.String(http.StatusMethodNotAllowed, "Method not allowed.")
	})
	return r
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("Request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("remote", c.ClientIP()))
	}
}
