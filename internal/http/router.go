// Package httpapi exposes the gateway's operational HTTP surface: liveness
// and readiness probes plus the Prometheus scrape endpoint. The chat traffic
// itself never passes through HTTP; it lives on the messaging transport.
//
// Middleware order: RequestID → access log → recovery, so panics and errors
// are logged with the correlation ID.
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

// ReadyCheck reports whether one dependency is reachable. The name is used in
// the readiness payload.
type ReadyCheck struct {
	Name  string
	Check func() error
}

// DBCheck builds a ReadyCheck that pings the SQLite handle.
func DBCheck(db *gorm.DB) ReadyCheck {
	return ReadyCheck{
		Name: "db",
		Check: func() error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Ping()
		},
	}
}

// RegisterRoutes attaches middleware and the ops endpoints to the engine.
func RegisterRoutes(r *gin.Engine, checks ...ReadyCheck) {
	r.HandleMethodNotAllowed = true

	r.Use(requestID())
	r.Use(accessLog())
	r.Use(recovery())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/readyz", func(c *gin.Context) {
		failed := map[string]string{}
		for _, chk := range checks {
			if err := chk.Check(); err != nil {
				failed[chk.Name] = err.Error()
			}
		}
		if len(failed) > 0 {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "failed": failed})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "message": "route not found"})
	})
	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"code": "method_not_allowed", "message": "method not allowed"})
	})
}
