package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"
)

// Pinger is a dependency checked by the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	db    *gorm.DB
	deps  map[string]Pinger
	conns func() int
}

func NewHealthHandler(db *gorm.DB, deps map[string]Pinger, conns func() int) *HealthHandler {
	return &HealthHandler{db: db, deps: deps, conns: conns}
}

func (h *HealthHandler) Health(c echo.Context) error {
	body := map[string]interface{}{
		"status":  "ok",
		"service": "vipstore-chat",
		"time":    time.Now().Unix(),
	}
	if h.conns != nil {
		body["connections"] = h.conns()
	}
	return c.JSON(http.StatusOK, body)
}

// Ready fails when the database or any registered dependency is unreachable.
func (h *HealthHandler) Ready(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{}
	ready := true

	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	checks["database"] = status(err)
	ready = ready && err == nil

	for name, dep := range h.deps {
		err := dep.Ping(ctx)
		checks[name] = status(err)
		ready = ready && err == nil
	}

	code := http.StatusOK
	state := "ready"
	if !ready {
		code = http.StatusServiceUnavailable
		state = "not ready"
	}
	return c.JSON(code, map[string]interface{}{"status": state, "checks": checks})
}

func status(err error) string {
	if err != nil {
		return "down"
	}
	return "up"
}
