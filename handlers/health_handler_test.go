package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/6587027/VipStore-sub001/models"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestReadyReportsEachDependency(t *testing.T) {
	db, err := models.OpenDatabase(models.DriverSQLite, fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()), zerolog.Nop())
	require.NoError(t, err)

	up := pingFunc(func(context.Context) error { return nil })
	down := pingFunc(func(context.Context) error { return errors.New("unreachable") })

	tests := []struct {
		name   string
		deps   map[string]Pinger
		status int
		body   string
	}{
		{name: "all up", deps: map[string]Pinger{"redis": up}, status: http.StatusOK, body: `"redis":"up"`},
		{name: "redis down", deps: map[string]Pinger{"redis": down}, status: http.StatusServiceUnavailable, body: `"redis":"down"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(db, tt.deps, func() int { return 3 })
			rec := httptest.NewRecorder()
			c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/ready", nil), rec)
			require.NoError(t, h.Ready(c))
			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.body)
			assert.Contains(t, rec.Body.String(), `"database":"up"`)
		})
	}

	rec := httptest.NewRecorder()
	c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/health", nil), rec)
	require.NoError(t, NewHealthHandler(db, nil, func() int { return 3 }).Health(c))
	assert.Contains(t, rec.Body.String(), `"connections":3`)
}
