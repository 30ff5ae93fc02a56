package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/example/stockkeeper/pkg/config"
	"github.com/example/stockkeeper/pkg/repository/repositorytest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewAppServesAPI(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	a, err := newApp(cfg, zap.NewNop(), repositorytest.NewDB(t), backends{})
	require.NoError(t, err)
	require.NotNil(t, a.dispatcher)
	t.Cleanup(func() { _ = a.dispatcher.Close() })
	require.NoError(t, a.ready(context.Background()))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders?view=active", nil)
	req.Header.Set("X-Owner-ID", "owner-1")
	rec := httptest.NewRecorder()
	a.gateway.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = httptest.NewRecorder()
	a.gateway.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCLICommands(t *testing.T) {
	app := newCLI()
	names := make([]string, 0, len(app.Commands))
	for _, cmd := range app.Commands {
		names = append(names, cmd.Name)
	}
	assert.ElementsMatch(t, []string{"serve", "migrate"}, names)
}
