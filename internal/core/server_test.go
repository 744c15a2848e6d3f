package core

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Smalik1203/ktscb-sub006/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	srv, err := NewServer(&config.Config{Environment: "local"}, testLogger())
	require.NoError(t, err)
	return srv
}

func TestNewServer_RequiresDependencies(t *testing.T) {
	_, err := NewServer(nil, testLogger())
	assert.Error(t, err)

	_, err = NewServer(&config.Config{}, nil)
	assert.Error(t, err)

	srv, err := NewServer(&config.Config{}, testLogger())
	require.NoError(t, err)
	assert.NotNil(t, srv.Validator)
	assert.NotNil(t, srv.Router())
	assert.Equal(t, srv.Router(), srv.Handler())
}

func TestServer_ShutdownRunsClosersInReverse(t *testing.T) {
	srv := newTestServer(t)

	var order []string
	srv.OnShutdown(func(context.Context) error { order = append(order, "db"); return nil })
	srv.OnShutdown(func(context.Context) error { order = append(order, "redis"); return errors.New("redis close failed") })
	srv.OnShutdown(func(context.Context) error { order = append(order, "http"); return nil })

	err := srv.Shutdown(context.Background())

	assert.Equal(t, []string{"http", "redis", "db"}, order)
	assert.ErrorContains(t, err, "redis close failed")
}

func TestServer_ShutdownWithoutClosers(t *testing.T) {
	assert.NoError(t, newTestServer(t).Shutdown(context.Background()))
}
