package main

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/commkeep/commkeep/internal/checkpoint"
	"github.com/commkeep/commkeep/internal/config"
	"github.com/commkeep/commkeep/internal/logger"
)

func testCheckpoints(t *testing.T, toggles checkpoint.Toggles) *checkpoint.Store {
	t.Helper()
	cps, err := checkpoint.Open(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)
	require.NoError(t, cps.SetToggles(toggles))
	return cps
}

func tokenService(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/auth/accounts/google/token" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		expiresAt := strconv.FormatInt(time.Now().Add(time.Hour).Unix(), 10)
		w.Write([]byte(`{"access_token":"at","refresh_token":"rt","expires_at":` + expiresAt + `}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCalendarMirrorConstruction(t *testing.T) {
	srv := tokenService(t)
	cfg := &config.Config{}
	cfg.Calendar.Provider = "google"
	cfg.Calendar.TokenURL = srv.URL
	cfg.Calendar.Bearer = "bearer"

	// Built without any request in flight; a long background run must be
	// able to refresh tokens after the starting request is gone.
	m := calendarMirror(cfg, testCheckpoints(t, checkpoint.Toggles{MirrorCalendar: true}), logger.Nop{})
	require.NotNil(t, m)
}

func TestCalendarMirrorDisabled(t *testing.T) {
	cfg := &config.Config{}
	cfg.Calendar.Provider = "google"

	m := calendarMirror(cfg, testCheckpoints(t, checkpoint.Toggles{}), logger.Nop{})
	require.Nil(t, m)
}

func TestCalendarMirrorUnknownProvider(t *testing.T) {
	cfg := &config.Config{}
	cfg.Calendar.Provider = "caldav"

	m := calendarMirror(cfg, testCheckpoints(t, checkpoint.Toggles{MirrorCalendar: true}), logger.Nop{})
	require.Nil(t, m)
}

func TestCalendarMirrorTokenFailureDowngrades(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	cfg := &config.Config{}
	cfg.Calendar.Provider = "google"
	cfg.Calendar.TokenURL = srv.URL

	m := calendarMirror(cfg, testCheckpoints(t, checkpoint.Toggles{MirrorCalendar: true}), logger.Nop{})
	require.Nil(t, m)
}
