package profiler

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDisabled(t *testing.T) {
	p := New(Config{}, zap.NewNop())
	require.NoError(t, p.Start())
	assert.Empty(t, p.Addr())
	require.NoError(t, p.Stop())
}

func TestHandler_Index(t *testing.T) {
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "goroutine")
}

func TestProfiles(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		Enable:     true,
		CPUProfile: filepath.Join(dir, "cpu.pprof"),
		MemProfile: filepath.Join(dir, "mem.pprof"),
	}

	p := New(cfg, zap.NewNop())
	require.NoError(t, p.Start())
	p.LogMemStats()
	require.NoError(t, p.Stop())
	require.NoError(t, p.Stop())

	for _, path := range []string{cfg.CPUProfile, cfg.MemProfile} {
		fi, err := os.Stat(path)
		require.NoError(t, err)
		assert.NotZero(t, fi.Size(), path)
	}
}

func TestHTTPServer(t *testing.T) {
	p := New(Config{Enable: true}, zap.NewNop())
	require.NoError(t, p.startHTTPServer("127.0.0.1:0"))
	t.Cleanup(func() { _ = p.Stop() })

	resp, err := http.Get("http://" + p.Addr() + "/debug/pprof/cmdline")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
