package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"sysmet/internal/collector"
	"sysmet/internal/config"
	"sysmet/internal/store"
	"sysmet/internal/threshold"
	"sysmet/internal/version"
)

var t0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

type fakeCollector struct {
	at  time.Time
	err error
}

func (f *fakeCollector) Collect(_ context.Context, _ []string) (*collector.Snapshot, error) {
	if f.err != nil {
		return nil, f.err
	}
	snap := collector.Snapshot{
		CPUs:       []collector.CPUTimes{{Busy: 1, Total: 4}},
		Networks:   map[string]collector.NetworkCounters{"eth0": {BytesRecv: 1 << 20}},
		DisksIO:    map[string]collector.DiskIOCounters{},
		DisksUsage: map[string]float64{"/": 10},
		Time:       f.at,
	}
	f.at = f.at.Add(time.Minute)
	return &snap, nil
}

type fakeInstant struct {
	instant collector.Instant
	calls   int
}

func (f *fakeInstant) Instant(context.Context) (*collector.Instant, error) {
	f.calls++
	in := f.instant
	return &in, nil
}

type recordingNotifier struct {
	reports []*threshold.Report
	err     error
}

func (n *recordingNotifier) Notify(_ context.Context, r *threshold.Report) error {
	n.reports = append(n.reports, r)
	return n.err
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewConfig()
	cfg.DBPath = filepath.Join(t.TempDir(), "metrics.db")
	cfg.LockTimeout = 200 * time.Millisecond
	cfg.LockPoll = 10 * time.Millisecond
	return cfg
}

func loadStore(t *testing.T, cfg *config.Config) *store.Store {
	t.Helper()
	db, err := store.New(cfg.DBPath, zap.NewNop(), cfg.StoreOptions()...)
	require.NoError(t, err)
	s, err := db.Load()
	require.NoError(t, err)
	return s
}

func TestRunUpdate(t *testing.T) {
	cfg := testConfig(t)
	c := &fakeCollector{at: t0}
	now := func() time.Time { return t0.Add(time.Hour) }

	require.NoError(t, runUpdate(context.Background(), cfg, c, now, zap.NewNop()))
	cfg.Times = 2
	require.NoError(t, runUpdate(context.Background(), cfg, c, now, zap.NewNop()))

	s := loadStore(t, cfg)
	assert.Equal(t, 3, s.Len())
	assert.Equal(t, version.Version, s.Version)
	_, err := os.Stat(cfg.DBPath + ".lock")
	assert.True(t, os.IsNotExist(err))
}

func TestRunUpdate_Cleanup(t *testing.T) {
	cfg := testConfig(t)
	c := &fakeCollector{at: t0}
	require.NoError(t, runUpdate(context.Background(), cfg, c, time.Now, zap.NewNop()))

	days := 1
	cfg.CleanupOlderDays = &days
	c.at = t0.Add(72 * time.Hour)
	now := func() time.Time { return t0.Add(72 * time.Hour) }
	require.NoError(t, runUpdate(context.Background(), cfg, c, now, zap.NewNop()))

	s := loadStore(t, cfg)
	require.Equal(t, 1, s.Len())
	assert.True(t, s.Snapshots[0].Time.Equal(t0.Add(72*time.Hour)))
}

func TestRunUpdate_DryRun(t *testing.T) {
	cfg := testConfig(t)
	cfg.DryRun = true

	require.NoError(t, runUpdate(context.Background(), cfg, &fakeCollector{at: t0}, time.Now, zap.NewNop()))

	fi, err := os.Stat(cfg.DBPath)
	require.NoError(t, err)
	assert.Zero(t, fi.Size())
	assert.Zero(t, loadStore(t, cfg).Len())
}

func TestRunUpdate_CollectionFailureReleasesLock(t *testing.T) {
	cfg := testConfig(t)
	boom := &collector.CollectionError{Component: "load average", Err: errors.New("unsupported")}

	err := runUpdate(context.Background(), cfg, &fakeCollector{err: boom}, time.Now, zap.NewNop())
	assert.ErrorIs(t, err, collector.ErrCollection)

	_, statErr := os.Stat(cfg.DBPath + ".lock")
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunUpdate_LockHeld(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(cfg.DBPath+".lock", nil, 0o644))

	err := runUpdate(context.Background(), cfg, &fakeCollector{at: t0}, time.Now, zap.NewNop())
	assert.ErrorIs(t, err, store.ErrLockTimeout)
}

func hotInstant() collector.Instant {
	return collector.Instant{
		CPUPercent:  99,
		RAMPercent:  10,
		SwapPercent: 0,
		DiskPercent: 20,
		Load:        collector.LoadAvg{Fifteen: 0.5},
		Cores:       4,
	}
}

func notifyConfig(t *testing.T) *config.Config {
	cfg := testConfig(t)
	cfg.Hostname = "web-1"
	cfg.LastSentPath = filepath.Join(t.TempDir(), "last-sent.txt")
	cpu, ram, disk := 95.0, 90.0, 85.0
	cfg.Thresholds = threshold.Thresholds{CPU: &cpu, RAM: &ram, Disk: &disk}
	return cfg
}

func TestRunNotify_SendsAndStartsCooldown(t *testing.T) {
	cfg := notifyConfig(t)
	reader := &fakeInstant{instant: hotInstant()}
	n := &recordingNotifier{}

	report, err := runNotify(context.Background(), cfg, reader, n, t0, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, report)
	require.Len(t, n.reports, 1)
	assert.Equal(t, "Warning threshold reached on web-1", report.Subject())
	assert.Equal(t, []threshold.Crossing{{Name: "CPU", Threshold: 95, Observed: 99}}, report.Crossings)

	// во время ожидания состояние даже не снимается
	report, err = runNotify(context.Background(), cfg, reader, n, t0.Add(30*time.Minute), zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, report)
	assert.Equal(t, 1, reader.calls)

	_, err = runNotify(context.Background(), cfg, reader, n, t0.Add(2*time.Hour), zap.NewNop())
	require.NoError(t, err)
	assert.Len(t, n.reports, 2)
}

func TestRunNotify_NothingCrossed(t *testing.T) {
	cfg := notifyConfig(t)
	calm := hotInstant()
	calm.CPUPercent = 5
	n := &recordingNotifier{}

	report, err := runNotify(context.Background(), cfg, &fakeInstant{instant: calm}, n, t0, zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, report)
	assert.Empty(t, n.reports)

	_, err = os.Stat(cfg.LastSentPath)
	assert.True(t, os.IsNotExist(err))
}

func TestRunNotify_DryRun(t *testing.T) {
	cfg := notifyConfig(t)
	cfg.DryRun = true
	n := &recordingNotifier{}

	report, err := runNotify(context.Background(), cfg, &fakeInstant{instant: hotInstant()}, n, t0, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Empty(t, n.reports)

	_, err = os.Stat(cfg.LastSentPath)
	assert.True(t, os.IsNotExist(err))
}

func TestRunNotify_FailedDeliveryKeepsNoCooldown(t *testing.T) {
	cfg := notifyConfig(t)
	n := &recordingNotifier{err: errors.New("relay down")}

	_, err := runNotify(context.Background(), cfg, &fakeInstant{instant: hotInstant()}, n, t0, zap.NewNop())
	assert.Error(t, err)

	_, statErr := os.Stat(cfg.LastSentPath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunExport(t *testing.T) {
	cfg := testConfig(t)
	cfg.ExportPath = filepath.Join(t.TempDir(), "series.sqlite")
	cfg.Times = 2
	require.NoError(t, runUpdate(context.Background(), cfg, &fakeCollector{at: t0}, time.Now, zap.NewNop()))

	rows, err := runExport(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	// 11 рядов по 2 точки
	assert.Equal(t, 22, rows)
}

func TestRunExport_NoDatabaseYet(t *testing.T) {
	cfg := testConfig(t)
	cfg.ExportPath = filepath.Join(t.TempDir(), "series.sqlite")

	rows, err := runExport(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	assert.Zero(t, rows)
}

func TestRunExport_MissingDirectory(t *testing.T) {
	cfg := testConfig(t)
	cfg.DBPath = filepath.Join(t.TempDir(), "absent", "metrics.db")
	cfg.ExportPath = filepath.Join(t.TempDir(), "series.sqlite")

	_, err := runExport(context.Background(), cfg, zap.NewNop())
	var ioErr *store.IOError
	assert.ErrorAs(t, err, &ioErr)
}

func TestRunServe_StopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Address = "127.0.0.1:0"
	require.NoError(t, runUpdate(context.Background(), cfg, &fakeCollector{at: t0}, time.Now, zap.NewNop()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runServe(ctx, cfg, zap.NewNop()) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}
}

func TestRunServe_UnreadableDatabase(t *testing.T) {
	cfg := testConfig(t)
	cfg.DBPath = filepath.Join(t.TempDir(), "absent", "metrics.db")
	cfg.Address = "127.0.0.1:0"
	assert.Error(t, runServe(context.Background(), cfg, zap.NewNop()))
}

func TestVersionCommand(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	assert.True(t, strings.HasPrefix(out.String(), "sysmet "+version.Version))
}

func TestUpdateCommand_RequiresDatabase(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"update"})
	assert.ErrorIs(t, root.Execute(), config.ErrDatabaseRequired)
}

func TestNotifiers(t *testing.T) {
	cfg := config.NewConfig()
	ns, ok := notifiers(cfg, zap.NewNop()).(threshold.Notifiers)
	require.True(t, ok)
	assert.Len(t, ns, 1)

	cfg.ZabbixServer = "127.0.0.1:10051"
	ns = notifiers(cfg, zap.NewNop()).(threshold.Notifiers)
	assert.Len(t, ns, 2)
}
