package store

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"sysmet/internal/collector"
)

const testVersion = "1.2.0"

var t0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T, path string, opts ...Option) *DB {
	t.Helper()
	if path == "" {
		path = filepath.Join(t.TempDir(), "metrics.db")
	}
	opts = append([]Option{
		WithVersion(testVersion),
		WithLockTiming(10*time.Millisecond, 200*time.Millisecond),
	}, opts...)
	db, err := New(path, zap.NewNop(), opts...)
	require.NoError(t, err)
	return db
}

func snapshotAt(at time.Time) collector.Snapshot {
	return collector.Snapshot{
		CPUs:   []collector.CPUTimes{{Busy: 2, Total: 4}, {Busy: 0, Total: 4}},
		Memory: collector.Memory{Total: 8 << 30, UsedPercent: 42.5},
		Swap:   collector.Memory{Total: 2 << 30, UsedPercent: 3.25},
		Networks: map[string]collector.NetworkCounters{
			"eth0": {BytesRecv: 1048576, BytesSent: 4096},
		},
		DisksIO: map[string]collector.DiskIOCounters{
			"nvme0n1p1": {ReadBytes: 1 << 20, WriteBytes: 1 << 19},
		},
		DisksUsage:   map[string]float64{"/": 61.5},
		Temperatures: map[string]float64{"coretemp_package_id_0": 48},
		Load:         collector.LoadAvg{One: 0.5, Five: 0.25, Fifteen: 0.125},
		Time:         at,
	}
}

// requireSameSnapshots сравнивает моменты через Equal, остальные поля - целиком
func requireSameSnapshots(t *testing.T, want, got []collector.Snapshot) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		w, g := want[i], got[i]
		require.Truef(t, w.Time.Equal(g.Time), "snapshot %d time: want %s, got %s", i, w.Time, g.Time)
		w.Time, g.Time = time.Time{}, time.Time{}
		require.Equal(t, w, g, "snapshot %d", i)
	}
}

func lockFileExists(path string) bool {
	_, err := os.Stat(path + sentinelSuffix)
	return err == nil
}

func TestNew_InvalidPath(t *testing.T) {
	_, err := New("", zap.NewNop())
	assert.ErrorIs(t, err, ErrInvalidPath)

	_, err = New("bad\x00path", zap.NewNop())
	assert.ErrorIs(t, err, ErrInvalidPath)

	_, err = New(t.TempDir(), zap.NewNop())
	assert.ErrorIs(t, err, ErrInvalidPath)
}

func TestNew_InvalidProgramVersion(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "db"), zap.NewNop(), WithVersion("dev"))
	assert.ErrorIs(t, err, ErrVersionParse)
}

func TestNew_UnknownLockMode(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "db"), zap.NewNop(), WithVersion(testVersion), WithLockMode("nfs"))
	assert.Error(t, err)
}

func TestLoad_EmptyFile(t *testing.T) {
	db := newTestDB(t, "")
	require.NoError(t, os.WriteFile(db.Path(), nil, 0o644))

	s, err := db.Load()
	require.NoError(t, err)
	assert.Equal(t, testVersion, s.Version)
	assert.Empty(t, s.Snapshots)
	assert.False(t, lockFileExists(db.Path()))
}

func TestLoad_MissingFile(t *testing.T) {
	db := newTestDB(t, "")

	s, err := db.Load()
	require.NoError(t, err)
	assert.Equal(t, testVersion, s.Version)
	assert.Empty(t, s.Snapshots)

	_, err = os.Stat(db.Path())
	assert.ErrorIs(t, err, fs.ErrNotExist, "load must not create the file")
	assert.False(t, lockFileExists(db.Path()))
}

func TestLoad_MissingDirectory(t *testing.T) {
	db := newTestDB(t, filepath.Join(t.TempDir(), "absent", "metrics.db"))

	_, err := db.Load()
	var ioe *IOError
	require.ErrorAs(t, err, &ioe)
	assert.Equal(t, "create lock file", ioe.Op)
}

func TestLoad_CorruptFile(t *testing.T) {
	db := newTestDB(t, "")
	require.NoError(t, os.WriteFile(db.Path(), []byte("definitely not cbor \xff\xff"), 0o644))

	_, err := db.Load()
	assert.ErrorIs(t, err, ErrDeserialization)
	assert.False(t, lockFileExists(db.Path()))
}

func TestLoad_TrailingGarbage(t *testing.T) {
	db := newTestDB(t, "")
	require.NoError(t, db.Write(&Store{Snapshots: []collector.Snapshot{snapshotAt(t0), snapshotAt(t0.Add(time.Minute))}}))

	f, err := os.OpenFile(db.Path(), os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("\xff\xffGARBAGE not cbor at all")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = db.Load()
	assert.ErrorIs(t, err, ErrDeserialization)

	_, _, err = db.LoadForWrite()
	assert.ErrorIs(t, err, ErrDeserialization)
	assert.False(t, lockFileExists(db.Path()))
}

func TestWrite_EncodeFailureKeepsExistingFile(t *testing.T) {
	db := newTestDB(t, "")
	want := []collector.Snapshot{snapshotAt(t0)}
	require.NoError(t, db.Write(&Store{Snapshots: want}))
	before, err := os.ReadFile(db.Path())
	require.NoError(t, err)

	orig := marshalDocument
	marshalDocument = func(*document) ([]byte, error) { return nil, errors.New("unsupported value") }
	t.Cleanup(func() { marshalDocument = orig })

	err = db.Write(&Store{Snapshots: append(want, snapshotAt(t0.Add(time.Hour)))})
	assert.ErrorIs(t, err, ErrSerialization)

	after, err := os.ReadFile(db.Path())
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.False(t, lockFileExists(db.Path()))
}

func TestLoad_UnparseableStoredVersion(t *testing.T) {
	db := newTestDB(t, "")
	f, err := os.Create(db.Path())
	require.NoError(t, err)
	require.NoError(t, encode(f, &document{Version: "not-a-version"}))
	require.NoError(t, f.Close())

	_, err = db.Load()
	assert.ErrorIs(t, err, ErrVersionParse)
}

func TestLoadForWrite_CreatesFileAndHoldsLock(t *testing.T) {
	db := newTestDB(t, "")

	s, h, err := db.LoadForWrite()
	require.NoError(t, err)
	assert.Equal(t, testVersion, s.Version)
	assert.Empty(t, s.Snapshots)

	_, err = os.Stat(db.Path())
	assert.NoError(t, err, "data file must be created")
	assert.True(t, lockFileExists(db.Path()), "lock must be held until close")

	require.NoError(t, db.Close(h))
	assert.False(t, lockFileExists(db.Path()))

	fi, err := os.Stat(db.Path())
	require.NoError(t, err)
	assert.Zero(t, fi.Size(), "dry run must not write")
}

func TestWriteHandle_CannotBeReused(t *testing.T) {
	db := newTestDB(t, "")

	s, h, err := db.LoadForWrite()
	require.NoError(t, err)
	require.NoError(t, db.WriteAndClose(s, h))

	assert.Error(t, db.WriteAndClose(s, h))
	assert.Error(t, db.Close(h))
	assert.Error(t, db.Close(nil))
}

func TestRoundTrip_WriteToPath(t *testing.T) {
	db := newTestDB(t, "")
	want := []collector.Snapshot{snapshotAt(t0), snapshotAt(t0.Add(time.Hour))}

	require.NoError(t, db.Write(&Store{Version: "1.0.0", Snapshots: want}))
	assert.False(t, lockFileExists(db.Path()))

	got, err := db.Load()
	require.NoError(t, err)
	assert.Equal(t, testVersion, got.Version, "persist stamps the running version")
	requireSameSnapshots(t, want, got.Snapshots)
}

func TestRoundTrip_NewerStoredVersionIsDowngraded(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.db")
	newer := newTestDB(t, path, WithVersion("9.0.0"))
	want := []collector.Snapshot{snapshotAt(t0)}
	require.NoError(t, newer.Write(&Store{Snapshots: want}))

	db := newTestDB(t, path)
	got, err := db.Load()
	require.NoError(t, err)
	assert.Equal(t, testVersion, got.Version)
	requireSameSnapshots(t, want, got.Snapshots)

	// файл на диске не меняется до явной записи
	raw, err := os.Open(path)
	require.NoError(t, err)
	defer raw.Close()
	doc, err := decode(raw)
	require.NoError(t, err)
	assert.Equal(t, "9.0.0", doc.Version)
}

func TestRoundTrip_EmptyMapsAndNilSlices(t *testing.T) {
	db := newTestDB(t, "")
	want := []collector.Snapshot{{
		Networks:     map[string]collector.NetworkCounters{},
		Temperatures: map[string]float64{},
		Time:         t0,
	}}

	require.NoError(t, db.Write(&Store{Snapshots: want}))
	got, err := db.Load()
	require.NoError(t, err)
	requireSameSnapshots(t, want, got.Snapshots)
}

func TestWriteAndClose_TruncatesShrunkDatabase(t *testing.T) {
	db := newTestDB(t, "")
	all := []collector.Snapshot{
		snapshotAt(t0),
		snapshotAt(t0.Add(time.Hour)),
		snapshotAt(t0.Add(2 * time.Hour)),
	}
	require.NoError(t, db.Write(&Store{Snapshots: all}))
	before, err := os.Stat(db.Path())
	require.NoError(t, err)

	s, h, err := db.LoadForWrite()
	require.NoError(t, err)
	removed := s.RemoveOlder(30*time.Minute, t0.Add(2*time.Hour))
	assert.Equal(t, 2, removed)
	require.NoError(t, db.WriteAndClose(s, h))
	assert.False(t, lockFileExists(db.Path()))

	after, err := os.Stat(db.Path())
	require.NoError(t, err)
	assert.Less(t, after.Size(), before.Size())

	got, err := db.Load()
	require.NoError(t, err)
	requireSameSnapshots(t, all[2:], got.Snapshots)
}

func TestRetentionScenario_PersistAndReload(t *testing.T) {
	db := newTestDB(t, "")
	c := &fakeCollector{times: []time.Time{t0, t0.Add(time.Hour), t0.Add(2 * time.Hour)}}

	s, h, err := db.LoadForWrite()
	require.NoError(t, err)
	require.NoError(t, s.AppendN(t.Context(), c, nil, 3))

	now := t0.Add(2*time.Hour + 30*time.Minute)
	s.RemoveOlder(2*time.Hour, now)
	require.NoError(t, db.WriteAndClose(s, h))

	got, err := db.Load()
	require.NoError(t, err)
	requireSameSnapshots(t, []collector.Snapshot{
		snapshotAt(t0.Add(time.Hour)),
		snapshotAt(t0.Add(2 * time.Hour)),
	}, got.Snapshots)
}

func TestLoad_TimesOutWhileSentinelExists(t *testing.T) {
	db := newTestDB(t, "")
	require.NoError(t, os.WriteFile(db.Path(), nil, 0o644))
	require.NoError(t, os.WriteFile(db.Path()+sentinelSuffix, nil, 0o644))

	_, err := db.Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLockTimeout)

	var lte *LockTimeoutError
	require.True(t, errors.As(err, &lte))
	assert.Equal(t, db.Path(), lte.Path)
	assert.True(t, lockFileExists(db.Path()), "foreign lock must not be removed")
}

func TestLoadForWrite_FlockMode(t *testing.T) {
	db := newTestDB(t, "", WithLockMode(LockModeFlock))

	s, h, err := db.LoadForWrite()
	require.NoError(t, err)
	s.Snapshots = append(s.Snapshots, snapshotAt(t0))

	// второй писатель ждет и сдается
	_, _, err = db.LoadForWrite()
	assert.ErrorIs(t, err, ErrLockTimeout)

	require.NoError(t, db.WriteAndClose(s, h))

	got, err := db.Load()
	require.NoError(t, err)
	requireSameSnapshots(t, []collector.Snapshot{snapshotAt(t0)}, got.Snapshots)
}
