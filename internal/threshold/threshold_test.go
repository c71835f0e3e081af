package threshold

import (
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
	"go.uber.org/zap/zaptest/observer"

	"sysmet/internal/collector"
)

func ptr(v float64) *float64 { return &v }

func TestNewReading(t *testing.T) {
	r := NewReading(&collector.Instant{
		CPUPercent:  12.5,
		RAMPercent:  60,
		SwapPercent: 20,
		DiskPercent: 70,
		Load:        collector.LoadAvg{One: 8, Five: 8, Fifteen: 2},
		Cores:       4,
	})

	assert.Equal(t, Reading{CPU: 12.5, RAM: 60, Swap: 20, Memory: 40, Disk: 70, AvgLoad: 50}, r)
}

func TestEvaluate(t *testing.T) {
	r := Reading{CPU: 96, RAM: 90, Swap: 10, Memory: 50, Disk: 85.5, AvgLoad: 20}

	crossed := Evaluate(r, Thresholds{
		CPU:     ptr(95),
		RAM:     ptr(90), // равенство не превышение
		Swap:    ptr(65),
		Disk:    ptr(85),
		AvgLoad: ptr(85),
	})

	assert.Equal(t, []Crossing{
		{Name: "CPU", Threshold: 95, Observed: 96},
		{Name: "Disk", Threshold: 85, Observed: 85.5},
	}, crossed)
}

func TestEvaluate_NoThresholds(t *testing.T) {
	assert.Empty(t, Evaluate(Reading{CPU: 100, RAM: 100}, Thresholds{}))
}

func TestThresholdsValidate(t *testing.T) {
	assert.NoError(t, Thresholds{CPU: ptr(0), Disk: ptr(100)}.Validate())
	assert.Error(t, Thresholds{CPU: ptr(101)}.Validate())
	assert.Error(t, Thresholds{AvgLoad: ptr(-1)}.Validate())
	assert.NoError(t, Thresholds{Memory: ptr(75), RAM: ptr(90), Swap: ptr(65)}.Validate())
	assert.Error(t, Thresholds{Memory: ptr(120)}.Validate())
}

func TestReportBody(t *testing.T) {
	at := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	r := NewReport("web-1", at,
		Reading{CPU: 97.12345, RAM: 50, Swap: 1.5, Disk: 10, AvgLoad: 33.3333},
		[]Crossing{{Name: "CPU", Threshold: 95, Observed: 97.12345}})

	assert.NotEmpty(t, r.ID)
	assert.Equal(t, "Warning threshold reached on web-1", r.Subject())

	body := r.Body()
	assert.True(t, strings.HasPrefix(body, "Thresholds crossed:\n"))
	assert.Contains(t, body, "- CPU threshold crossed (95%): observed 97.123%\n")
	assert.Contains(t, body, "System state:\n")
	assert.Contains(t, body, "- Swap 1.5%\n")
	assert.Contains(t, body, "- Average Load (on 15min) 33.333%\n")
}

func TestReportIDsAreUnique(t *testing.T) {
	a := NewReport("h", time.Now(), Reading{}, nil)
	b := NewReport("h", time.Now(), Reading{}, nil)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestLogNotifier(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	n := NewLogNotifier(zap.New(core))
	r := NewReport("web-1", time.Now(), Reading{}, []Crossing{{Name: "Disk", Threshold: 1, Observed: 2}})

	require.NoError(t, n.Notify(context.Background(), r))
	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, r.Subject(), entries[0].Message)
	assert.Equal(t, r.ID, entries[0].ContextMap()["report_id"])
}

func TestCooldown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "last-sent.txt")
	c := Cooldown{Path: path, Period: time.Hour}
	now := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)

	assert.False(t, c.Active(now), "missing file means cooldown is over")

	require.NoError(t, c.Mark(now))
	assert.True(t, c.Active(now.Add(30*time.Minute)))
	assert.True(t, c.Active(now.Add(time.Hour)))
	assert.False(t, c.Active(now.Add(time.Hour+time.Second)))
}

func TestCooldown_GarbageFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "last-sent.txt")
	require.NoError(t, os.WriteFile(path, []byte("yesterday"), 0o644))

	assert.False(t, Cooldown{Path: path, Period: time.Hour}.Active(time.Now()))
}

func TestCooldown_Disabled(t *testing.T) {
	c := Cooldown{Period: time.Hour}
	assert.False(t, c.Active(time.Now()))
	assert.NoError(t, c.Mark(time.Now()))
}

type failingNotifier struct{ calls int }

func (f *failingNotifier) Notify(context.Context, *Report) error {
	f.calls++
	return errors.New("down")
}

func TestNotifiers_CallsEveryone(t *testing.T) {
	first, second := &failingNotifier{}, &failingNotifier{}
	err := Notifiers{first, second}.Notify(context.Background(), NewReport("h", time.Now(), Reading{}, nil))

	assert.Error(t, err)
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 1, second.calls)
	assert.NoError(t, Notifiers{}.Notify(context.Background(), nil))
}
