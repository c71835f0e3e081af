package collector

import (
	"context"
	"slices"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// Интервал измерения загрузки CPU для проверки порогов (как рекомендует psutil)
	cpuPercentInterval = 100 * time.Millisecond
	// Сколько раз перемерять CPU, если получили ровно 0%
	cpuPercentAttempts = 10
)

// source абстрагирует вызовы gopsutil, чтобы тесты могли подменить ОС
type source struct {
	cpuTimes     func(ctx context.Context) ([]cpu.TimesStat, error)
	cpuPercent   func(ctx context.Context, interval time.Duration) ([]float64, error)
	cpuCount     func(ctx context.Context) (int, error)
	virtualMem   func(ctx context.Context) (*mem.VirtualMemoryStat, error)
	swapMem      func(ctx context.Context) (*mem.SwapMemoryStat, error)
	netCounters  func(ctx context.Context) ([]net.IOCountersStat, error)
	diskCounters func(ctx context.Context) (map[string]disk.IOCountersStat, error)
	partitions   func(ctx context.Context) ([]disk.PartitionStat, error)
	diskUsage    func(ctx context.Context, path string) (*disk.UsageStat, error)
	temperatures func(ctx context.Context) ([]host.TemperatureStat, error)
	loadAvg      func(ctx context.Context) (*load.AvgStat, error)
}

func gopsutilSource() source {
	return source{
		cpuTimes: func(ctx context.Context) ([]cpu.TimesStat, error) {
			return cpu.TimesWithContext(ctx, true)
		},
		cpuPercent: func(ctx context.Context, interval time.Duration) ([]float64, error) {
			return cpu.PercentWithContext(ctx, interval, false)
		},
		cpuCount: func(ctx context.Context) (int, error) {
			return cpu.CountsWithContext(ctx, true)
		},
		virtualMem: mem.VirtualMemoryWithContext,
		swapMem:    mem.SwapMemoryWithContext,
		netCounters: func(ctx context.Context) ([]net.IOCountersStat, error) {
			return net.IOCountersWithContext(ctx, true)
		},
		diskCounters: func(ctx context.Context) (map[string]disk.IOCountersStat, error) {
			return disk.IOCountersWithContext(ctx)
		},
		partitions: func(ctx context.Context) ([]disk.PartitionStat, error) {
			return disk.PartitionsWithContext(ctx, false)
		},
		diskUsage:    disk.UsageWithContext,
		temperatures: host.SensorsTemperaturesWithContext,
		loadAvg:      load.AvgWithContext,
	}
}

// Collector отвечает за сбор системных метрик
type Collector struct {
	logger *zap.Logger
	src    source
	now    func() time.Time
}

// New создает новый экземпляр сборщика метрик
func New(logger *zap.Logger) *Collector {
	return &Collector{
		logger: logger,
		src:    gopsutilSource(),
		now:    time.Now,
	}
}

// Collect собирает полный снимок счетчиков хоста.
// Интерфейсы из ignoredInterfaces исключаются, остальные сохраняются.
// При ошибке любого счетчика снимок отбрасывается целиком.
func (c *Collector) Collect(ctx context.Context, ignoredInterfaces []string) (*Snapshot, error) {
	c.logger.Debug("Starting snapshot collection",
		zap.Strings("ignored_interfaces", ignoredInterfaces))

	snap := &Snapshot{}

	// Каждая горутина пишет только в свое поле снимка
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		cpus, err := c.collectCPU(gctx)
		snap.CPUs = cpus
		return err
	})
	g.Go(func() error {
		ram, swap, err := c.collectMemory(gctx)
		snap.Memory, snap.Swap = ram, swap
		return err
	})
	g.Go(func() error {
		networks, err := c.collectNetwork(gctx, ignoredInterfaces)
		snap.Networks = networks
		return err
	})
	g.Go(func() error {
		io, err := c.collectDiskIO(gctx)
		snap.DisksIO = io
		return err
	})
	g.Go(func() error {
		usage, err := c.collectDiskUsage(gctx)
		snap.DisksUsage = usage
		return err
	})
	g.Go(func() error {
		temps, err := c.collectTemperatures(gctx)
		snap.Temperatures = temps
		return err
	})
	g.Go(func() error {
		avg, err := c.collectLoad(gctx)
		snap.Load = avg
		return err
	})

	if err := g.Wait(); err != nil {
		c.logger.Warn("Snapshot discarded", zap.Error(err))
		return nil, err
	}

	snap.Time = c.now().UTC()

	c.logger.Debug("Snapshot collection completed",
		zap.Int("cpus", len(snap.CPUs)),
		zap.Int("networks", len(snap.Networks)),
		zap.Int("disks", len(snap.DisksIO)),
		zap.Time("timestamp", snap.Time))

	return snap, nil
}

// Instant собирает мгновенные значения для проверки порогов
func (c *Collector) Instant(ctx context.Context) (*Instant, error) {
	cpuPercent, err := c.measureCPUPercent(ctx)
	if err != nil {
		return nil, &CollectionError{Component: "cpu percent", Err: err}
	}

	ram, swap, err := c.collectMemory(ctx)
	if err != nil {
		return nil, err
	}

	root, err := c.src.diskUsage(ctx, "/")
	if err != nil {
		return nil, &CollectionError{Component: "disk usage", Err: err}
	}

	avg, err := c.collectLoad(ctx)
	if err != nil {
		return nil, err
	}

	cores, err := c.src.cpuCount(ctx)
	if err != nil {
		return nil, &CollectionError{Component: "cpu count", Err: err}
	}

	instant := &Instant{
		CPUPercent:  cpuPercent,
		RAMPercent:  ram.UsedPercent,
		SwapPercent: swap.UsedPercent,
		DiskPercent: root.UsedPercent,
		Load:        avg,
		Cores:       cores,
	}

	c.logger.Debug("Instant reading collected",
		zap.Float64("cpu_percent", instant.CPUPercent),
		zap.Float64("ram_percent", instant.RAMPercent),
		zap.Float64("swap_percent", instant.SwapPercent),
		zap.Float64("disk_percent", instant.DiskPercent),
		zap.Int("cores", instant.Cores))

	return instant, nil
}

// measureCPUPercent измеряет загрузку CPU на коротком интервале.
// Ровно 0% обычно означает слишком короткое окно, поэтому меряем повторно.
func (c *Collector) measureCPUPercent(ctx context.Context) (float64, error) {
	var usage float64
	for attempt := 0; attempt < cpuPercentAttempts; attempt++ {
		percentages, err := c.src.cpuPercent(ctx, cpuPercentInterval)
		if err != nil {
			return 0, err
		}
		if len(percentages) > 0 {
			usage = percentages[0]
		}
		if usage != 0 {
			break
		}
		c.logger.Debug("CPU usage is 0%, measuring again", zap.Int("attempt", attempt+1))
	}
	return usage, nil
}

// collectCPU собирает время занятости и общее время по каждому ядру
func (c *Collector) collectCPU(ctx context.Context) ([]CPUTimes, error) {
	times, err := c.src.cpuTimes(ctx)
	if err != nil {
		return nil, &CollectionError{Component: "cpu times", Err: err}
	}

	cpus := make([]CPUTimes, 0, len(times))
	for _, t := range times {
		total := t.User + t.System + t.Idle + t.Nice + t.Iowait + t.Irq + t.Softirq + t.Steal
		cpus = append(cpus, CPUTimes{
			Busy:  total - t.Idle - t.Iowait,
			Total: total,
		})
	}
	return cpus, nil
}

// collectMemory собирает проценты использования RAM и swap
func (c *Collector) collectMemory(ctx context.Context) (Memory, Memory, error) {
	vm, err := c.src.virtualMem(ctx)
	if err != nil {
		return Memory{}, Memory{}, &CollectionError{Component: "virtual memory", Err: err}
	}
	sw, err := c.src.swapMem(ctx)
	if err != nil {
		return Memory{}, Memory{}, &CollectionError{Component: "swap memory", Err: err}
	}

	return Memory{Total: vm.Total, UsedPercent: vm.UsedPercent},
		Memory{Total: sw.Total, UsedPercent: sw.UsedPercent},
		nil
}

// collectNetwork собирает счетчики по интерфейсам, пропуская игнорируемые
func (c *Collector) collectNetwork(ctx context.Context, ignored []string) (map[string]NetworkCounters, error) {
	stats, err := c.src.netCounters(ctx)
	if err != nil {
		return nil, &CollectionError{Component: "network", Err: err}
	}

	networks := make(map[string]NetworkCounters, len(stats))
	for _, stat := range stats {
		if slices.Contains(ignored, stat.Name) {
			continue
		}
		networks[stat.Name] = NetworkCounters{
			BytesRecv: stat.BytesRecv,
			BytesSent: stat.BytesSent,
		}
	}
	return networks, nil
}

// collectDiskIO собирает счетчики ввода-вывода по разделам
func (c *Collector) collectDiskIO(ctx context.Context) (map[string]DiskIOCounters, error) {
	stats, err := c.src.diskCounters(ctx)
	if err != nil {
		return nil, &CollectionError{Component: "disk io", Err: err}
	}

	disks := make(map[string]DiskIOCounters, len(stats))
	for name, stat := range stats {
		disks[name] = DiskIOCounters{
			ReadBytes:  stat.ReadBytes,
			WriteBytes: stat.WriteBytes,
		}
	}
	return disks, nil
}

// collectDiskUsage собирает процент заполнения каждого физического раздела
func (c *Collector) collectDiskUsage(ctx context.Context) (map[string]float64, error) {
	parts, err := c.src.partitions(ctx)
	if err != nil {
		return nil, &CollectionError{Component: "disk partitions", Err: err}
	}

	usage := make(map[string]float64, len(parts))
	for _, part := range parts {
		stat, err := c.src.diskUsage(ctx, part.Mountpoint)
		if err != nil {
			return nil, &CollectionError{Component: "disk usage " + part.Mountpoint, Err: err}
		}
		usage[part.Mountpoint] = stat.UsedPercent
	}
	return usage, nil
}

// collectTemperatures собирает показания датчиков температуры
func (c *Collector) collectTemperatures(ctx context.Context) (map[string]float64, error) {
	sensors, err := c.src.temperatures(ctx)
	if err != nil {
		return nil, &CollectionError{Component: "temperatures", Err: err}
	}

	temps := make(map[string]float64, len(sensors))
	for _, s := range sensors {
		temps[s.SensorKey] = s.Temperature
	}
	return temps, nil
}

// collectLoad собирает средние значения нагрузки
func (c *Collector) collectLoad(ctx context.Context) (LoadAvg, error) {
	avg, err := c.src.loadAvg(ctx)
	if err != nil {
		return LoadAvg{}, &CollectionError{Component: "load average", Err: err}
	}
	return LoadAvg{One: avg.Load1, Five: avg.Load5, Fifteen: avg.Load15}, nil
}
