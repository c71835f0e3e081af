package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"sysmet/internal/store"
	"sysmet/internal/threshold"
)

// EnvPrefix - префикс переменных окружения (SYSMET_DB, SYSMET_LOG_LEVEL, ...)
const EnvPrefix = "SYSMET"

// ErrDatabaseRequired - команде нужен путь к базе
var ErrDatabaseRequired = errors.New("database path is required")

// Config содержит всю конфигурацию приложения
type Config struct {
	// База метрик
	DBPath      string
	LockMode    string
	LockPoll    time.Duration
	LockTimeout time.Duration

	// Логирование
	LogLevel  string
	Verbosity int

	// update
	IgnoredNetworks  []string
	CleanupOlderDays *int
	Times            int
	DryRun           bool

	// serve
	Address        string
	ReloadInterval time.Duration
	Watch          bool

	// notify
	Thresholds   threshold.Thresholds
	Cooldown     time.Duration
	LastSentPath string
	Hostname     string

	// Доставка отчетов в Zabbix (trapper), пустой адрес - только лог
	ZabbixServer  string
	ZabbixHost    string
	ZabbixTimeout time.Duration

	// export
	ExportPath string

	// Профилирование
	ProfileEnable   bool
	ProfileHTTPPort int
	ProfileCPUFile  string
	ProfileMemFile  string
	ProfileTime     int
}

// Пороги по умолчанию. Все три порога памяти (RAM, Swap, среднее) действуют одновременно.
const (
	DefaultCPUThreshold     = 95
	DefaultRAMThreshold     = 90
	DefaultSwapThreshold    = 65
	DefaultMemoryThreshold  = 75
	DefaultDiskThreshold    = 85
	DefaultAvgLoadThreshold = 85
)

// NewConfig создает новую конфигурацию с значениями по умолчанию
func NewConfig() *Config {
	return &Config{
		LockMode:        string(store.LockModeSentinel),
		LockPoll:        store.DefaultLockPollInterval,
		LockTimeout:     store.DefaultLockTimeout,
		LogLevel:        "warn",
		Times:           1,
		Address:         "127.0.0.1:8080",
		ReloadInterval:  2 * time.Minute,
		Watch:           true,
		Cooldown:        time.Hour,
		LastSentPath:    "/tmp/sysmet-notify-last-mail.txt",
		ZabbixTimeout:   10 * time.Second,
		ExportPath:      "sysmet.sqlite",
		ProfileHTTPPort: 6060,
		ProfileTime:     30,
	}
}

// Load собирает конфигурацию: значения по умолчанию, файл из --config,
// переменные окружения SYSMET_*, флаги команды (в порядке возрастания приоритета)
func (c *Config) Load(cmd *cobra.Command) error {
	return c.LoadFlags(cmd.Flags())
}

// LoadFlags - то же, что Load, для уже разобранного набора флагов
func (c *Config) LoadFlags(fs *pflag.FlagSet) error {
	v := viper.New()
	c.setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(fs); err != nil {
		return fmt.Errorf("failed to bind flags: %w", err)
	}

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	// Конфликтуют только явно заданные значения, значения по умолчанию - нет
	if v.IsSet("memory-threshold") && (v.IsSet("ram-threshold") || v.IsSet("swap-threshold")) {
		return fmt.Errorf("%w: set either --memory-threshold or --ram-threshold/--swap-threshold",
			threshold.ErrConflictingThresholds)
	}

	c.apply(v)
	return c.Validate()
}

func (c *Config) setDefaults(v *viper.Viper) {
	v.SetDefault("lock-mode", c.LockMode)
	v.SetDefault("lock-poll", c.LockPoll)
	v.SetDefault("lock-timeout", c.LockTimeout)
	v.SetDefault("log-level", c.LogLevel)
	v.SetDefault("times", c.Times)
	v.SetDefault("address", c.Address)
	v.SetDefault("reload-interval", c.ReloadInterval)
	v.SetDefault("watch", c.Watch)
	v.SetDefault("cooldown", c.Cooldown)
	v.SetDefault("last-sent-path", c.LastSentPath)
	v.SetDefault("zabbix-timeout", c.ZabbixTimeout)
	v.SetDefault("out", c.ExportPath)
	v.SetDefault("profile-http-port", c.ProfileHTTPPort)
	v.SetDefault("profile-time", c.ProfileTime)

	v.SetDefault("cpu-threshold", DefaultCPUThreshold)
	v.SetDefault("disk-threshold", DefaultDiskThreshold)
	v.SetDefault("avg-load-threshold", DefaultAvgLoadThreshold)
}

func (c *Config) apply(v *viper.Viper) {
	c.DBPath = v.GetString("db")
	c.LockMode = v.GetString("lock-mode")
	c.LockPoll = v.GetDuration("lock-poll")
	c.LockTimeout = v.GetDuration("lock-timeout")

	c.LogLevel = strings.ToLower(v.GetString("log-level"))
	c.Verbosity = v.GetInt("verbose")

	c.IgnoredNetworks = v.GetStringSlice("ignored-networks")
	if v.IsSet("cleanup-older") {
		days := v.GetInt("cleanup-older")
		c.CleanupOlderDays = &days
	}
	c.Times = v.GetInt("times")
	c.DryRun = v.GetBool("dry-run")

	c.Address = v.GetString("address")
	c.ReloadInterval = v.GetDuration("reload-interval")
	c.Watch = v.GetBool("watch")

	c.Thresholds = threshold.Thresholds{
		CPU:     floatPtr(v, "cpu-threshold"),
		RAM:     floatPtr(v, "ram-threshold"),
		Swap:    floatPtr(v, "swap-threshold"),
		Memory:  floatPtr(v, "memory-threshold"),
		Disk:    floatPtr(v, "disk-threshold"),
		AvgLoad: floatPtr(v, "avg-load-threshold"),
	}
	if c.Thresholds.RAM == nil {
		c.Thresholds.RAM = ptrTo(DefaultRAMThreshold)
	}
	if c.Thresholds.Swap == nil {
		c.Thresholds.Swap = ptrTo(DefaultSwapThreshold)
	}
	if c.Thresholds.Memory == nil {
		c.Thresholds.Memory = ptrTo(DefaultMemoryThreshold)
	}
	c.Cooldown = v.GetDuration("cooldown")
	c.LastSentPath = v.GetString("last-sent-path")
	c.Hostname = v.GetString("hostname")
	c.ZabbixServer = v.GetString("zabbix-server")
	c.ZabbixHost = v.GetString("zabbix-host")
	c.ZabbixTimeout = v.GetDuration("zabbix-timeout")

	c.ExportPath = v.GetString("out")

	c.ProfileEnable = v.GetBool("profile")
	c.ProfileHTTPPort = v.GetInt("profile-http-port")
	c.ProfileCPUFile = v.GetString("profile-cpu")
	c.ProfileMemFile = v.GetString("profile-mem")
	c.ProfileTime = v.GetInt("profile-time")
}

func floatPtr(v *viper.Viper, key string) *float64 {
	if !v.IsSet(key) {
		return nil
	}
	return ptrTo(v.GetFloat64(key))
}

func ptrTo(f float64) *float64 {
	return &f
}

// Validate проверяет корректность конфигурации
func (c *Config) Validate() error {
	switch store.LockMode(c.LockMode) {
	case store.LockModeSentinel, store.LockModeFlock:
	default:
		return fmt.Errorf("invalid lock mode: %s", c.LockMode)
	}
	if c.LockPoll <= 0 {
		return fmt.Errorf("lock poll interval must be positive")
	}
	if c.LockTimeout < c.LockPoll {
		return fmt.Errorf("lock timeout must not be shorter than the poll interval")
	}

	// Проверяем уровень логирования
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s", c.LogLevel)
	}

	if c.CleanupOlderDays != nil && *c.CleanupOlderDays < 0 {
		return fmt.Errorf("cleanup-older must not be negative")
	}
	if c.Times <= 0 {
		return fmt.Errorf("times must be positive")
	}
	if c.ReloadInterval <= 0 {
		return fmt.Errorf("reload interval must be positive")
	}
	if c.Cooldown < 0 {
		return fmt.Errorf("cooldown must not be negative")
	}
	if err := c.Thresholds.Validate(); err != nil {
		return err
	}
	if c.ZabbixServer != "" {
		if _, _, err := net.SplitHostPort(c.ZabbixServer); err != nil {
			return fmt.Errorf("invalid zabbix server address %q: %w", c.ZabbixServer, err)
		}
		if c.ZabbixTimeout <= 0 {
			return fmt.Errorf("zabbix timeout must be positive")
		}
	}

	// Валидация профилирования
	if c.ProfileEnable {
		if c.ProfileHTTPPort < 0 || c.ProfileHTTPPort > 65535 {
			return fmt.Errorf("invalid profile HTTP port: %d", c.ProfileHTTPPort)
		}
		if c.ProfileTime <= 0 {
			return fmt.Errorf("profile time must be positive")
		}
	}

	return nil
}

// RequireDatabase проверяет, что путь к базе задан
func (c *Config) RequireDatabase() error {
	if c.DBPath == "" {
		return ErrDatabaseRequired
	}
	return nil
}

// StoreOptions переводит настройки блокировки в опции store.DB
func (c *Config) StoreOptions() []store.Option {
	return []store.Option{
		store.WithLockMode(store.LockMode(c.LockMode)),
		store.WithLockTiming(c.LockPoll, c.LockTimeout),
	}
}

// AddGlobalFlags добавляет общие флаги в корневую команду
func AddGlobalFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().String("config", "", "Path to a YAML config file")
	cmd.PersistentFlags().String("log-level", "warn", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().CountP("verbose", "v", "Increase verbosity (-v info, -vv debug)")
}

// AddDatabaseFlags добавляет флаги базы и блокировки
func AddDatabaseFlags(cmd *cobra.Command) {
	cmd.Flags().String("db", "", "Path to the metrics database file")
	cmd.Flags().String("lock-mode", string(store.LockModeSentinel), "Lock strategy (sentinel, flock)")
	cmd.Flags().Duration("lock-poll", store.DefaultLockPollInterval, "Lock poll interval")
	cmd.Flags().Duration("lock-timeout", store.DefaultLockTimeout, "Give up waiting for the lock after this long")
}

// AddUpdateFlags добавляет флаги команды update
func AddUpdateFlags(cmd *cobra.Command) {
	AddDatabaseFlags(cmd)
	cmd.Flags().Int("cleanup-older", 0, "Remove snapshots older than this many days")
	cmd.Flags().StringSliceP("ignored-networks", "i", nil, "Network interfaces to leave out")
	cmd.Flags().Int("times", 1, "Take this many snapshots before writing")
	cmd.Flags().Bool("dry-run", false, "Collect but do not write the database")
	_ = cmd.Flags().MarkHidden("times")
}

// AddServeFlags добавляет флаги команды serve
func AddServeFlags(cmd *cobra.Command) {
	AddDatabaseFlags(cmd)
	cmd.Flags().String("address", "127.0.0.1:8080", "Listening address")
	cmd.Flags().Duration("reload-interval", 2*time.Minute, "Reload the database this often")
	cmd.Flags().Bool("watch", true, "Reload when the database file changes")
	AddProfileFlags(cmd)
}

// AddNotifyFlags добавляет флаги команды notify
func AddNotifyFlags(cmd *cobra.Command) {
	cmd.Flags().Float64("cpu-threshold", DefaultCPUThreshold, "Max CPU usage before warning")
	cmd.Flags().Float64("ram-threshold", DefaultRAMThreshold, "Max RAM usage before warning")
	cmd.Flags().Float64("swap-threshold", DefaultSwapThreshold, "Max Swap usage before warning")
	cmd.Flags().Float64("memory-threshold", DefaultMemoryThreshold, "Max memory (RAM & Swap average) usage before warning; conflicts with explicit ram/swap thresholds")
	cmd.Flags().Float64("disk-threshold", DefaultDiskThreshold, "Max disk usage before warning")
	cmd.Flags().Float64("avg-load-threshold", DefaultAvgLoadThreshold, "Max 15 minutes load average before warning")
	cmd.Flags().Duration("cooldown", time.Hour, "Time to wait before notifying again")
	cmd.Flags().String("last-sent-path", "/tmp/sysmet-notify-last-mail.txt", "File holding the last notification time")
	cmd.Flags().String("hostname", "", "Host name used in reports (default: detected)")
	cmd.Flags().Bool("dry-run", false, "Evaluate but do not notify")
	cmd.Flags().String("zabbix-server", "", "Zabbix server (host:port) receiving reports as trapper items")
	cmd.Flags().String("zabbix-host", "", "Host name in Zabbix (default: the report host name)")
	cmd.Flags().Duration("zabbix-timeout", 10*time.Second, "Zabbix connection timeout")
}

// AddExportFlags добавляет флаги команды export
func AddExportFlags(cmd *cobra.Command) {
	AddDatabaseFlags(cmd)
	cmd.Flags().String("out", "sysmet.sqlite", "SQLite file to write")
}

// AddProfileFlags добавляет флаги профилирования
func AddProfileFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("profile", false, "Enable profiling")
	cmd.Flags().Int("profile-http-port", 6060, "HTTP port for pprof endpoints (0 disables)")
	cmd.Flags().String("profile-cpu", "", "CPU profile output file")
	cmd.Flags().String("profile-mem", "", "Memory profile output file")
	cmd.Flags().Int("profile-time", 30, "CPU profile duration in seconds")
}
