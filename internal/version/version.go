// Package version содержит версию программы, подставляемую при сборке через ldflags.
// Версия записывается в файл базы и обязана быть корректной semver-строкой.
package version

import (
	"fmt"
	"runtime"
)

// Переменные подставляются при сборке: -ldflags "-X sysmet/internal/version.Version=..."
var (
	Version   = "0.4.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Info возвращает строку для вывода sysmet version
func Info() string {
	return fmt.Sprintf("sysmet %s (commit: %s, built: %s, go: %s)",
		Version, GitCommit, BuildDate, runtime.Version())
}

// Map возвращает информацию о версии для JSON
func Map() map[string]string {
	return map[string]string{
		"version":    Version,
		"git_commit": GitCommit,
		"build_date": BuildDate,
		"go_version": runtime.Version(),
	}
}
