// Package derive превращает сырые счетчики снимков в ряды процентов и объемов.
//
// Все функции чистые: не трогают диск и блокировки и возвращают по одной
// точке на снимок в исходном порядке (снимки считаются упорядоченными по времени).
package derive

import (
	"time"

	"sysmet/internal/collector"
)

const (
	bytesInKiB = 1024
	bytesInMiB = 1024 * 1024
)

// Point - одно значение ряда
type Point struct {
	Value float64
	Time  time.Time
}

// CPUPercent - доля времени занятости от общего времени в процентах.
// При нулевом общем времени возвращает 0.
func CPUPercent(busy, total float64) float64 {
	if total <= 0 {
		return 0
	}
	return busy / total * 100
}

// LoadPercent нормализует длину очереди по числу ядер
func LoadPercent(load float64, cores int) float64 {
	if cores <= 0 {
		return 0
	}
	return load / float64(cores) * 100
}

// MemoryPercent - средняя загрузка RAM и swap
func MemoryPercent(ram, swap float64) float64 {
	return (ram + swap) / 2
}

// BytesToMiB переводит байты в MiB
func BytesToMiB(bytes uint64) float64 {
	return float64(bytes) / bytesInMiB
}

// BytesToKiB переводит байты в целые KiB
func BytesToKiB(bytes uint64) float64 {
	return float64(bytes / bytesInKiB)
}

// CPUUsage - процент занятости CPU по всем ядрам каждого снимка
func CPUUsage(snaps []collector.Snapshot) []Point {
	return series(snaps, func(s *collector.Snapshot) float64 {
		return CPUPercent(s.CPUTime())
	})
}

// MemoryUsage - проценты RAM и swap
func MemoryUsage(snaps []collector.Snapshot) (ram, swap []Point) {
	ram = series(snaps, func(s *collector.Snapshot) float64 { return s.Memory.UsedPercent })
	swap = series(snaps, func(s *collector.Snapshot) float64 { return s.Swap.UsedPercent })
	return ram, swap
}

// LoadUsage - средняя нагрузка за 1, 5 и 15 минут в процентах от числа ядер снимка
func LoadUsage(snaps []collector.Snapshot) (one, five, fifteen []Point) {
	one = series(snaps, func(s *collector.Snapshot) float64 {
		return LoadPercent(s.Load.One, s.CPUCount())
	})
	five = series(snaps, func(s *collector.Snapshot) float64 {
		return LoadPercent(s.Load.Five, s.CPUCount())
	})
	fifteen = series(snaps, func(s *collector.Snapshot) float64 {
		return LoadPercent(s.Load.Fifteen, s.CPUCount())
	})
	return one, five, fifteen
}

// Network - принятые и отправленные MiB по всем интерфейсам
func Network(snaps []collector.Snapshot) (recv, sent []Point) {
	recv = series(snaps, func(s *collector.Snapshot) float64 {
		r, _ := s.NetworkTotals()
		return BytesToMiB(r)
	})
	sent = series(snaps, func(s *collector.Snapshot) float64 {
		_, w := s.NetworkTotals()
		return BytesToMiB(w)
	})
	return recv, sent
}

// DiskIO - прочитанные и записанные KiB по всем разделам
func DiskIO(snaps []collector.Snapshot) (read, written []Point) {
	read = series(snaps, func(s *collector.Snapshot) float64 {
		r, _ := s.DiskIOTotals()
		return BytesToKiB(r)
	})
	written = series(snaps, func(s *collector.Snapshot) float64 {
		_, w := s.DiskIOTotals()
		return BytesToKiB(w)
	})
	return read, written
}

// DiskUsage - сумма процентов заполнения разделов.
// Это не взвешенная общая загрузка: два раздела по 50% дадут 100.
func DiskUsage(snaps []collector.Snapshot) []Point {
	return series(snaps, func(s *collector.Snapshot) float64 { return s.DiskUsageSum() })
}

func series(snaps []collector.Snapshot, value func(*collector.Snapshot) float64) []Point {
	points := make([]Point, 0, len(snaps))
	for i := range snaps {
		points = append(points, Point{Value: value(&snaps[i]), Time: snaps[i].Time})
	}
	return points
}
