package collector

import (
	"errors"
	"fmt"
	"time"
)

// ErrCollection возвращается (через errors.Is) при любой ошибке чтения счетчиков ОС
var ErrCollection = errors.New("collection failed")

// CollectionError описывает неудачное чтение одного из счетчиков
type CollectionError struct {
	Component string
	Err       error
}

func (e *CollectionError) Error() string {
	return fmt.Sprintf("collect %s: %v", e.Component, e.Err)
}

func (e *CollectionError) Unwrap() error { return e.Err }

// Is позволяет сравнивать с ErrCollection
func (e *CollectionError) Is(target error) bool { return target == ErrCollection }

// Snapshot содержит одно неизменяемое измерение всех счетчиков хоста
type Snapshot struct {
	CPUs         []CPUTimes                 `cbor:"cpus"`
	Memory       Memory                     `cbor:"memory"`
	Swap         Memory                     `cbor:"swap"`
	Networks     map[string]NetworkCounters `cbor:"networks"`
	DisksIO      map[string]DiskIOCounters  `cbor:"disks_io"`
	DisksUsage   map[string]float64         `cbor:"disks_usage"`
	Temperatures map[string]float64         `cbor:"temperatures"`
	Load         LoadAvg                    `cbor:"load_avgs"`
	Time         time.Time                  `cbor:"time"`
}

// CPUTimes содержит время ядра в секундах
type CPUTimes struct {
	Busy  float64 `cbor:"busy"`
	Total float64 `cbor:"total"`
}

// Memory содержит объем и процент использования RAM или swap
type Memory struct {
	Total       uint64  `cbor:"total"`
	UsedPercent float64 `cbor:"used_percent"`
}

// NetworkCounters содержит накопленные счетчики интерфейса
type NetworkCounters struct {
	BytesRecv uint64 `cbor:"bytes_recv"`
	BytesSent uint64 `cbor:"bytes_sent"`
}

// DiskIOCounters содержит накопленные счетчики ввода-вывода раздела
type DiskIOCounters struct {
	ReadBytes  uint64 `cbor:"read_bytes"`
	WriteBytes uint64 `cbor:"write_bytes"`
}

// LoadAvg содержит длину очереди выполнения, не нормализованную по ядрам
type LoadAvg struct {
	One     float64 `cbor:"one"`
	Five    float64 `cbor:"five"`
	Fifteen float64 `cbor:"fifteen"`
}

// CPUCount возвращает количество ядер в снимке
func (s *Snapshot) CPUCount() int {
	return len(s.CPUs)
}

// CPUTime возвращает суммарное время занятости и общее время по всем ядрам
func (s *Snapshot) CPUTime() (busy, total float64) {
	for _, c := range s.CPUs {
		busy += c.Busy
		total += c.Total
	}
	return busy, total
}

// NetworkTotals суммирует принятые и отправленные байты по всем интерфейсам
func (s *Snapshot) NetworkTotals() (recv, sent uint64) {
	for _, n := range s.Networks {
		recv += n.BytesRecv
		sent += n.BytesSent
	}
	return recv, sent
}

// DiskIOTotals суммирует прочитанные и записанные байты по всем разделам
func (s *Snapshot) DiskIOTotals() (read, written uint64) {
	for _, d := range s.DisksIO {
		read += d.ReadBytes
		written += d.WriteBytes
	}
	return read, written
}

// DiskUsageSum складывает проценты заполнения разделов.
// Это не реальная общая загрузка дисков, а сумма процентов.
func (s *Snapshot) DiskUsageSum() float64 {
	var sum float64
	for _, p := range s.DisksUsage {
		sum += p
	}
	return sum
}

// Instant содержит мгновенные значения для проверки порогов (без истории)
type Instant struct {
	CPUPercent  float64
	RAMPercent  float64
	SwapPercent float64
	DiskPercent float64
	Load        LoadAvg
	Cores       int
}
