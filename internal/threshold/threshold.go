// Package threshold сравнивает свежее мгновенное измерение хоста с заданными порогами.
// История из базы здесь не используется.
package threshold

import (
	"errors"
	"fmt"

	"sysmet/internal/collector"
	"sysmet/internal/derive"
)

// ErrConflictingThresholds - общий порог памяти явно задан вместе с порогами RAM/swap
var ErrConflictingThresholds = errors.New("memory threshold conflicts with ram and swap thresholds")

// Reading содержит мгновенные проценты для проверки порогов
type Reading struct {
	CPU     float64 `json:"cpu"`
	RAM     float64 `json:"ram"`
	Swap    float64 `json:"swap"`
	Memory  float64 `json:"memory"`
	Disk    float64 `json:"disk"`
	AvgLoad float64 `json:"avg_load"`
}

// NewReading считает проценты из мгновенного измерения.
// Средняя нагрузка берется за 15 минут.
func NewReading(in *collector.Instant) Reading {
	return Reading{
		CPU:     in.CPUPercent,
		RAM:     in.RAMPercent,
		Swap:    in.SwapPercent,
		Memory:  derive.MemoryPercent(in.RAMPercent, in.SwapPercent),
		Disk:    in.DiskPercent,
		AvgLoad: derive.LoadPercent(in.Load.Fifteen, in.Cores),
	}
}

// Thresholds - пороги в процентах, nil означает "не проверять"
type Thresholds struct {
	CPU     *float64
	RAM     *float64
	Swap    *float64
	Memory  *float64
	Disk    *float64
	AvgLoad *float64
}

// Validate проверяет диапазоны порогов
func (t Thresholds) Validate() error {
	for _, l := range t.limits(Reading{}) {
		if l.limit == nil {
			continue
		}
		if *l.limit < 0 || *l.limit > 100 {
			return fmt.Errorf("%s threshold must be between 0 and 100, got %v", l.name, *l.limit)
		}
	}
	return nil
}

// Crossing - один превышенный порог
type Crossing struct {
	Name      string  `json:"name"`
	Threshold float64 `json:"threshold"`
	Observed  float64 `json:"observed"`
}

// Evaluate возвращает все пороги, которые строго превышены
func Evaluate(r Reading, t Thresholds) []Crossing {
	var crossed []Crossing
	for _, l := range t.limits(r) {
		if l.limit != nil && l.observed > *l.limit {
			crossed = append(crossed, Crossing{Name: l.name, Threshold: *l.limit, Observed: l.observed})
		}
	}
	return crossed
}

type limit struct {
	name     string
	limit    *float64
	observed float64
}

func (t Thresholds) limits(r Reading) []limit {
	return []limit{
		{"CPU", t.CPU, r.CPU},
		{"RAM", t.RAM, r.RAM},
		{"Swap", t.Swap, r.Swap},
		{"RAM & Swap", t.Memory, r.Memory},
		{"Disk", t.Disk, r.Disk},
		{"Average Load", t.AvgLoad, r.AvgLoad},
	}
}
