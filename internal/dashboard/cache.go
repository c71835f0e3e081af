package dashboard

import (
	"sync"
	"time"

	"sysmet/internal/derive"
	"sysmet/internal/store"
)

// Chart - группа рядов с максимумом для масштабирования оси
type Chart struct {
	Name   string
	Unit   string
	Max    float64
	Series []derive.Series
}

// Charts - все графики, построенные из одной загрузки базы
type Charts struct {
	UpdatedAt time.Time
	Version   string
	Snapshots int
	Charts    []Chart
}

// BuildCharts строит графики из базы и считает максимум по каждой группе
func BuildCharts(s *store.Store, palette derive.Palette, now time.Time) Charts {
	groups := derive.Groups(s.Snapshots, palette)

	charts := make([]Chart, 0, len(groups))
	for _, g := range groups {
		charts = append(charts, Chart{
			Name:   g.Name,
			Unit:   g.Unit,
			Max:    maxValue(g.Series),
			Series: g.Series,
		})
	}

	return Charts{
		UpdatedAt: now,
		Version:   s.Version,
		Snapshots: s.Len(),
		Charts:    charts,
	}
}

func maxValue(series []derive.Series) float64 {
	var max float64
	for _, s := range series {
		for _, p := range s.Points {
			if p.Value > max {
				max = p.Value
			}
		}
	}
	return max
}

// Cache хранит последние успешно построенные графики.
// Обработчики HTTP только читают, подмена выполняется целиком под записью.
type Cache struct {
	mu     sync.RWMutex
	charts Charts
	loaded bool
}

// NewCache создает пустой кэш
func NewCache() *Cache {
	return &Cache{}
}

// Get возвращает текущие графики и признак того, что хоть одна загрузка удалась
func (c *Cache) Get() (Charts, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.charts, c.loaded
}

// Swap заменяет графики
func (c *Cache) Swap(charts Charts) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.charts = charts
	c.loaded = true
}
