package derive

import "sysmet/internal/collector"

// Названия групп графиков
const (
	GroupCPU        = "CPU Usage"
	GroupMemory     = "RAM Usage"
	GroupLoad       = "Load Average"
	GroupNetwork    = "Network"
	GroupDiskSpeed  = "Disks Speed Usage"
	GroupDiskMemory = "Disks Memory Usage"
)

// SeriesKey идентифицирует ряд независимо от его подписи
type SeriesKey string

const (
	KeyCPU       SeriesKey = "cpu"
	KeyRAM       SeriesKey = "ram"
	KeySwap      SeriesKey = "swap"
	KeyLoad1     SeriesKey = "load_1"
	KeyLoad5     SeriesKey = "load_5"
	KeyLoad15    SeriesKey = "load_15"
	KeyNetRecv   SeriesKey = "network_received"
	KeyNetSent   SeriesKey = "network_sent"
	KeyDiskRead  SeriesKey = "disk_read"
	KeyDiskWrite SeriesKey = "disk_write"
	KeyDiskUsed  SeriesKey = "disk_used"
)

// Style - подпись и цвет ряда, их задает слой отображения
type Style struct {
	Label string
	Color string
}

// Palette сопоставляет рядам их оформление
type Palette map[SeriesKey]Style

// DefaultPalette - оформление дашборда по умолчанию
var DefaultPalette = Palette{
	KeyCPU:       {Label: "", Color: "#e00"},
	KeyRAM:       {Label: "RAM", Color: "#0e0"},
	KeySwap:      {Label: "Swap", Color: "#e0e"},
	KeyLoad1:     {Label: "1 minutes", Color: "#a0a"},
	KeyLoad5:     {Label: "5 minutes", Color: "#0a0"},
	KeyLoad15:    {Label: "15 minutes", Color: "#00e"},
	KeyNetRecv:   {Label: "Received", Color: "#faa"},
	KeyNetSent:   {Label: "Sent", Color: "#aaf"},
	KeyDiskRead:  {Label: "Read", Color: "#afa"},
	KeyDiskWrite: {Label: "Write", Color: "#faf"},
	KeyDiskUsed:  {Label: "Usage", Color: "#a4f"},
}

// Series - один ряд графика
type Series struct {
	Key    SeriesKey
	Label  string
	Color  string
	Points []Point
}

// Group - набор рядов одного графика в общих единицах
type Group struct {
	Name   string
	Unit   string
	Series []Series
}

// Groups строит все графики дашборда. Масштаб осей здесь не считается.
func Groups(snaps []collector.Snapshot, palette Palette) []Group {
	ram, swap := MemoryUsage(snaps)
	one, five, fifteen := LoadUsage(snaps)
	recv, sent := Network(snaps)
	read, written := DiskIO(snaps)

	return []Group{
		{Name: GroupCPU, Unit: "%", Series: []Series{
			palette.series(KeyCPU, CPUUsage(snaps)),
		}},
		{Name: GroupMemory, Unit: "%", Series: []Series{
			palette.series(KeyRAM, ram),
			palette.series(KeySwap, swap),
		}},
		{Name: GroupLoad, Unit: "%", Series: []Series{
			palette.series(KeyLoad1, one),
			palette.series(KeyLoad5, five),
			palette.series(KeyLoad15, fifteen),
		}},
		{Name: GroupNetwork, Unit: "MiB", Series: []Series{
			palette.series(KeyNetRecv, recv),
			palette.series(KeyNetSent, sent),
		}},
		{Name: GroupDiskSpeed, Unit: "KiB", Series: []Series{
			palette.series(KeyDiskRead, read),
			palette.series(KeyDiskWrite, written),
		}},
		{Name: GroupDiskMemory, Unit: "%", Series: []Series{
			palette.series(KeyDiskUsed, DiskUsage(snaps)),
		}},
	}
}

func (p Palette) series(key SeriesKey, points []Point) Series {
	style, ok := p[key]
	if !ok {
		style = Style{Label: string(key)}
	}
	return Series{Key: key, Label: style.Label, Color: style.Color, Points: points}
}
