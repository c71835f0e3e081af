package threshold

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Report - результат одной проверки, в которой превышен хотя бы один порог
type Report struct {
	ID        string
	Host      string
	CheckedAt time.Time
	Reading   Reading
	Crossings []Crossing
}

// NewReport собирает отчет с новым идентификатором
func NewReport(host string, at time.Time, r Reading, crossings []Crossing) *Report {
	return &Report{
		ID:        uuid.NewString(),
		Host:      host,
		CheckedAt: at,
		Reading:   r,
		Crossings: crossings,
	}
}

// Subject - тема уведомления
func (r *Report) Subject() string {
	return "Warning threshold reached on " + r.Host
}

// Body - текст уведомления: превышенные пороги и состояние системы
func (r *Report) Body() string {
	var b strings.Builder

	b.WriteString("Thresholds crossed:\n")
	for _, c := range r.Crossings {
		fmt.Fprintf(&b, "- %s threshold crossed (%s%%): observed %s%%\n",
			c.Name, round3(c.Threshold), round3(c.Observed))
	}

	b.WriteString("\n\nSystem state:\n")
	fmt.Fprintf(&b, "- CPU %s%%\n", round3(r.Reading.CPU))
	fmt.Fprintf(&b, "- RAM %s%%\n", round3(r.Reading.RAM))
	fmt.Fprintf(&b, "- Swap %s%%\n", round3(r.Reading.Swap))
	fmt.Fprintf(&b, "- Disk %s%%\n", round3(r.Reading.Disk))
	fmt.Fprintf(&b, "- Average Load (on 15min) %s%%\n", round3(r.Reading.AvgLoad))

	return b.String()
}

// round3 округляет до трех знаков и убирает лишние нули
func round3(v float64) string {
	return strconv.FormatFloat(math.Round(v*1000)/1000, 'f', -1, 64)
}

// Notifier доставляет отчет. SMTP-доставка живет за пределами этого модуля.
type Notifier interface {
	Notify(ctx context.Context, r *Report) error
}

// Notifiers отправляет отчет всем получателям по очереди и собирает ошибки
type Notifiers []Notifier

// Notify вызывает каждый Notifier, даже если предыдущий вернул ошибку
func (ns Notifiers) Notify(ctx context.Context, r *Report) error {
	var errs []error
	for _, n := range ns {
		if err := n.Notify(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogNotifier пишет отчет в лог
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier создает уведомитель через лог
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify пишет отчет с уровнем Warn
func (n *LogNotifier) Notify(_ context.Context, r *Report) error {
	n.logger.Warn(r.Subject(),
		zap.String("report_id", r.ID),
		zap.Time("checked_at", r.CheckedAt),
		zap.Any("crossings", r.Crossings),
		zap.String("body", r.Body()))
	return nil
}
