package zabbix

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"sysmet/internal/threshold"
)

// Ключи trapper-элементов. На сервере они должны существовать у хоста.
const (
	// KeyReport получает текст отчета целиком
	KeyReport = "sysmet.report"
	// KeyThresholdFormat получает наблюдаемое значение по каждому превышенному порогу
	KeyThresholdFormat = "sysmet.threshold[%s]"
)

// Notifier доставляет отчеты о превышении порогов в Zabbix как trapper-значения
type Notifier struct {
	sender *Sender
	host   string
	logger *zap.Logger
}

// NewNotifier создает уведомитель. host - имя хоста в Zabbix; пустое значение
// означает имя хоста из отчета.
func NewNotifier(sender *Sender, host string, logger *zap.Logger) *Notifier {
	return &Notifier{sender: sender, host: host, logger: logger}
}

// Notify отправляет значения превышенных порогов и текст отчета одним пакетом
func (n *Notifier) Notify(ctx context.Context, r *threshold.Report) error {
	resp, err := n.sender.SendData(ctx, n.items(r))
	if err != nil {
		return err
	}

	n.logger.Info("Report sent to Zabbix",
		zap.String("report_id", r.ID),
		zap.String("info", resp.Info))
	return nil
}

func (n *Notifier) items(r *threshold.Report) []SenderData {
	host := n.host
	if host == "" {
		host = r.Host
	}
	clock := r.CheckedAt.Unix()

	items := make([]SenderData, 0, len(r.Crossings)+1)
	for _, c := range r.Crossings {
		items = append(items, SenderData{
			Host:  host,
			Key:   fmt.Sprintf(KeyThresholdFormat, itemSuffix(c.Name)),
			Value: strconv.FormatFloat(c.Observed, 'f', 3, 64),
			Clock: clock,
		})
	}
	items = append(items, SenderData{
		Host:  host,
		Key:   KeyReport,
		Value: r.Subject() + "\n\n" + r.Body(),
		Clock: clock,
	})
	return items
}

// itemSuffix: "RAM & Swap" -> "ram_swap", "Average Load" -> "average_load"
func itemSuffix(name string) string {
	name = strings.ToLower(name)
	name = strings.ReplaceAll(name, " & ", "_")
	return strings.ReplaceAll(name, " ", "_")
}
