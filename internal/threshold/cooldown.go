package threshold

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Cooldown не дает отправлять уведомления чаще раза в Period.
// Момент последней отправки хранится в файле Path в формате RFC3339.
type Cooldown struct {
	Path   string
	Period time.Duration
}

// Active сообщает, что с последней отправки еще не прошло Period.
// Отсутствующий, пустой или нечитаемый файл означает, что ожидание закончено.
func (c Cooldown) Active(now time.Time) bool {
	if c.Path == "" {
		return false
	}
	content, err := os.ReadFile(c.Path)
	if err != nil {
		return false
	}
	last, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(string(content)))
	if err != nil {
		return false
	}
	return !last.Add(c.Period).Before(now)
}

// Mark записывает момент отправки, перезаписывая файл
func (c Cooldown) Mark(now time.Time) error {
	if c.Path == "" {
		return nil
	}
	if err := os.WriteFile(c.Path, []byte(now.UTC().Format(time.RFC3339Nano)), 0o644); err != nil {
		return fmt.Errorf("failed to write last sent time: %w", err)
	}
	return nil
}
