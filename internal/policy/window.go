package policy

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xela07ax/agentpay/internal/domain"
)

// DailyWindow определяет, когда обнуляется DailySpent.
type DailyWindow string

const (
	// WindowCalendar — календарные сутки UTC (по умолчанию)
	WindowCalendar DailyWindow = "calendar"
	// WindowRolling — 24 часа от начала окна
	WindowRolling DailyWindow = "rolling"
	// WindowLifetime — счетчик никогда не сбрасывается, maxDailyAmount фактически пожизненный лимит
	WindowLifetime DailyWindow = "lifetime"
)

func ParseDailyWindow(s string) (DailyWindow, error) {
	switch w := DailyWindow(strings.ToLower(strings.TrimSpace(s))); w {
	case "":
		return WindowCalendar, nil
	case WindowCalendar, WindowRolling, WindowLifetime:
		return w, nil
	default:
		return "", fmt.Errorf("unknown daily window %q (want calendar|rolling|lifetime)", s)
	}
}

// Start — начало окна для только что созданной политики.
func (w DailyWindow) Start(now time.Time) time.Time {
	if w == WindowCalendar {
		return startOfDay(now)
	}
	return now.UTC()
}

// Roll обнуляет счетчик, если окно закончилось. Возвращает true, если был сброс.
// Вызывается только внутри Store.Update, поэтому сброс сохраняется вместе с успешным списанием.
func (w DailyWindow) Roll(p *domain.AgentPolicy, now time.Time) bool {
	if !w.expired(p.WindowStartedAt, now) {
		return false
	}
	p.DailySpent = decimal.Zero
	p.WindowStartedAt = w.Start(now)
	return true
}

// Effective — вид политики "как если бы окно уже прокрутилось", без мутации.
// Нужен для экранов статуса.
func (w DailyWindow) Effective(p domain.AgentPolicy, now time.Time) domain.AgentPolicy {
	c := p.Clone()
	w.Roll(&c, now)
	return c
}

func (w DailyWindow) expired(started, now time.Time) bool {
	switch w {
	case WindowLifetime:
		return false
	case WindowRolling:
		return !now.Before(started.Add(24 * time.Hour))
	default:
		return startOfDay(now).After(startOfDay(started))
	}
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
