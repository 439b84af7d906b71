package reference

import (
	"context"
	"time"
)

const (
	DefaultWatchInterval = time.Second
	DefaultWatchMax      = 5 * time.Minute
)

// CreateContext: открытое хостом окно/вкладка создания записи.
type CreateContext interface {
	URL() string
	Closed() bool
}

// CreateOpener открывает точку создания записи целевой таблицы.
type CreateOpener interface {
	OpenCreate(ctx context.Context, targetTable, prefill string) (CreateContext, error)
}

// WatchConfig: интервал опроса и потолок жизни наблюдателя.
type WatchConfig struct {
	Interval time.Duration
	Max      time.Duration
}

func (c WatchConfig) withDefaults() WatchConfig {
	if c.Interval <= 0 {
		c.Interval = DefaultWatchInterval
	}
	if c.Max <= 0 {
		c.Max = DefaultWatchMax
	}
	return c
}

// Watch опрашивает cc.Closed() каждые Interval, но не дольше Max.
// onClosed вызывается не более одного раза. Возвращает функцию остановки;
// отмена ctx тоже останавливает опрос.
func Watch(ctx context.Context, cc CreateContext, cfg WatchConfig, onClosed func()) (stop func()) {
	cfg = cfg.withDefaults()
	wctx, cancel := context.WithTimeout(ctx, cfg.Max)

	go func() {
		defer cancel()
		t := time.NewTicker(cfg.Interval)
		defer t.Stop()
		for {
			select {
			case <-wctx.Done():
				return
			case <-t.C:
				if cc.Closed() {
					if onClosed != nil {
						onClosed()
					}
					return
				}
			}
		}
	}()
	return cancel
}
