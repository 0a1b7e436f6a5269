package app

import (
	"context"
	"time"
)

type gameStatus struct {
	ID       string `json:"id"`
	Season   string `json:"season"`
	Enabled  bool   `json:"enabled"`
	Awaiting bool   `json:"awaiting"`
	RoundID  int64  `json:"round_id,omitempty"`
}

type appStatus struct {
	Uptime        string       `json:"uptime"`
	Self          int64        `json:"self"`
	TasksActive   int64        `json:"tasks_active"`
	TaskPanics    uint64       `json:"task_panics"`
	LogsDropped   uint64       `json:"logs_dropped"`
	TickerTargets int          `json:"ticker_targets"`
	Games         []gameStatus `json:"games"`
}

// status backs the diagnostics /status endpoint.
func (a *App) status(ctx context.Context) any {
	st := appStatus{
		Uptime:        time.Since(a.startedAt).Truncate(time.Second).String(),
		Self:          int64(a.driver.Self()),
		LogsDropped:   a.logs.Dropped(),
		TickerTargets: len(a.ticker.Targets()),
	}
	if a.sup != nil {
		c := a.sup.Counters()
		st.TasksActive = c.Active
		st.TaskPanics = c.Panics
	}
	for _, g := range a.games {
		gs := gameStatus{ID: g.ID(), Season: g.Config().Season, Enabled: g.Enabled(), Awaiting: g.Awaiting()}
		if ptr, err := g.Pointer().Get(ctx); err == nil {
			gs.RoundID = int64(ptr)
		}
		st.Games = append(st.Games, gs)
	}
	return st
}
