package app

import (
	"context"
	"encoding/json"

	"spookbot/internal/game"
	"spookbot/internal/storage"
	logx "spookbot/pkg/logx"
)

// startAudit persists every round lifecycle event to the audit log.
func (a *App) startAudit() {
	events, unsub := a.bus.Subscribe(128, "round.", "game.")
	a.sup.Go0("audit.writer", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				entry := storage.AuditEntry{EventID: e.ID, At: e.Time, Action: e.Type}
				if ev, ok := e.Data.(game.RoundEvent); ok {
					entry.Game = ev.Game
					entry.RoundID = ev.RoundID
					entry.ActorID = ev.Actor
				}
				if e.Data != nil {
					if b, err := json.Marshal(e.Data); err == nil {
						entry.MetaJSON = string(b)
					}
				}
				if err := a.store.AppendAudit(c, entry); err != nil {
					a.log.Warn("audit append failed", logx.String("type", e.Type), logx.String("event_id", e.ID), logx.Err(err))
					continue
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Game(entry.Game), logx.Round(entry.RoundID))
			}
		}
	})
}
