package agent

import (
	"context"

	"github.com/stillpointlabs/vidmark/internal/journal"
	"github.com/stillpointlabs/vidmark/internal/lifecycle"
	"github.com/stillpointlabs/vidmark/internal/tabrouter"
	"github.com/stillpointlabs/vidmark/internal/types"
)

// tabSink receives one tab's lifecycle messages, folds them into the
// context router, journals them, and forwards them to the tab's
// subscriber. Implements lifecycle.EventSink.
type tabSink struct {
	router  *tabrouter.Router
	journal *journal.Journal
}

func (s *tabSink) Publish(msg types.UIMessage) {
	s.bookkeep(msg)
	if s.journal != nil {
		s.journal.Record(journal.CategoryEvents, msg.Action, msg.TabID, msg)
	}
	s.router.Publish(msg)
}

// bookkeep mirrors the message into the persisted tab context. Media loss
// keeps the context alive: the item association must survive player swaps
// and SPA churn until the tab itself goes away.
func (s *tabSink) bookkeep(msg types.UIMessage) {
	ctx := context.Background()
	switch msg.Action {
	case types.ActionMediaDetected:
		if msg.Item == nil {
			return
		}
		tc := tabrouter.TabContext{
			TabID: msg.TabID,
			Item:  *msg.Item,
			State: lifecycle.StateReady,
		}
		if prev, ok := s.router.Get(msg.TabID); ok && prev.Item.Key() == msg.Item.Key() {
			tc.LastTimestamp = prev.LastTimestamp
			tc.Recording = prev.Recording
		}
		s.router.Update(ctx, tc)
	case types.ActionMediaLost:
		prev, ok := s.router.Get(msg.TabID)
		if !ok {
			return
		}
		prev.State = lifecycle.StateDetecting
		s.router.Update(ctx, prev)
	case types.ActionTimestampUpdate:
		s.router.Touch(ctx, msg.TabID, msg.Timestamp)
	case types.ActionTabChanged:
		if msg.Item == nil {
			return
		}
		// A different item means the old position and recording flag no
		// longer apply.
		s.router.Update(ctx, tabrouter.TabContext{
			TabID: msg.TabID,
			Item:  *msg.Item,
			State: lifecycle.StateDetecting,
		})
	}
}
