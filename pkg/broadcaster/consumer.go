package broadcaster

import (
	"context"

	"go.uber.org/zap"

	"github.com/product-labo/Meta-sub005/pkg/orchestrator"
)

// Consumer turns orchestrator job events into wallet messages
type Consumer struct {
	hub    *Hub
	events <-chan orchestrator.Event
	logger *zap.Logger
}

// NewConsumer creates a consumer of events
func NewConsumer(hub *Hub, events <-chan orchestrator.Event, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{
		hub:    hub,
		events: events,
		logger: logger.With(zap.String("component", "broadcast-consumer")),
	}
}

// Run dispatches events until the channel is closed or ctx is done
func (c *Consumer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-c.events:
			if !ok {
				return nil
			}
			if err := c.Dispatch(ctx, ev); err != nil {
				c.logger.Warn("failed to broadcast job event",
					zap.String("type", string(ev.Type)),
					zap.String("job_id", ev.JobID),
					zap.String("wallet_id", ev.WalletID),
					zap.Error(err),
				)
			}
		}
	}
}

// Dispatch sends one event to the hub
func (c *Consumer) Dispatch(ctx context.Context, ev orchestrator.Event) error {
	switch ev.Type {
	case orchestrator.EventProgress:
		return c.hub.BroadcastProgress(ctx, ProgressData{
			WalletID:          ev.WalletID,
			JobID:             ev.JobID,
			Chain:             ev.Chain,
			CurrentBlock:      ev.CurrentBlock,
			StartBlock:        ev.StartBlock,
			TotalBlocks:       ev.EndBlock,
			TransactionsFound: ev.TransactionsFound,
			EventsFound:       ev.EventsFound,
			BlocksPerSecond:   ev.BlocksPerSecond,
			Percentage:        ev.Percentage,
		})
	case orchestrator.EventComplete:
		return c.hub.BroadcastComplete(ctx, CompleteData{
			WalletID:          ev.WalletID,
			JobID:             ev.JobID,
			Chain:             ev.Chain,
			LastBlock:         ev.CurrentBlock,
			TransactionsFound: ev.TransactionsFound,
			EventsFound:       ev.EventsFound,
		})
	case orchestrator.EventError:
		return c.hub.BroadcastError(ctx, ErrorData{
			WalletID:  ev.WalletID,
			JobID:     ev.JobID,
			Chain:     ev.Chain,
			Error:     ev.Error,
			LastBlock: ev.CurrentBlock,
		})
	case orchestrator.EventStatus:
		return c.hub.BroadcastStatus(ctx, StatusData{
			WalletID:     ev.WalletID,
			JobID:        ev.JobID,
			Chain:        ev.Chain,
			Status:       string(ev.Status),
			StartBlock:   ev.StartBlock,
			EndBlock:     ev.EndBlock,
			CurrentBlock: ev.CurrentBlock,
		})
	default:
		c.logger.Debug("ignoring unknown event type", zap.String("type", string(ev.Type)))
		return nil
	}
}
