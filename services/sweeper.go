package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/6587027/VipStore-sub001/metrics"
)

type SweepResult struct {
	Messages int64
	Rooms    int64
}

// Sweeper enforces retention independently of request handling: expired messages
// are deleted and inactive rooms soft-deleted on every tick.
type Sweeper struct {
	messages *MessageService
	rooms    *RoomService
	interval time.Duration
	logger   zerolog.Logger
}

func NewSweeper(messages *MessageService, rooms *RoomService, interval time.Duration, logger zerolog.Logger) *Sweeper {
	return &Sweeper{
		messages: messages,
		rooms:    rooms,
		interval: interval,
		logger:   logger.With().Str("component", "sweeper").Logger(),
	}
}

func (s *Sweeper) SweepOnce(ctx context.Context) (SweepResult, error) {
	now := time.Now().UTC()
	var res SweepResult
	var err error
	if res.Messages, err = s.messages.DeleteExpired(ctx, now); err != nil {
		return res, err
	}
	if res.Rooms, err = s.rooms.SoftDeleteExpired(ctx, now); err != nil {
		return res, err
	}
	return res, nil
}

// Run sweeps until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := s.SweepOnce(ctx)
			if err != nil {
				s.logger.Error().Err(err).Msg("retention sweep failed")
				continue
			}
			metrics.SweptRows.WithLabelValues("messages").Add(float64(res.Messages))
			metrics.SweptRows.WithLabelValues("rooms").Add(float64(res.Rooms))
			if res.Messages > 0 || res.Rooms > 0 {
				s.logger.Info().
					Int64("messages", res.Messages).
					Int64("rooms", res.Rooms).
					Msg("expired chat data removed")
			}
		}
	}
}
