package services

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"agent-market/models"

	"github.com/gofiber/fiber/v2"
)

// RewardEvent is one reward an actor earned.
type RewardEvent struct {
	Source      string    `json:"source"`
	ReferenceID string    `json:"reference_id"`
	Amount      int64     `json:"amount"`
	CreatedAt   time.Time `json:"created_at"`
}

// StreamService pushes an actor's rewards as server-sent events. It polls the
// store; nothing is shared between connections.
type StreamService struct {
	*Base
	PollInterval time.Duration
}

func NewStreamService(base *Base) *StreamService {
	return &StreamService{Base: base, PollInterval: 2 * time.Second}
}

// rewardBatch caps each source per poll.
const rewardBatch = 100

// RewardsSince returns rewards earned by actorID strictly after since, oldest
// first. When a source fills its batch, events past that source's last row are
// held back for the next call so the caller's cursor never skips rows.
func (s *StreamService) RewardsSince(ctx context.Context, actorID string, since time.Time) ([]RewardEvent, error) {
	db, cancel := s.session(ctx)
	defer cancel()

	var engagements []models.Engagement
	if err := db.Where("actor_id = ? AND earned > 0 AND created_at > ?", actorID, since).
		Order("created_at ASC").Limit(rewardBatch).
		Find(&engagements).Error; err != nil {
		return nil, storeErr("engagement rewards", err)
	}
	var entries []models.LedgerEntry
	if err := db.Where("actor_id = ? AND created_at > ?", actorID, since).
		Order("created_at ASC").Limit(rewardBatch).
		Find(&entries).Error; err != nil {
		return nil, storeErr("ledger rewards", err)
	}

	var cutoff *time.Time
	if n := len(engagements); n == rewardBatch {
		cutoff = &engagements[n-1].CreatedAt
	}
	if n := len(entries); n == rewardBatch && (cutoff == nil || entries[n-1].CreatedAt.Before(*cutoff)) {
		cutoff = &entries[n-1].CreatedAt
	}

	out := make([]RewardEvent, 0, len(engagements)+len(entries))
	i, j := 0, 0
	for i < len(engagements) || j < len(entries) {
		var ev RewardEvent
		if j >= len(entries) || (i < len(engagements) && engagements[i].CreatedAt.Before(entries[j].CreatedAt)) {
			e := engagements[i]
			ev = RewardEvent{Source: "engagement", ReferenceID: e.ID, Amount: e.Earned, CreatedAt: e.CreatedAt}
			i++
		} else {
			l := entries[j]
			ev = RewardEvent{Source: string(l.Reason), ReferenceID: l.ReferenceID, Amount: l.Amount, CreatedAt: l.CreatedAt}
			j++
		}
		if cutoff != nil && ev.CreatedAt.After(*cutoff) {
			break
		}
		out = append(out, ev)
	}
	return out, nil
}

// StreamRewardsSSE streams the authenticated actor's rewards.
func (s *StreamService) StreamRewardsSSE(c *fiber.Ctx) error {
	actor, ok := c.Locals("actor").(*models.Actor)
	if !ok {
		return fiber.ErrUnauthorized
	}
	actorID := actor.ID

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	done := c.Context().Done()
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		ticker := time.NewTicker(s.PollInterval)
		defer ticker.Stop()

		cursor := s.Now()
		log := s.Log.WithField("actor_id", actorID)

		w.WriteString(":\n\n")
		if err := w.Flush(); err != nil {
			return
		}

		for {
			select {
			case <-ticker.C:
				events, err := s.RewardsSince(context.Background(), actorID, cursor)
				if err != nil {
					log.WithError(err).Warn("reward stream query failed")
					continue
				}
				if len(events) == 0 {
					// keepalive
					w.WriteString(":\n\n")
				}
				for _, ev := range events {
					payload, _ := json.Marshal(ev)
					fmt.Fprintf(w, "event: reward\ndata: %s\n\n", payload)
					cursor = ev.CreatedAt
				}
				if err := w.Flush(); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	})
	return nil
}
