package cache

import (
	"context"
	"encoding/json"
	"time"

	"crashd/internal/game"
)

const (
	keyRoundPrefix = "crash:round:"
	keyHistory     = "crash:history"

	roundTTL    = 1 * time.Hour
	historyKeep = 50
)

// SaveRound stores the completed round snapshot under its own key and pushes
// it onto the recent-rounds strip, trimmed to the last historyKeep entries.
func (s *service) SaveRound(ctx context.Context, rec game.RoundRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	if err := s.client.Set(ctx, keyRoundPrefix+rec.RoundID, data, roundTTL).Err(); err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, keyHistory, data)
	pipe.LTrim(ctx, keyHistory, 0, historyKeep-1)
	_, err = pipe.Exec(ctx)
	return err
}

// RecentRounds returns the latest completed rounds, newest first.
func (s *service) RecentRounds(ctx context.Context, limit int64) ([]game.RoundRecord, error) {
	if limit <= 0 || limit > historyKeep {
		limit = historyKeep
	}

	raw, err := s.client.LRange(ctx, keyHistory, 0, limit-1).Result()
	if err != nil {
		return nil, err
	}

	rounds := make([]game.RoundRecord, 0, len(raw))
	for _, item := range raw {
		var rec game.RoundRecord
		if json.Unmarshal([]byte(item), &rec) == nil {
			rounds = append(rounds, rec)
		}
	}
	return rounds, nil
}
