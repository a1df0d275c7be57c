package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/tickletunes/backend/internal/config"
	"github.com/tickletunes/backend/internal/models"
)

const chartCacheKey = "charts:top"

// ScoreService recomputes song popularity scores and serves the chart and
// recommendation listings that trigger recomputation. The score is a weighted
// sum of engagement counters plus an amount-weighted tickle term derived from
// the ledger, plus a decaying recency bonus.
type ScoreService struct {
	db    *sql.DB
	redis *redis.Client
	cfg   *config.RewardsConfig
	now   func() time.Time
}

func NewScoreService(db *sql.DB, redisClient *redis.Client, cfg *config.RewardsConfig) *ScoreService {
	return &ScoreService{
		db:    db,
		redis: redisClient,
		cfg:   cfg,
		now:   time.Now,
	}
}

type songCounters struct {
	ID            string
	LoveCount     int64
	FireCount     int64
	SadCount      int64
	BullseyeCount int64
	StackCount    int64
	TickleSum     int64
	CreatedAt     time.Time
}

// ComputeScore applies the weight table to one song's counters. The tickle
// term counts every Tickle sent to the song at the transfer multiplier, so
// the aggregator and the transfer-time bump agree.
func (ss *ScoreService) ComputeScore(c songCounters) int64 {
	score := c.LoveCount*ss.cfg.ReactionWeights[models.ReactionLove] +
		c.FireCount*ss.cfg.ReactionWeights[models.ReactionFire] +
		c.SadCount*ss.cfg.ReactionWeights[models.ReactionSad] +
		c.BullseyeCount*ss.cfg.ReactionWeights[models.ReactionBullseye]
	score += c.StackCount * ss.cfg.StackWeight
	score += c.TickleSum * ss.cfg.TransferScoreMultiplier
	score += ss.recencyBonus(c.CreatedAt)
	return score
}

// recencyBonus decays from the configured maximum toward zero across the
// recency window; older songs get nothing.
func (ss *ScoreService) recencyBonus(createdAt time.Time) int64 {
	age := ss.now().Sub(createdAt)
	if age < 0 || age >= ss.cfg.RecencyWindow {
		return 0
	}
	days := int64(age.Hours() / 24)
	return ss.cfg.RecencyBonusMax / (days + 1)
}

// RefreshScores recomputes scores for the most recent batch of published
// songs. Per-song failures are logged and skipped so one bad row cannot abort
// the sweep.
func (ss *ScoreService) RefreshScores(ctx context.Context) {
	rows, err := ss.db.QueryContext(ctx, `
		SELECT s.id, s.love_count, s.fire_count, s.sad_count, s.bullseye_count,
		       s.stack_count, COALESCE(t.total, 0), s.created_at
		FROM songs s
		LEFT JOIN (
			SELECT song_id, SUM(amount) AS total
			FROM tickle_transactions
			WHERE song_id IS NOT NULL
			GROUP BY song_id
		) t ON t.song_id = s.id
		WHERE NOT s.draft
		ORDER BY s.created_at DESC
		LIMIT $1`, ss.cfg.SweepBatchSize)
	if err != nil {
		log.Printf("[SCORE] Failed to load songs for refresh: %v", err)
		return
	}
	defer rows.Close()

	var batch []songCounters
	for rows.Next() {
		var c songCounters
		if err := rows.Scan(&c.ID, &c.LoveCount, &c.FireCount, &c.SadCount,
			&c.BullseyeCount, &c.StackCount, &c.TickleSum, &c.CreatedAt); err != nil {
			log.Printf("[SCORE] Failed to scan song row: %v", err)
			continue
		}
		batch = append(batch, c)
	}
	if err := rows.Err(); err != nil {
		log.Printf("[SCORE] Song scan aborted: %v", err)
	}

	updated := 0
	for _, c := range batch {
		score := ss.ComputeScore(c)
		if _, err := ss.db.ExecContext(ctx,
			`UPDATE songs SET score = $1 WHERE id = $2`, score, c.ID); err != nil {
			log.Printf("[SCORE] Failed to update score for song %s: %v", c.ID, err)
			continue
		}
		updated++
	}
	if updated > 0 {
		log.Printf("[SCORE] Refreshed %d song scores", updated)
	}
}

// ListCharts serves the top songs by score
// @Summary List charts
// @Description Top published songs by current score; triggers a score refresh
// @Tags charts
// @Produce json
// @Param limit query int false "Number of songs to return (default: 25, max: 100)"
// @Success 200 {object} map[string]interface{}
// @Router /charts [get]
func (ss *ScoreService) ListCharts(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 25)

	if limit == 25 {
		if cached := ss.cachedCharts(r.Context()); cached != nil {
			w.Header().Set("Content-Type", "application/json")
			w.Write(cached)
			return
		}
	}

	ss.RefreshScores(r.Context())

	songs, err := ss.fetchRanked(r.Context(), "", limit)
	if err != nil {
		log.Printf("[SCORE] Failed to fetch charts: %v", err)
		SendErrorResponse(w, "Failed to fetch charts", http.StatusInternalServerError, nil)
		return
	}

	payload, err := json.Marshal(map[string]interface{}{
		"songs": songs,
		"count": len(songs),
	})
	if err != nil {
		SendErrorResponse(w, "Failed to fetch charts", http.StatusInternalServerError, nil)
		return
	}

	if limit == 25 {
		ss.cacheCharts(r.Context(), payload)
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(payload)
}

// ListRecommendations serves a personalized score-ordered feed
// @Summary List recommendations
// @Description Score-ordered feed excluding the caller's own songs; triggers a score refresh
// @Tags charts
// @Produce json
// @Param limit query int false "Number of songs to return (default: 25, max: 100)"
// @Success 200 {object} map[string]interface{}
// @Router /recommendations [get]
func (ss *ScoreService) ListRecommendations(w http.ResponseWriter, r *http.Request) {
	accountID, _ := r.Context().Value("userID").(string)
	limit := parseLimit(r, 25)

	ss.RefreshScores(r.Context())

	songs, err := ss.fetchRanked(r.Context(), accountID, limit)
	if err != nil {
		log.Printf("[SCORE] Failed to fetch recommendations: %v", err)
		SendErrorResponse(w, "Failed to fetch recommendations", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"songs": songs,
		"count": len(songs),
	})
}

// fetchRanked returns published songs ordered by score. When excludeAccount
// is set, that account's own songs are filtered out.
func (ss *ScoreService) fetchRanked(ctx context.Context, excludeAccount string, limit int) ([]models.Song, error) {
	query := `
		SELECT id, account_id, title, draft, score, view_count, love_count, fire_count,
		       sad_count, bullseye_count, stack_count, boost_count, created_at
		FROM songs
		WHERE NOT draft`
	args := []interface{}{}
	if excludeAccount != "" {
		query += ` AND account_id != $1`
		args = append(args, excludeAccount)
	}
	query += ` ORDER BY score DESC, created_at DESC LIMIT $` + strconv.Itoa(len(args)+1)
	args = append(args, limit)

	rows, err := ss.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	songs := []models.Song{}
	for rows.Next() {
		var s models.Song
		if err := rows.Scan(&s.ID, &s.AccountID, &s.Title, &s.Draft, &s.Score,
			&s.ViewCount, &s.LoveCount, &s.FireCount, &s.SadCount,
			&s.BullseyeCount, &s.StackCount, &s.BoostCount, &s.CreatedAt); err != nil {
			return nil, err
		}
		songs = append(songs, s)
	}
	return songs, rows.Err()
}

func (ss *ScoreService) cachedCharts(ctx context.Context) []byte {
	if ss.redis == nil {
		return nil
	}
	data, err := ss.redis.Get(ctx, chartCacheKey).Bytes()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		log.Printf("[SCORE] Chart cache read failed: %v", err)
		return nil
	}
	return data
}

func (ss *ScoreService) cacheCharts(ctx context.Context, payload []byte) {
	if ss.redis == nil {
		return
	}
	if err := ss.redis.Set(ctx, chartCacheKey, payload, ss.cfg.ChartCacheTTL).Err(); err != nil {
		log.Printf("[SCORE] Chart cache write failed: %v", err)
	}
}

func parseLimit(r *http.Request, defaultLimit int) int {
	limit := defaultLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}
	return limit
}
