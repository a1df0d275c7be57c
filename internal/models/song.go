package models

import "time"

// Reaction types recognized by the score aggregator and reaction endpoints.
const (
	ReactionLove     = "love"
	ReactionFire     = "fire"
	ReactionSad      = "sad"
	ReactionBullseye = "bullseye"
)

// Song is the metadata row for an uploaded track. The engagement counters are
// display-only aggregates with weaker consistency than the ledger; score is
// recomputed from them by the score aggregator.
type Song struct {
	ID            string    `json:"id" db:"id"`
	AccountID     string    `json:"accountId" db:"account_id"`
	Title         string    `json:"title" db:"title"`
	Draft         bool      `json:"draft" db:"draft"`
	Score         int64     `json:"score" db:"score"`
	ViewCount     int64     `json:"viewCount" db:"view_count"`
	LoveCount     int64     `json:"loveCount" db:"love_count"`
	FireCount     int64     `json:"fireCount" db:"fire_count"`
	SadCount      int64     `json:"sadCount" db:"sad_count"`
	BullseyeCount int64     `json:"bullseyeCount" db:"bullseye_count"`
	StackCount    int64     `json:"stackCount" db:"stack_count"`
	BoostCount    int64     `json:"boostCount" db:"boost_count"`
	CreatedAt     time.Time `json:"createdAt" db:"created_at"`
}

// JamStack is a saved-song entry in a user's playlist, unique per
// account+song. Stack adds feed the song's stack_count engagement signal.
type JamStack struct {
	AccountID string    `json:"accountId" db:"account_id"`
	SongID    string    `json:"songId" db:"song_id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}
