package services

import (
	"database/sql"
	"encoding/json"
	"io"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/tickletunes/backend/internal/models"
)

// SongService owns song metadata and the display-only engagement counters
// (reactions, JamStack adds, views). Counters are single-statement updates:
// they are not financial state and tolerate weaker consistency than the
// ledger.
type SongService struct {
	db        *sql.DB
	validator *ValidationHelper
}

func NewSongService(db *sql.DB) *SongService {
	return &SongService{
		db:        db,
		validator: NewValidationHelper(),
	}
}

type CreateSongRequest struct {
	Title string `json:"title" validate:"required,min=1,max=200"`
	Draft bool   `json:"draft"`
}

type ReactionRequest struct {
	Type string `json:"type" validate:"required,oneof=love fire sad bullseye"`
}

// CreateSong registers song metadata for the caller
// @Summary Create a song
// @Description Register song metadata; media upload is handled separately
// @Tags songs
// @Accept json
// @Produce json
// @Param request body CreateSongRequest true "Song metadata"
// @Success 201 {object} models.Song
// @Failure 400 {object} ErrorResponse
// @Router /songs [post]
func (s *SongService) CreateSong(w http.ResponseWriter, r *http.Request) {
	accountID, ok := r.Context().Value("userID").(string)
	if !ok || accountID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req CreateSongRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	song := models.Song{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Title:     req.Title,
		Draft:     req.Draft,
	}

	err := s.db.QueryRow(`
		INSERT INTO songs (id, account_id, title, draft)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`,
		song.ID, song.AccountID, song.Title, song.Draft).Scan(&song.CreatedAt)
	if err != nil {
		log.Printf("[SONG] Failed to create song for %s: %v", accountID, err)
		SendErrorResponse(w, "Failed to create song", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[SONG] Created song %s for account %s", song.ID, accountID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(song)
}

// DeleteSong removes a song owned by the caller
// @Summary Delete a song
// @Description Delete a song; only the owner may delete. Ledger rows keep
// their amounts with the song reference nulled.
// @Tags songs
// @Produce json
// @Param songId path string true "Song ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} ErrorResponse
// @Router /songs/{songId} [delete]
func (s *SongService) DeleteSong(w http.ResponseWriter, r *http.Request) {
	accountID, ok := r.Context().Value("userID").(string)
	if !ok || accountID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	songID := chi.URLParam(r, "songId")

	result, err := s.db.Exec(`DELETE FROM songs WHERE id = $1 AND account_id = $2`, songID, accountID)
	if err != nil {
		log.Printf("[SONG] Failed to delete song %s: %v", songID, err)
		SendErrorResponse(w, "Failed to delete song", http.StatusInternalServerError, nil)
		return
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		SendErrorResponse(w, "Song not found", http.StatusNotFound, nil)
		return
	}

	log.Printf("[SONG] Deleted song %s for account %s", songID, accountID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"success": true})
}

// React records an emoji reaction
// @Summary React to a song
// @Description Increment the song's counter for one reaction type
// @Tags songs
// @Accept json
// @Produce json
// @Param songId path string true "Song ID"
// @Param request body ReactionRequest true "Reaction type"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} ErrorResponse
// @Router /songs/{songId}/reactions [post]
func (s *SongService) React(w http.ResponseWriter, r *http.Request) {
	songID := chi.URLParam(r, "songId")

	var req ReactionRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	// req.Type is constrained by the oneof validation above.
	column := map[string]string{
		models.ReactionLove:     "love_count",
		models.ReactionFire:     "fire_count",
		models.ReactionSad:      "sad_count",
		models.ReactionBullseye: "bullseye_count",
	}[req.Type]
	result, err := s.db.Exec(`
		UPDATE songs SET `+column+` = `+column+` + 1
		WHERE id = $1 AND NOT draft`, songID)
	if err != nil {
		log.Printf("[SONG] Failed to record %s reaction on %s: %v", req.Type, songID, err)
		SendErrorResponse(w, "Failed to record reaction", http.StatusInternalServerError, nil)
		return
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		SendErrorResponse(w, "Song not found", http.StatusNotFound, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "type": req.Type})
}

// AddToStack saves a song to the caller's JamStack
// @Summary Add to JamStack
// @Description Save a song to the caller's playlist; a repeat add is a no-op
// @Tags songs
// @Produce json
// @Param songId path string true "Song ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} ErrorResponse
// @Router /songs/{songId}/stack [post]
func (s *SongService) AddToStack(w http.ResponseWriter, r *http.Request) {
	accountID, ok := r.Context().Value("userID").(string)
	if !ok || accountID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	songID := chi.URLParam(r, "songId")

	result, err := s.db.Exec(`
		INSERT INTO jam_stacks (account_id, song_id)
		SELECT $1, id FROM songs WHERE id = $2 AND NOT draft
		ON CONFLICT (account_id, song_id) DO NOTHING`, accountID, songID)
	if err != nil {
		log.Printf("[SONG] Failed to stack song %s for %s: %v", songID, accountID, err)
		SendErrorResponse(w, "Failed to add to stack", http.StatusInternalServerError, nil)
		return
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		// Either already stacked or the song does not exist; disambiguate.
		var exists bool
		if err := s.db.QueryRow(`SELECT EXISTS(SELECT 1 FROM songs WHERE id = $1 AND NOT draft)`, songID).Scan(&exists); err != nil || !exists {
			SendErrorResponse(w, "Song not found", http.StatusNotFound, nil)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "alreadyStacked": true})
		return
	}

	if _, err := s.db.Exec(`UPDATE songs SET stack_count = stack_count + 1 WHERE id = $1`, songID); err != nil {
		log.Printf("[SONG] Failed to bump stack count for %s: %v", songID, err)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"success": true})
}

// RecordView increments the view counter
// @Summary Record a view
// @Description Increment a song's view count
// @Tags songs
// @Produce json
// @Param songId path string true "Song ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} ErrorResponse
// @Router /songs/{songId}/view [post]
func (s *SongService) RecordView(w http.ResponseWriter, r *http.Request) {
	songID := chi.URLParam(r, "songId")

	result, err := s.db.Exec(`
		UPDATE songs SET view_count = view_count + 1
		WHERE id = $1 AND NOT draft`, songID)
	if err != nil {
		log.Printf("[SONG] Failed to record view on %s: %v", songID, err)
		SendErrorResponse(w, "Failed to record view", http.StatusInternalServerError, nil)
		return
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		SendErrorResponse(w, "Song not found", http.StatusNotFound, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"success": true})
}

func (s *SongService) decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}
	return true
}
