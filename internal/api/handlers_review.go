package api

import (
	"net/http"

	"github.com/emadruga/javumbo-sub001/internal/apperr"
)

type reviewCardResponse struct {
	CardID int64  `json:"cardId"`
	Front  string `json:"front"`
	Back   string `json:"back"`
	Queue  int    `json:"queue"`
}

// handleGetReview picks the next due card in the caller's current deck,
// per spec.md §4.6/§6.1, and remembers it so the next /answer call (which
// carries no card id of its own, per spec.md §6.1's route table) knows
// which card the ease rating applies to. When nothing is due it returns a
// message body instead, matching the documented "or {message}" shape.
func (d *Deps) handleGetReview(w http.ResponseWriter, r *http.Request) {
	username, _ := usernameFrom(r.Context())

	view, ok, err := d.Review.GetNext(r.Context(), username, 0)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		respondJSON(w, http.StatusOK, messageResponse{Message: "No cards due"})
		return
	}

	d.setPendingCard(username, view.CardID)

	respondJSON(w, http.StatusOK, reviewCardResponse{
		CardID: view.CardID,
		Front:  view.Front,
		Back:   view.Back,
		Queue:  view.Queue,
	})
}

type answerRequest struct {
	Ease      int   `json:"ease"`
	TimeTaken int64 `json:"timeTaken"`
}

// handleAnswer commits the scheduler's decision for the card the caller's
// most recent /review call showed them, per spec.md §4.6.
func (d *Deps) handleAnswer(w http.ResponseWriter, r *http.Request) {
	username, _ := usernameFrom(r.Context())

	var req answerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.TimeTaken < 0 {
		writeError(w, apperr.New(apperr.Validation, "timeTaken must be >= 0"))
		return
	}

	cardID, ok := d.takePendingCard(username)
	if !ok {
		writeError(w, apperr.New(apperr.NotFound, apperr.MsgCardNotFound))
		return
	}

	if err := d.Review.Answer(r.Context(), username, cardID, req.Ease, req.TimeTaken); err != nil {
		writeError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, messageResponse{Message: "Answer recorded"})
}
