package api

import (
	"net/http"

	"github.com/emadruga/javumbo-sub001/internal/collection"
)

type addCardRequest struct {
	Front string `json:"front"`
	Back  string `json:"back"`
}

type addCardResponse struct {
	NoteID int64 `json:"noteId"`
	CardID int64 `json:"cardId"`
}

// handleAddCard inserts into the caller's current deck, per spec.md §6.1.
func (d *Deps) handleAddCard(w http.ResponseWriter, r *http.Request) {
	username, _ := usernameFrom(r.Context())

	var req addCardRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	front := sanitize(req.Front)
	back := sanitize(req.Back)

	var noteID, cardID int64
	err := d.withRepo(r.Context(), username, true, func(repo *collection.Repo) error {
		deckID, err := repo.CurrentDeckID(r.Context())
		if err != nil {
			return err
		}
		noteID, cardID, err = repo.AddCard(r.Context(), front, back, deckID)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, addCardResponse{NoteID: noteID, CardID: cardID})
}

type cardContentResponse struct {
	CardID int64  `json:"cardId"`
	Front  string `json:"front"`
	Back   string `json:"back"`
}

func (d *Deps) handleGetCard(w http.ResponseWriter, r *http.Request) {
	username, _ := usernameFrom(r.Context())

	id, err := parseIDParam(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	var front, back string
	err = d.withRepo(r.Context(), username, false, func(repo *collection.Repo) error {
		if _, err := repo.GetCard(r.Context(), id); err != nil {
			return err
		}
		front, back, err = repo.GetNoteFields(r.Context(), id)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, cardContentResponse{CardID: id, Front: front, Back: back})
}

type updateCardRequest struct {
	Front string `json:"front"`
	Back  string `json:"back"`
}

type successResponse struct {
	Success bool `json:"success"`
}

func (d *Deps) handleUpdateCard(w http.ResponseWriter, r *http.Request) {
	username, _ := usernameFrom(r.Context())

	id, err := parseIDParam(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	var req updateCardRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	front := sanitize(req.Front)
	back := sanitize(req.Back)

	err = d.withRepo(r.Context(), username, true, func(repo *collection.Repo) error {
		return repo.UpdateCardContent(r.Context(), id, front, back)
	})
	if err != nil {
		writeError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, successResponse{Success: true})
}

func (d *Deps) handleDeleteCard(w http.ResponseWriter, r *http.Request) {
	username, _ := usernameFrom(r.Context())

	id, err := parseIDParam(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	err = d.withRepo(r.Context(), username, true, func(repo *collection.Repo) error {
		return repo.DeleteCard(r.Context(), id)
	})
	if err != nil {
		writeError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, successResponse{Success: true})
}
