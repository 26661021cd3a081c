package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/emadruga/javumbo-sub001/internal/apperr"
	"github.com/emadruga/javumbo-sub001/internal/collection"
)

type deckResponse struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

func (d *Deps) handleListDecks(w http.ResponseWriter, r *http.Request) {
	username, _ := usernameFrom(r.Context())

	var decks []collection.Deck
	err := d.withRepo(r.Context(), username, false, func(repo *collection.Repo) error {
		var err error
		decks, err = repo.ListDecks(r.Context())
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]deckResponse, len(decks))
	for i, dk := range decks {
		out[i] = deckResponse{ID: dk.ID, Name: dk.Name}
	}
	respondJSON(w, http.StatusOK, out)
}

type createDeckRequest struct {
	Name string `json:"name"`
}

func (d *Deps) handleCreateDeck(w http.ResponseWriter, r *http.Request) {
	username, _ := usernameFrom(r.Context())

	var req createDeckRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	name := sanitize(req.Name)
	if len(strings.TrimSpace(name)) == 0 {
		writeError(w, apperr.New(apperr.Validation, apperr.MsgEmptyField))
		return
	}

	var deck collection.Deck
	err := d.withRepo(r.Context(), username, true, func(repo *collection.Repo) error {
		var err error
		deck, err = repo.CreateDeck(r.Context(), name)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, deckResponse{ID: deck.ID, Name: deck.Name})
}

type setCurrentDeckRequest struct {
	DeckID int64 `json:"deckId"`
}

func (d *Deps) handleSetCurrentDeck(w http.ResponseWriter, r *http.Request) {
	username, _ := usernameFrom(r.Context())

	var req setCurrentDeckRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	err := d.withRepo(r.Context(), username, true, func(repo *collection.Repo) error {
		return repo.SetCurrentDeck(r.Context(), req.DeckID)
	})
	if err != nil {
		writeError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, messageResponse{Message: "Current deck updated"})
}

func (d *Deps) handleDeleteDeck(w http.ResponseWriter, r *http.Request) {
	username, _ := usernameFrom(r.Context())

	id, err := parseIDParam(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	err = d.withRepo(r.Context(), username, true, func(repo *collection.Repo) error {
		_, err := repo.DeleteDeck(r.Context(), id)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, messageResponse{Message: "Deck deleted"})
}

type renameDeckRequest struct {
	Name string `json:"name"`
}

func (d *Deps) handleRenameDeck(w http.ResponseWriter, r *http.Request) {
	username, _ := usernameFrom(r.Context())

	id, err := parseIDParam(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	var req renameDeckRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	name := sanitize(req.Name)

	var deck collection.Deck
	err = d.withRepo(r.Context(), username, true, func(repo *collection.Repo) error {
		var err error
		deck, err = repo.RenameDeck(r.Context(), id, name)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, deckResponse{ID: deck.ID, Name: deck.Name})
}

type deckStatsResponse struct {
	Counts collection.DeckStats `json:"counts"`
	Total  int                  `json:"total"`
}

func (d *Deps) handleDeckStats(w http.ResponseWriter, r *http.Request) {
	username, _ := usernameFrom(r.Context())

	id, err := parseIDParam(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	var stats collection.DeckStats
	err = d.withRepo(r.Context(), username, false, func(repo *collection.Repo) error {
		var err error
		stats, err = repo.DeckStats(r.Context(), id)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, deckStatsResponse{Counts: stats, Total: stats.Total})
}

type cardBrief struct {
	ID     int64 `json:"id"`
	NoteID int64 `json:"noteId"`
	Type   int   `json:"type"`
	Queue  int   `json:"queue"`
	Due    int64 `json:"due"`
	Ivl    int64 `json:"ivl"`
}

type paginationInfo struct {
	Page    int `json:"page"`
	PerPage int `json:"perPage"`
	Total   int `json:"total"`
}

type listDeckCardsResponse struct {
	Cards      []cardBrief    `json:"cards"`
	Pagination paginationInfo `json:"pagination"`
}

func (d *Deps) handleListDeckCards(w http.ResponseWriter, r *http.Request) {
	username, _ := usernameFrom(r.Context())

	id, err := parseIDParam(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	page := atoiDefault(r.URL.Query().Get("page"), 1)
	perPage := atoiDefault(r.URL.Query().Get("perPage"), 20)

	var page0 collection.CardPage
	err = d.withRepo(r.Context(), username, false, func(repo *collection.Repo) error {
		var err error
		page0, err = repo.ListDeckCards(r.Context(), id, page, perPage)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}

	briefs := make([]cardBrief, len(page0.Cards))
	for i, c := range page0.Cards {
		briefs[i] = cardBrief{ID: c.ID, NoteID: c.Nid, Type: c.Type, Queue: c.Queue, Due: c.Due, Ivl: c.Ivl}
	}

	respondJSON(w, http.StatusOK, listDeckCardsResponse{
		Cards:      briefs,
		Pagination: paginationInfo{Page: page, PerPage: perPage, Total: page0.Total},
	})
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return def
	}
	return v
}
