// Package collection implements CollectionRepo: typed operations over the
// col JSON blobs, notes, cards, revlog, and graves tables described in
// spec.md §4.4. Every write here goes through a single store.Tx call so a
// caller never observes a partially applied mutation.
package collection

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/emadruga/javumbo-sub001/internal/ankidb"
	"github.com/emadruga/javumbo-sub001/internal/ankiutil"
	"github.com/emadruga/javumbo-sub001/internal/apperr"
	"github.com/emadruga/javumbo-sub001/internal/clock"
)

// DefaultDeckID is the fixed catch-all deck (id=1) that can never be
// deleted, per spec.md §4.4.1.
const DefaultDeckID = 1

// Deck is the language-neutral shape from spec.md §3.2.
type Deck struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Card mirrors the cards row, minus the bookkeeping columns CollectionRepo
// callers never need (mod, usn, odue, odid, flags, data).
type Card struct {
	ID     int64
	Nid    int64
	Did    int64
	Ord    int64
	Type   int
	Queue  int
	Due    int64
	Ivl    int64
	Factor int64
	Reps   int64
	Lapses int64
	Left   int64
}

// Note mirrors a notes row.
type Note struct {
	ID   int64
	Mid  int64
	Guid string
	Flds []string
	Tags []string
}

// DeckStats is the bucketed count shape from spec.md §4.4.1.
type DeckStats struct {
	New        int
	Learning   int
	Relearning int
	Young      int
	Mature     int
	Suspended  int
	Buried     int
	Total      int
}

// CardPage is the list_deck_cards result shape.
type CardPage struct {
	Total int
	Cards []Card
}

// Repo implements CollectionRepo over a single store.
type Repo struct {
	store *ankidb.Store
	clock clock.Clock
}

// New constructs a Repo bound to store, using c for id allocation.
func New(store *ankidb.Store, c clock.Clock) *Repo {
	return &Repo{store: store, clock: c}
}

const fieldSep = "\x1f"

// colRow is the decoded shape of the single col row.
type colRow struct {
	Crt    int64
	Mod    int64
	Scm    int64
	Conf   map[string]interface{}
	Models map[string]interface{}
	Decks  map[string]interface{}
	Dconf  map[string]interface{}
}

func (r *Repo) loadCol(ctx context.Context, q querier) (*colRow, error) {
	row := q.QueryRowContext(ctx, `SELECT crt, mod, scm, conf, models, decks, dconf FROM col WHERE id=1`)
	var crt, modv, scm int64
	var confText, modelsText, decksText, dconfText string
	if err := row.Scan(&crt, &modv, &scm, &confText, &modelsText, &decksText, &dconfText); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.New(apperr.Integrity, apperr.MsgInternal)
		}
		return nil, err
	}

	c := &colRow{Crt: crt, Mod: modv, Scm: scm}
	if err := json.Unmarshal([]byte(confText), &c.Conf); err != nil {
		return nil, apperr.Wrap(apperr.Integrity, apperr.MsgInternal, err)
	}
	if err := json.Unmarshal([]byte(modelsText), &c.Models); err != nil {
		return nil, apperr.Wrap(apperr.Integrity, apperr.MsgInternal, err)
	}
	if err := json.Unmarshal([]byte(decksText), &c.Decks); err != nil {
		return nil, apperr.Wrap(apperr.Integrity, apperr.MsgInternal, err)
	}
	if err := json.Unmarshal([]byte(dconfText), &c.Dconf); err != nil {
		return nil, apperr.Wrap(apperr.Integrity, apperr.MsgInternal, err)
	}
	return c, nil
}

// querier is satisfied by both *sql.Tx and *ankidb.Store for read paths
// that don't need to participate in a write transaction.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func (r *Repo) saveCol(ctx context.Context, tx *sql.Tx, c *colRow, touchScm bool) error {
	confJSON, err := json.Marshal(c.Conf)
	if err != nil {
		return err
	}
	decksJSON, err := json.Marshal(c.Decks)
	if err != nil {
		return err
	}
	modelsJSON, err := json.Marshal(c.Models)
	if err != nil {
		return err
	}
	dconfJSON, err := json.Marshal(c.Dconf)
	if err != nil {
		return err
	}

	nowMs := r.clock.NowMs()
	c.Mod = nowMs
	if touchScm {
		c.Scm = nowMs
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE col SET mod=?, scm=?, conf=?, models=?, decks=?, dconf=? WHERE id=1`,
		c.Mod, c.Scm, string(confJSON), string(modelsJSON), string(decksJSON), string(dconfJSON))
	return err
}

// allocID implements the §4.4 collision-avoidance rule:
// max(clock.now_ms, select max(id)+1 from T).
func (r *Repo) allocID(ctx context.Context, tx *sql.Tx, table string) (int64, error) {
	nowMs := r.clock.NowMs()
	var maxID sql.NullInt64
	row := tx.QueryRowContext(ctx, fmt.Sprintf(`SELECT MAX(id) FROM %s`, table))
	if err := row.Scan(&maxID); err != nil {
		return 0, err
	}
	candidate := nowMs
	if maxID.Valid && maxID.Int64+1 > candidate {
		candidate = maxID.Int64 + 1
	}
	return candidate, nil
}

// --- Deck operations (§4.4.1) ---

// ListDecks returns decks in ascending name order.
func (r *Repo) ListDecks(ctx context.Context) ([]Deck, error) {
	c, err := r.loadCol(ctx, r.store)
	if err != nil {
		return nil, err
	}
	decks := decodeDecks(c.Decks)
	sort.Slice(decks, func(i, j int) bool { return decks[i].Name < decks[j].Name })
	return decks, nil
}

func decodeDecks(raw map[string]interface{}) []Deck {
	out := make([]Deck, 0, len(raw))
	for idStr, v := range raw {
		m, ok := v.(map[string]interface{})
		if !ok {
			continue
		}
		id, _ := strconv.ParseInt(idStr, 10, 64)
		name, _ := m["name"].(string)
		out = append(out, Deck{ID: id, Name: name})
	}
	return out
}

// CreateDeck inserts a new deck, failing with Conflict if a case-insensitive
// name match already exists.
func (r *Repo) CreateDeck(ctx context.Context, name string) (Deck, error) {
	var result Deck
	err := r.store.Tx(ctx, func(tx *sql.Tx) error {
		c, err := r.loadCol(ctx, tx)
		if err != nil {
			return err
		}

		for _, d := range decodeDecks(c.Decks) {
			if strings.EqualFold(d.Name, name) {
				return apperr.New(apperr.Conflict, apperr.MsgDuplicateDeck)
			}
		}

		id := r.clock.NowMs()
		nowSec := id / 1000
		c.Decks[strconv.FormatInt(id, 10)] = map[string]interface{}{
			"id":               id,
			"name":             name,
			"mod":              nowSec,
			"desc":             "",
			"collapsed":        false,
			"dyn":              0,
			"conf":             1,
			"usn":              0,
			"newToday":         []int{0, 0},
			"revToday":         []int{0, 0},
			"lrnToday":         []int{0, 0},
			"timeToday":        []int{0, 0},
			"browserCollapsed": false,
			"extendNew":        10,
			"extendRev":        50,
		}

		if err := r.saveCol(ctx, tx, c, true); err != nil {
			return err
		}
		result = Deck{ID: id, Name: name}
		return nil
	})
	return result, err
}

// RenameDeck applies the same duplicate check as CreateDeck.
func (r *Repo) RenameDeck(ctx context.Context, id int64, newName string) (Deck, error) {
	var result Deck
	err := r.store.Tx(ctx, func(tx *sql.Tx) error {
		c, err := r.loadCol(ctx, tx)
		if err != nil {
			return err
		}

		idStr := strconv.FormatInt(id, 10)
		raw, ok := c.Decks[idStr]
		if !ok {
			return apperr.New(apperr.NotFound, apperr.MsgDeckNotFound)
		}
		deckMap := raw.(map[string]interface{})

		for _, d := range decodeDecks(c.Decks) {
			if d.ID != id && strings.EqualFold(d.Name, newName) {
				return apperr.New(apperr.Conflict, apperr.MsgDuplicateDeck)
			}
		}

		deckMap["name"] = newName
		deckMap["mod"] = r.clock.NowMs() / 1000
		c.Decks[idStr] = deckMap

		if err := r.saveCol(ctx, tx, c, false); err != nil {
			return err
		}
		result = Deck{ID: id, Name: newName}
		return nil
	})
	return result, err
}

func decodeName(decks map[string]interface{}, idStr string) string {
	m, _ := decks[idStr].(map[string]interface{})
	name, _ := m["name"].(string)
	return name
}

// DeleteDeck removes a deck and cascades to its cards/orphaned notes,
// writing grave rows for each. Forbidden for the default deck.
func (r *Repo) DeleteDeck(ctx context.Context, id int64) (int, error) {
	if id == DefaultDeckID {
		return 0, apperr.New(apperr.Validation, apperr.MsgDefaultDeckProtected)
	}

	var deletedCards int
	err := r.store.Tx(ctx, func(tx *sql.Tx) error {
		c, err := r.loadCol(ctx, tx)
		if err != nil {
			return err
		}

		idStr := strconv.FormatInt(id, 10)
		if _, ok := c.Decks[idStr]; !ok {
			return apperr.New(apperr.NotFound, apperr.MsgDeckNotFound)
		}

		rows, err := tx.QueryContext(ctx, `SELECT id, nid FROM cards WHERE did=?`, id)
		if err != nil {
			return err
		}
		type cardRow struct{ id, nid int64 }
		var toDelete []cardRow
		for rows.Next() {
			var cr cardRow
			if err := rows.Scan(&cr.id, &cr.nid); err != nil {
				rows.Close()
				return err
			}
			toDelete = append(toDelete, cr)
		}
		rows.Close()

		usn := -1
		affectedNotes := make(map[int64]bool)
		for _, cr := range toDelete {
			if _, err := tx.ExecContext(ctx, `DELETE FROM cards WHERE id=?`, cr.id); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO graves (usn, oid, type) VALUES (?, ?, 0)`, usn, cr.id); err != nil {
				return err
			}
			affectedNotes[cr.nid] = true
		}
		deletedCards = len(toDelete)

		for nid := range affectedNotes {
			var remaining int
			row := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM cards WHERE nid=?`, nid)
			if err := row.Scan(&remaining); err != nil {
				return err
			}
			if remaining == 0 {
				if _, err := tx.ExecContext(ctx, `DELETE FROM notes WHERE id=?`, nid); err != nil {
					return err
				}
				if _, err := tx.ExecContext(ctx, `INSERT INTO graves (usn, oid, type) VALUES (?, ?, 1)`, usn, nid); err != nil {
					return err
				}
			}
		}

		delete(c.Decks, idStr)

		if curDeck, ok := c.Conf["curDeck"]; ok {
			if asNumber(curDeck) == id {
				c.Conf["curDeck"] = int64(DefaultDeckID)
			}
		}

		if _, err := tx.ExecContext(ctx, `INSERT INTO graves (usn, oid, type) VALUES (?, ?, 2)`, usn, id); err != nil {
			return err
		}

		return r.saveCol(ctx, tx, c, true)
	})
	return deletedCards, err
}

func asNumber(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	case int:
		return int64(n)
	}
	return -1
}

// SetCurrentDeck updates col.conf.curDeck. Idempotent: re-applying the same
// id does not touch col.mod, per spec.md §8.
func (r *Repo) SetCurrentDeck(ctx context.Context, id int64) error {
	return r.store.Tx(ctx, func(tx *sql.Tx) error {
		c, err := r.loadCol(ctx, tx)
		if err != nil {
			return err
		}

		idStr := strconv.FormatInt(id, 10)
		if _, ok := c.Decks[idStr]; !ok {
			return apperr.New(apperr.NotFound, apperr.MsgDeckNotFound)
		}

		if asNumber(c.Conf["curDeck"]) == id {
			return nil
		}

		c.Conf["curDeck"] = id
		return r.saveCol(ctx, tx, c, false)
	})
}

// DeckStats buckets cards by (type, queue, ivl) per spec.md §4.4.1.
func (r *Repo) DeckStats(ctx context.Context, id int64) (DeckStats, error) {
	c, err := r.loadCol(ctx, r.store)
	if err != nil {
		return DeckStats{}, err
	}
	idStr := strconv.FormatInt(id, 10)
	if _, ok := c.Decks[idStr]; !ok {
		return DeckStats{}, apperr.New(apperr.NotFound, apperr.MsgDeckNotFound)
	}

	rows, err := r.store.Query(ctx, `SELECT type, queue, ivl FROM cards WHERE did=?`, id)
	if err != nil {
		return DeckStats{}, err
	}
	defer rows.Close()

	var stats DeckStats
	for rows.Next() {
		var typ, queue int
		var ivl int64
		if err := rows.Scan(&typ, &queue, &ivl); err != nil {
			return DeckStats{}, err
		}
		stats.Total++
		switch {
		case queue == -1:
			stats.Suspended++
		case queue == -2 || queue == -3:
			stats.Buried++
		case typ == 0:
			stats.New++
		case typ == 1:
			stats.Learning++
		case typ == 3:
			stats.Relearning++
		case typ == 2 && ivl < 21:
			stats.Young++
		case typ == 2 && ivl >= 21:
			stats.Mature++
		}
	}
	return stats, rows.Err()
}

// --- Note and card operations (§4.4.2) ---

// AddCard inserts a note and its single card, per spec.md §4.4.2.
func (r *Repo) AddCard(ctx context.Context, front, back string, deckID int64) (noteID, cardID int64, err error) {
	front = strings.TrimSpace(front)
	back = strings.TrimSpace(back)
	if front == "" || back == "" {
		return 0, 0, apperr.New(apperr.Validation, apperr.MsgEmptyField)
	}

	err = r.store.Tx(ctx, func(tx *sql.Tx) error {
		c, err := r.loadCol(ctx, tx)
		if err != nil {
			return err
		}
		idStr := strconv.FormatInt(deckID, 10)
		if _, ok := c.Decks[idStr]; !ok {
			return apperr.New(apperr.NotFound, apperr.MsgDeckNotFound)
		}

		nid, err := r.allocID(ctx, tx, "notes")
		if err != nil {
			return err
		}
		cid, err := r.allocID(ctx, tx, "cards")
		if err != nil {
			return err
		}
		if cid <= nid {
			cid = nid + 1
		}

		flds := front + fieldSep + back
		csum := ankiutil.FieldChecksum(front)
		guid, err := ankiutil.NewGUID()
		if err != nil {
			return err
		}
		nowMs := r.clock.NowMs()

		modelID := firstModelID(c.Models)

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO notes (id, guid, mid, mod, usn, tags, flds, sfld, csum, flags, data)
			 VALUES (?, ?, ?, ?, 0, '', ?, ?, ?, 0, '')`,
			nid, guid, modelID, nowMs/1000, flds, front, csum,
		); err != nil {
			return err
		}

		var maxDue sql.NullInt64
		row := tx.QueryRowContext(ctx, `SELECT MAX(due) FROM cards WHERE did=?`, deckID)
		if err := row.Scan(&maxDue); err != nil {
			return err
		}
		due := int64(1)
		if maxDue.Valid {
			due = maxDue.Int64 + 1
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO cards (id, nid, did, ord, mod, usn, type, queue, due, ivl, factor, reps, lapses, left, odue, odid, flags, data)
			 VALUES (?, ?, ?, 0, ?, 0, 0, 0, ?, 0, 0, 0, 0, 0, 0, 0, 0, '')`,
			cid, nid, deckID, nowMs/1000, due,
		); err != nil {
			return err
		}

		if err := r.saveCol(ctx, tx, c, false); err != nil {
			return err
		}

		noteID, cardID = nid, cid
		return nil
	})
	return noteID, cardID, err
}

func firstModelID(models map[string]interface{}) int64 {
	for idStr := range models {
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err == nil {
			return id
		}
	}
	return 1
}

// GetCard loads a single card by id.
func (r *Repo) GetCard(ctx context.Context, id int64) (Card, error) {
	row := r.store.QueryRow(ctx,
		`SELECT id, nid, did, ord, type, queue, due, ivl, factor, reps, lapses, left FROM cards WHERE id=?`, id)
	var c Card
	if err := row.Scan(&c.ID, &c.Nid, &c.Did, &c.Ord, &c.Type, &c.Queue, &c.Due, &c.Ivl, &c.Factor, &c.Reps, &c.Lapses, &c.Left); err != nil {
		if err == sql.ErrNoRows {
			return Card{}, apperr.New(apperr.NotFound, apperr.MsgCardNotFound)
		}
		return Card{}, err
	}
	return c, nil
}

// GetNoteFields returns front/back from the note backing cardID.
func (r *Repo) GetNoteFields(ctx context.Context, cardID int64) (front, back string, err error) {
	row := r.store.QueryRow(ctx,
		`SELECT n.flds FROM notes n JOIN cards c ON c.nid = n.id WHERE c.id=?`, cardID)
	var flds string
	if err := row.Scan(&flds); err != nil {
		if err == sql.ErrNoRows {
			return "", "", apperr.New(apperr.NotFound, apperr.MsgCardNotFound)
		}
		return "", "", err
	}
	parts := strings.SplitN(flds, fieldSep, 2)
	if len(parts) != 2 {
		return parts[0], "", nil
	}
	return parts[0], parts[1], nil
}

// UpdateCardContent rewrites the parent note's flds/sfld/csum.
func (r *Repo) UpdateCardContent(ctx context.Context, cardID int64, front, back string) error {
	front = strings.TrimSpace(front)
	back = strings.TrimSpace(back)
	if front == "" || back == "" {
		return apperr.New(apperr.Validation, apperr.MsgEmptyField)
	}

	return r.store.Tx(ctx, func(tx *sql.Tx) error {
		var nid int64
		row := tx.QueryRowContext(ctx, `SELECT nid FROM cards WHERE id=?`, cardID)
		if err := row.Scan(&nid); err != nil {
			if err == sql.ErrNoRows {
				return apperr.New(apperr.NotFound, apperr.MsgCardNotFound)
			}
			return err
		}

		flds := front + fieldSep + back
		csum := ankiutil.FieldChecksum(front)
		nowMs := r.clock.NowMs()

		_, err := tx.ExecContext(ctx,
			`UPDATE notes SET flds=?, sfld=?, csum=?, mod=?, usn=-1 WHERE id=?`,
			flds, front, csum, nowMs/1000, nid)
		return err
	})
}

// DeleteCard removes a card, writing a grave row, and cascades to the
// parent note (and its own grave row) if it was the note's last card.
func (r *Repo) DeleteCard(ctx context.Context, cardID int64) error {
	return r.store.Tx(ctx, func(tx *sql.Tx) error {
		var nid int64
		row := tx.QueryRowContext(ctx, `SELECT nid FROM cards WHERE id=?`, cardID)
		if err := row.Scan(&nid); err != nil {
			if err == sql.ErrNoRows {
				return apperr.New(apperr.NotFound, apperr.MsgCardNotFound)
			}
			return err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM cards WHERE id=?`, cardID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO graves (usn, oid, type) VALUES (-1, ?, 0)`, cardID); err != nil {
			return err
		}

		var remaining int
		row = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM cards WHERE nid=?`, nid)
		if err := row.Scan(&remaining); err != nil {
			return err
		}
		if remaining == 0 {
			if _, err := tx.ExecContext(ctx, `DELETE FROM notes WHERE id=?`, nid); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO graves (usn, oid, type) VALUES (-1, ?, 1)`, nid); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListDeckCards returns a page of cards ordered by note.sfld.
func (r *Repo) ListDeckCards(ctx context.Context, deckID int64, page, perPage int) (CardPage, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}

	var total int
	row := r.store.QueryRow(ctx, `SELECT COUNT(*) FROM cards WHERE did=?`, deckID)
	if err := row.Scan(&total); err != nil {
		return CardPage{}, err
	}

	rows, err := r.store.Query(ctx,
		`SELECT c.id, c.nid, c.did, c.ord, c.type, c.queue, c.due, c.ivl, c.factor, c.reps, c.lapses, c.left
		 FROM cards c JOIN notes n ON n.id = c.nid
		 WHERE c.did=?
		 ORDER BY n.sfld ASC
		 LIMIT ? OFFSET ?`,
		deckID, perPage, (page-1)*perPage)
	if err != nil {
		return CardPage{}, err
	}
	defer rows.Close()

	var cards []Card
	for rows.Next() {
		var c Card
		if err := rows.Scan(&c.ID, &c.Nid, &c.Did, &c.Ord, &c.Type, &c.Queue, &c.Due, &c.Ivl, &c.Factor, &c.Reps, &c.Lapses, &c.Left); err != nil {
			return CardPage{}, err
		}
		cards = append(cards, c)
	}
	return CardPage{Total: total, Cards: cards}, rows.Err()
}

// CurrentDeckID reads col.conf.curDeck.
func (r *Repo) CurrentDeckID(ctx context.Context) (int64, error) {
	c, err := r.loadCol(ctx, r.store)
	if err != nil {
		return 0, err
	}
	return asNumber(c.Conf["curDeck"]), nil
}

// DayCutoffDays computes floor((now_ms/1000 - col.crt) / 86400).
func (r *Repo) DayCutoffDays(ctx context.Context, nowMs int64) (int64, error) {
	c, err := r.loadCol(ctx, r.store)
	if err != nil {
		return 0, err
	}
	return (nowMs/1000 - c.Crt) / 86400, nil
}

// --- Review queue selection (§4.4.3) ---

// NextDueCard returns the next card due for review in priority order:
// learning/relearning due now, then review due by day cutoff, then new by
// due ascending. Returns (Card{}, false, nil) if nothing is due.
func (r *Repo) NextDueCard(ctx context.Context, deckID int64, nowMs int64, dayCutoffDays int64) (Card, bool, error) {
	nowSec := nowMs / 1000

	if c, ok, err := r.queryOne(ctx,
		`SELECT id, nid, did, ord, type, queue, due, ivl, factor, reps, lapses, left FROM cards
		 WHERE did=? AND queue IN (1,3) AND due<=? ORDER BY due ASC LIMIT 1`,
		deckID, nowSec); err != nil || ok {
		return c, ok, err
	}

	if c, ok, err := r.queryOne(ctx,
		`SELECT id, nid, did, ord, type, queue, due, ivl, factor, reps, lapses, left FROM cards
		 WHERE did=? AND queue=2 AND due<=? ORDER BY due ASC LIMIT 1`,
		deckID, dayCutoffDays); err != nil || ok {
		return c, ok, err
	}

	return r.queryOne(ctx,
		`SELECT id, nid, did, ord, type, queue, due, ivl, factor, reps, lapses, left FROM cards
		 WHERE did=? AND queue=0 ORDER BY due ASC LIMIT 1`,
		deckID)
}

func (r *Repo) queryOne(ctx context.Context, query string, args ...interface{}) (Card, bool, error) {
	row := r.store.QueryRow(ctx, query, args...)
	var c Card
	err := row.Scan(&c.ID, &c.Nid, &c.Did, &c.Ord, &c.Type, &c.Queue, &c.Due, &c.Ivl, &c.Factor, &c.Reps, &c.Lapses, &c.Left)
	if err == sql.ErrNoRows {
		return Card{}, false, nil
	}
	if err != nil {
		return Card{}, false, err
	}
	return c, true, nil
}
