package ankidb

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"

	"github.com/emadruga/javumbo-sub001/internal/ankiutil"
	"github.com/emadruga/javumbo-sub001/internal/clock"
)

// SchemaVersion is the fixed Anki schema version this collection speaks.
// Anki desktop refuses to open a collection whose ver does not match what
// it understands, so this is never bumped independently of the on-disk
// layout below.
const SchemaVersion = 11

// ddl is the canonical table layout for a .anki2 collection, byte-for-byte
// compatible with what Anki desktop expects. Grounded on the real Anki
// schema reproduced in the apkg generator reference (col/notes/cards/
// revlog/graves, including the scheduling index on cards).
const ddl = `
CREATE TABLE col (
	id     integer PRIMARY KEY,
	crt    integer NOT NULL,
	mod    integer NOT NULL,
	scm    integer NOT NULL,
	ver    integer NOT NULL,
	dty    integer NOT NULL,
	usn    integer NOT NULL,
	ls     integer NOT NULL,
	conf   text NOT NULL,
	models text NOT NULL,
	decks  text NOT NULL,
	dconf  text NOT NULL,
	tags   text NOT NULL
);

CREATE TABLE notes (
	id    integer PRIMARY KEY,
	guid  text NOT NULL,
	mid   integer NOT NULL,
	mod   integer NOT NULL,
	usn   integer NOT NULL,
	tags  text NOT NULL,
	flds  text NOT NULL,
	sfld  text NOT NULL,
	csum  integer NOT NULL,
	flags integer NOT NULL,
	data  text NOT NULL
);

CREATE TABLE cards (
	id     integer PRIMARY KEY,
	nid    integer NOT NULL,
	did    integer NOT NULL,
	ord    integer NOT NULL,
	mod    integer NOT NULL,
	usn    integer NOT NULL,
	type   integer NOT NULL,
	queue  integer NOT NULL,
	due    integer NOT NULL,
	ivl    integer NOT NULL,
	factor integer NOT NULL,
	reps   integer NOT NULL,
	lapses integer NOT NULL,
	left   integer NOT NULL,
	odue   integer NOT NULL,
	odid   integer NOT NULL,
	flags  integer NOT NULL,
	data   text NOT NULL
);

CREATE TABLE revlog (
	id      integer PRIMARY KEY,
	cid     integer NOT NULL,
	usn     integer NOT NULL,
	ease    integer NOT NULL,
	ivl     integer NOT NULL,
	lastIvl integer NOT NULL,
	factor  integer NOT NULL,
	time    integer NOT NULL,
	type    integer NOT NULL
);

CREATE TABLE graves (
	usn  integer NOT NULL,
	oid  integer NOT NULL,
	type integer NOT NULL
);

CREATE INDEX ix_notes_csum  ON notes (csum);
CREATE INDEX ix_notes_usn   ON notes (usn);
CREATE INDEX ix_cards_usn   ON cards (usn);
CREATE INDEX ix_cards_nid   ON cards (nid);
CREATE INDEX ix_cards_sched ON cards (did, queue, due);
CREATE INDEX ix_revlog_usn  ON revlog (usn);
CREATE INDEX ix_revlog_cid  ON revlog (cid);
`

const (
	defaultModelID = 1
	defaultDeckID  = 1
	defaultDconfID = 1
)

// SchemaInitError is returned by Initialize when the target path already
// contains a non-empty file.
type SchemaInitError struct {
	Path string
}

func (e *SchemaInitError) Error() string {
	return fmt.Sprintf("ankidb: refusing to initialize %q: file already exists and is non-empty", e.Path)
}

// Initialize creates a fresh .anki2 collection at path: the full table
// layout, the single col row, the fixed Basic model, the default deck and
// deck config, and a seed set of sample cards so a newly registered user
// has something to review immediately.
func Initialize(path, userDisplayName string, c clock.Clock) error {
	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		return &SchemaInitError{Path: path}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return fmt.Errorf("ankidb: open %q: %w", path, err)
	}
	defer db.Close()

	if _, err := db.Exec(ddl); err != nil {
		return fmt.Errorf("ankidb: create schema: %w", err)
	}

	nowMs := c.NowMs()
	crt := clock.StartOfDayUTC(c.NowUTC())

	conf := defaultConf()
	models := defaultModels(nowMs)
	decks := defaultDecks(nowMs)
	dconf := defaultDconf(nowMs)

	confJSON, err := json.Marshal(conf)
	if err != nil {
		return err
	}
	modelsJSON, err := json.Marshal(models)
	if err != nil {
		return err
	}
	decksJSON, err := json.Marshal(decks)
	if err != nil {
		return err
	}
	dconfJSON, err := json.Marshal(dconf)
	if err != nil {
		return err
	}

	_, err = db.Exec(
		`INSERT INTO col (id, crt, mod, scm, ver, dty, usn, ls, conf, models, decks, dconf, tags)
		 VALUES (1, ?, ?, ?, ?, 0, 0, 0, ?, ?, ?, ?, '{}')`,
		crt, nowMs, nowMs, SchemaVersion, string(confJSON), string(modelsJSON), string(decksJSON), string(dconfJSON),
	)
	if err != nil {
		return fmt.Errorf("ankidb: insert col row: %w", err)
	}

	if err := seedSampleNotes(db, nowMs, crt, userDisplayName); err != nil {
		return fmt.Errorf("ankidb: seed sample notes: %w", err)
	}

	return nil
}

func defaultConf() map[string]interface{} {
	return map[string]interface{}{
		"nextPos":       1,
		"estTimes":      true,
		"activeDecks":   []int64{defaultDeckID},
		"sortType":      "noteFld",
		"sortBackwards": false,
		"addToCur":      true,
		"curDeck":       defaultDeckID,
		"newSpread":     0,
		"dueCounts":     true,
		"collapseTime":  1200,
		"timeLim":       0,
		"schedVer":      1,
		"curModel":      fmt.Sprintf("%d", defaultModelID),
		"dayLearnFirst": false,
	}
}

// defaultModels returns the fixed Basic (front/back) note type; the model
// set is fixed per spec.md's non-goals (no custom note-type editing).
func defaultModels(nowMs int64) map[string]interface{} {
	return map[string]interface{}{
		fmt.Sprintf("%d", defaultModelID): map[string]interface{}{
			"id":    defaultModelID,
			"name":  "Basic",
			"type":  0,
			"mod":   nowMs / 1000,
			"usn":   0,
			"sortf": 0,
			"did":   defaultDeckID,
			"req":   []interface{}{[]interface{}{0, "all", []int{0}}},
			"tags":  []string{},
			"flds": []map[string]interface{}{
				{"name": "Front", "ord": 0, "sticky": false, "rtl": false, "font": "Arial", "size": 20, "media": []string{}},
				{"name": "Back", "ord": 1, "sticky": false, "rtl": false, "font": "Arial", "size": 20, "media": []string{}},
			},
			"tmpls": []map[string]interface{}{
				{
					"name":  "Card 1",
					"ord":   0,
					"qfmt":  "{{Front}}",
					"afmt":  "{{FrontSide}}\n\n<hr id=answer>\n\n{{Back}}",
					"did":   nil,
					"bqfmt": "",
					"bafmt": "",
				},
			},
			"css":       ".card { font-family: arial; font-size: 20px; text-align: center; color: black; background-color: white; }",
			"latexPre":  "\\documentclass[12pt]{article}\n\\special{papersize=3in,5in}\n\\usepackage[utf8]{inputenc}\n\\usepackage{amssymb,amsmath}\n\\pagestyle{empty}\n\\setlength{\\parindent}{0in}\n\\begin{document}",
			"latexPost": "\\end{document}",
			"vers":      []int{},
		},
	}
}

func defaultDecks(nowMs int64) map[string]interface{} {
	return map[string]interface{}{
		fmt.Sprintf("%d", defaultDeckID): map[string]interface{}{
			"id":               defaultDeckID,
			"name":             "Default",
			"mod":              nowMs / 1000,
			"desc":             "",
			"collapsed":        false,
			"dyn":              0,
			"conf":             defaultDconfID,
			"usn":              0,
			"newToday":         []int{0, 0},
			"revToday":         []int{0, 0},
			"lrnToday":         []int{0, 0},
			"timeToday":        []int{0, 0},
			"browserCollapsed": false,
			"extendNew":        10,
			"extendRev":        50,
		},
	}
}

// defaultDconf mirrors the DeckConfig defaults in spec.md §4.5.
func defaultDconf(nowMs int64) map[string]interface{} {
	return map[string]interface{}{
		fmt.Sprintf("%d", defaultDconfID): map[string]interface{}{
			"id":   defaultDconfID,
			"name": "Default",
			"dyn":  0,
			"new": map[string]interface{}{
				"delays":        []int{1, 10},
				"ints":          []int{1, 4},
				"initialFactor": 2500,
				"perDay":        20,
				"order":         1,
				"bury":          false,
				"separate":      true,
			},
			"lapse": map[string]interface{}{
				"delays":      []int{10},
				"mult":        0.0,
				"minInt":      1,
				"leechFails":  8,
				"leechAction": 0,
			},
			"rev": map[string]interface{}{
				"perDay":     200,
				"ease4":      1.3,
				"hardFactor": 1.2,
				"fuzz":       0.05,
				"maxIvl":     36500,
				"ivlFct":     1.0,
				"bury":       false,
				"minSpace":   1,
			},
			"timer":    0,
			"maxTaken": 60,
			"usn":      0,
			"mod":      nowMs / 1000,
			"autoplay": true,
			"replayq":  true,
		},
	}
}

// seedSampleNotes inserts a small fixed sample deck so a fresh registration
// has content to review, per spec.md §3.3 ("seeded with ... a fixed sample
// note set").
func seedSampleNotes(db *sql.DB, nowMs, crt int64, userDisplayName string) error {
	samples := [][2]string{
		{"Welcome, " + userDisplayName, "This is your first flashcard. Answer it to see the scheduler in action."},
		{"capital of France", "Paris"},
		{"2 + 2", "4"},
		{"largest planet in the solar system", "Jupiter"},
		{"chemical symbol for gold", "Au"},
	}

	for i, pair := range samples {
		noteID := nowMs + int64(i)*2
		cardID := noteID + 1
		front, back := pair[0], pair[1]
		flds := front + "\x1f" + back
		csum := ankiutil.FieldChecksum(front)
		guid, err := ankiutil.NewGUID()
		if err != nil {
			return err
		}

		if _, err := db.Exec(
			`INSERT INTO notes (id, guid, mid, mod, usn, tags, flds, sfld, csum, flags, data)
			 VALUES (?, ?, ?, ?, 0, '', ?, ?, ?, 0, '')`,
			noteID, guid, defaultModelID, nowMs/1000, flds, front, csum,
		); err != nil {
			return err
		}

		if _, err := db.Exec(
			`INSERT INTO cards (id, nid, did, ord, mod, usn, type, queue, due, ivl, factor, reps, lapses, left, odue, odid, flags, data)
			 VALUES (?, ?, ?, 0, ?, 0, 0, 0, ?, 0, 0, 0, 0, 0, 0, 0, 0, '')`,
			cardID, noteID, defaultDeckID, nowMs/1000, i+1,
		); err != nil {
			return err
		}
	}

	return nil
}
