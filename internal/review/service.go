// Package review implements ReviewService: picking the next due card for a
// user's deck and committing an answer atomically with its revlog row, per
// spec.md §4.6.
package review

import (
	"context"
	"database/sql"

	"github.com/emadruga/javumbo-sub001/internal/apperr"
	"github.com/emadruga/javumbo-sub001/internal/clock"
	"github.com/emadruga/javumbo-sub001/internal/collection"
	"github.com/emadruga/javumbo-sub001/internal/scheduler"
	"github.com/emadruga/javumbo-sub001/internal/session"
)

// CardView exposes only the fields the UI needs for a review prompt.
type CardView struct {
	CardID int64
	Front  string
	Back   string
	Queue  int
}

// PathResolver maps a username to its collection file path.
type PathResolver func(username string) string

// Service wires the SessionRegistry, CollectionRepo, and Scheduler together.
type Service struct {
	registry *session.Registry
	resolve  PathResolver
	clock    clock.Clock
}

// New constructs a Service.
func New(registry *session.Registry, resolve PathResolver, c clock.Clock) *Service {
	return &Service{
		registry: registry,
		resolve:  resolve,
		clock:    c,
	}
}

// GetNext acquires the user's session, finds the next due card in their
// current deck (or deckIDOverride if non-zero), and renders it for the UI.
// Returns (CardView{}, false, nil) when nothing is due.
func (s *Service) GetNext(ctx context.Context, username string, deckIDOverride int64) (_ CardView, _ bool, err error) {
	lease, err := s.registry.Acquire(ctx, username, s.resolve(username))
	if err != nil {
		return CardView{}, false, err
	}
	defer func() {
		_ = s.registry.ReleaseAfter(ctx, lease, false, err)
	}()

	repo := collection.New(lease.Store, s.clock)

	deckID := deckIDOverride
	if deckID == 0 {
		deckID, err = repo.CurrentDeckID(ctx)
		if err != nil {
			return CardView{}, false, err
		}
	}

	nowMs := s.clock.NowMs()
	dayCutoff, err := repo.DayCutoffDays(ctx, nowMs)
	if err != nil {
		return CardView{}, false, err
	}

	card, ok, err := repo.NextDueCard(ctx, deckID, nowMs, dayCutoff)
	if err != nil || !ok {
		return CardView{}, ok, err
	}

	front, back, err := repo.GetNoteFields(ctx, card.ID)
	if err != nil {
		return CardView{}, false, err
	}

	return CardView{CardID: card.ID, Front: front, Back: back, Queue: card.Queue}, true, nil
}

// Answer loads the card, runs the scheduler, and commits the new card state
// plus a revlog row inside a single transaction.
func (s *Service) Answer(ctx context.Context, username string, cardID int64, ease int, timeTakenMs int64) (err error) {
	if ease < 1 || ease > 4 {
		return apperr.New(apperr.Validation, apperr.MsgInvalidEase)
	}

	lease, err := s.registry.Acquire(ctx, username, s.resolve(username))
	if err != nil {
		return err
	}

	dirty := false
	defer func() {
		_ = s.registry.ReleaseAfter(ctx, lease, dirty, err)
	}()

	repo := collection.New(lease.Store, s.clock)

	card, err := repo.GetCard(ctx, cardID)
	if err != nil {
		return err
	}

	nowMs := s.clock.NowMs()
	dayCutoff, err := repo.DayCutoffDays(ctx, nowMs)
	if err != nil {
		return err
	}

	cfg := scheduler.DefaultDeckConfig()
	outcome := scheduler.Advance(scheduler.CardState{
		Type:   card.Type,
		Queue:  card.Queue,
		Due:    card.Due,
		Ivl:    card.Ivl,
		Factor: card.Factor,
		Reps:   card.Reps,
		Lapses: card.Lapses,
		Left:   card.Left,
	}, ease, cfg, nowMs, dayCutoff)

	err = lease.Store.Tx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE cards SET type=?, queue=?, due=?, ivl=?, factor=?, reps=?, lapses=?, left=?, mod=?, usn=-1
			 WHERE id=?`,
			outcome.NewType, outcome.NewQueue, outcome.NewDue, outcome.NewIvl, outcome.NewFactor,
			outcome.NewReps, outcome.NewLapses, outcome.NewLeft, nowMs/1000, cardID)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return apperr.New(apperr.NotFound, apperr.MsgCardNotFound)
		}

		revlogID := maxID(nowMs, tx, ctx)
		_, err = tx.ExecContext(ctx,
			`INSERT INTO revlog (id, cid, usn, ease, ivl, lastIvl, factor, time, type)
			 VALUES (?, ?, -1, ?, ?, ?, ?, ?, ?)`,
			revlogID, cardID, ease, outcome.NewIvl, outcome.PrevIvl, outcome.NewFactor, timeTakenMs, card.Type)
		return err
	})
	if err != nil {
		return err
	}

	dirty = true
	return nil
}

func maxID(nowMs int64, tx *sql.Tx, ctx context.Context) int64 {
	var maxExisting sql.NullInt64
	row := tx.QueryRowContext(ctx, `SELECT MAX(id) FROM revlog`)
	if err := row.Scan(&maxExisting); err != nil {
		return nowMs
	}
	if maxExisting.Valid && maxExisting.Int64+1 > nowMs {
		return maxExisting.Int64 + 1
	}
	return nowMs
}
