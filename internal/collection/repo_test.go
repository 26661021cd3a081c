package collection

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/emadruga/javumbo-sub001/internal/ankidb"
	"github.com/emadruga/javumbo-sub001/internal/apperr"
	"github.com/emadruga/javumbo-sub001/internal/clock"
)

func newTestRepo(t *testing.T) (*Repo, *clock.Manual) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "user_1.anki2")
	c := clock.NewManual(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	if err := ankidb.Initialize(path, "Ada", c); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	store, err := ankidb.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return New(store, c), c
}

func TestCreateListRenameDeck(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	deck, err := repo.CreateDeck(ctx, "Spanish")
	if err != nil {
		t.Fatalf("CreateDeck: %v", err)
	}
	if deck.Name != "Spanish" {
		t.Fatalf("expected name Spanish, got %q", deck.Name)
	}

	decks, err := repo.ListDecks(ctx)
	if err != nil {
		t.Fatalf("ListDecks: %v", err)
	}
	found := false
	for _, d := range decks {
		if d.ID == deck.ID && d.Name == "Spanish" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected Spanish deck in list, got %+v", decks)
	}

	if _, err := repo.CreateDeck(ctx, "spanish"); apperr.KindOf(err) != apperr.Conflict {
		t.Fatalf("expected case-insensitive duplicate conflict, got %v", err)
	}

	renamed, err := repo.RenameDeck(ctx, deck.ID, "Spanish Vocab")
	if err != nil {
		t.Fatalf("RenameDeck: %v", err)
	}
	if renamed.Name != "Spanish Vocab" {
		t.Fatalf("expected renamed deck, got %+v", renamed)
	}
}

func TestDeleteDeck_ProtectsDefaultAndCascades(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	if _, err := repo.DeleteDeck(ctx, DefaultDeckID); apperr.KindOf(err) != apperr.Validation {
		t.Fatalf("expected Validation deleting default deck, got %v", err)
	}

	deck, err := repo.CreateDeck(ctx, "Temp")
	if err != nil {
		t.Fatalf("CreateDeck: %v", err)
	}
	if _, _, err := repo.AddCard(ctx, "hola", "hello", deck.ID); err != nil {
		t.Fatalf("AddCard: %v", err)
	}

	deleted, err := repo.DeleteDeck(ctx, deck.ID)
	if err != nil {
		t.Fatalf("DeleteDeck: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted card, got %d", deleted)
	}

	stats, err := repo.DeckStats(ctx, deck.ID)
	if apperr.KindOf(err) != apperr.NotFound {
		t.Fatalf("expected NotFound for deleted deck stats, got stats=%+v err=%v", stats, err)
	}
}

func TestSetCurrentDeck_IdempotentOnModTimestamp(t *testing.T) {
	repo, c := newTestRepo(t)
	ctx := context.Background()

	deck, err := repo.CreateDeck(ctx, "History")
	if err != nil {
		t.Fatalf("CreateDeck: %v", err)
	}

	if err := repo.SetCurrentDeck(ctx, deck.ID); err != nil {
		t.Fatalf("SetCurrentDeck: %v", err)
	}
	cur, err := repo.CurrentDeckID(ctx)
	if err != nil || cur != deck.ID {
		t.Fatalf("expected current deck %d, got %d (err %v)", deck.ID, cur, err)
	}

	before, err := repo.loadCol(ctx, repo.store)
	if err != nil {
		t.Fatalf("loadCol: %v", err)
	}

	c.Advance(time.Hour)
	if err := repo.SetCurrentDeck(ctx, deck.ID); err != nil {
		t.Fatalf("re-applying SetCurrentDeck: %v", err)
	}
	after, err := repo.loadCol(ctx, repo.store)
	if err != nil {
		t.Fatalf("loadCol: %v", err)
	}
	if after.Mod != before.Mod {
		t.Fatalf("expected col.mod to stay %d when re-applying the same deck, got %d", before.Mod, after.Mod)
	}
	cur, err = repo.CurrentDeckID(ctx)
	if err != nil || cur != deck.ID {
		t.Fatalf("expected current deck to remain %d, got %d (err %v)", deck.ID, cur, err)
	}
}

func TestAddCard_RejectsEmptyFields(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	if _, _, err := repo.AddCard(ctx, "  ", "back", DefaultDeckID); apperr.KindOf(err) != apperr.Validation {
		t.Fatalf("expected Validation for empty front, got %v", err)
	}
	if _, _, err := repo.AddCard(ctx, "front", "   ", DefaultDeckID); apperr.KindOf(err) != apperr.Validation {
		t.Fatalf("expected Validation for empty back, got %v", err)
	}
}

func TestAddCard_RapidInsertsAllocateDistinctIDs(t *testing.T) {
	repo, c := newTestRepo(t)
	ctx := context.Background()
	_ = c // clock stays pinned; allocation must still avoid collisions

	seenNotes := make(map[int64]bool)
	seenCards := make(map[int64]bool)
	for i := 0; i < 5; i++ {
		nid, cid, err := repo.AddCard(ctx, "front", "back", DefaultDeckID)
		if err != nil {
			t.Fatalf("AddCard #%d: %v", i, err)
		}
		if seenNotes[nid] || seenCards[cid] {
			t.Fatalf("AddCard #%d produced a colliding id: nid=%d cid=%d", i, nid, cid)
		}
		seenNotes[nid] = true
		seenCards[cid] = true
		if cid <= nid {
			t.Fatalf("AddCard #%d: expected cid > nid, got nid=%d cid=%d", i, nid, cid)
		}
	}
}

func TestGetUpdateDeleteCard(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	_, cardID, err := repo.AddCard(ctx, "front", "back", DefaultDeckID)
	if err != nil {
		t.Fatalf("AddCard: %v", err)
	}

	front, back, err := repo.GetNoteFields(ctx, cardID)
	if err != nil {
		t.Fatalf("GetNoteFields: %v", err)
	}
	if front != "front" || back != "back" {
		t.Fatalf("expected front/back round-trip, got %q/%q", front, back)
	}

	if err := repo.UpdateCardContent(ctx, cardID, "new front", "new back"); err != nil {
		t.Fatalf("UpdateCardContent: %v", err)
	}
	front, back, err = repo.GetNoteFields(ctx, cardID)
	if err != nil || front != "new front" || back != "new back" {
		t.Fatalf("expected updated fields, got %q/%q (err %v)", front, back, err)
	}

	if err := repo.DeleteCard(ctx, cardID); err != nil {
		t.Fatalf("DeleteCard: %v", err)
	}
	if _, err := repo.GetCard(ctx, cardID); apperr.KindOf(err) != apperr.NotFound {
		t.Fatalf("expected NotFound after delete, got %v", err)
	}
}

func TestListDeckCards_Pagination(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, _, err := repo.AddCard(ctx, string(rune('a'+i)), "back", DefaultDeckID); err != nil {
			t.Fatalf("AddCard #%d: %v", i, err)
		}
	}

	page, err := repo.ListDeckCards(ctx, DefaultDeckID, 1, 2)
	if err != nil {
		t.Fatalf("ListDeckCards: %v", err)
	}
	// 5 seeded sample cards + 3 new ones.
	if page.Total != 8 {
		t.Fatalf("expected total 8, got %d", page.Total)
	}
	if len(page.Cards) != 2 {
		t.Fatalf("expected page size 2, got %d", len(page.Cards))
	}
}

func TestNextDueCard_PriorityOrder(t *testing.T) {
	repo, c := newTestRepo(t)
	ctx := context.Background()

	deck, err := repo.CreateDeck(ctx, "Priority")
	if err != nil {
		t.Fatalf("CreateDeck: %v", err)
	}
	dayCutoff, err := repo.DayCutoffDays(ctx, c.NowMs())
	if err != nil {
		t.Fatalf("DayCutoffDays: %v", err)
	}

	// No cards due yet in this empty deck.
	_, ok, err := repo.NextDueCard(ctx, deck.ID, c.NowMs(), dayCutoff)
	if err != nil {
		t.Fatalf("NextDueCard (empty): %v", err)
	}
	if ok {
		t.Fatal("expected no due card in a freshly created empty deck")
	}

	if _, _, err := repo.AddCard(ctx, "new card", "back", deck.ID); err != nil {
		t.Fatalf("AddCard: %v", err)
	}

	due, ok, err := repo.NextDueCard(ctx, deck.ID, c.NowMs(), dayCutoff)
	if err != nil {
		t.Fatalf("NextDueCard: %v", err)
	}
	if !ok {
		t.Fatal("expected the new card to be due")
	}
	if due.Queue != 0 {
		t.Fatalf("expected queue=0 (new), got %d", due.Queue)
	}
}
