package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/marginote/marginote/internal/domain"
	"github.com/marginote/marginote/internal/srs"
)

var testNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:): %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testUser(t *testing.T, db *DB) domain.User {
	t.Helper()
	user, err := db.UpsertUser("reader@example.com")
	if err != nil {
		t.Fatalf("UpsertUser: %v", err)
	}
	return user
}

func insertHighlight(t *testing.T, db *DB, userID uuid.UUID, content string, tags ...string) domain.Highlight {
	t.Helper()
	h := domain.Highlight{
		ID:        uuid.New(),
		UserID:    userID,
		BookTitle: "Test Book",
		Content:   content,
		Hash:      uuid.NewString(),
		Tags:      tags,
		CreatedAt: testNow,
	}
	if err := db.InsertHighlight(h, 0); err != nil {
		t.Fatalf("InsertHighlight: %v", err)
	}
	return h
}

func insertCard(t *testing.T, db *DB, h domain.Highlight, deckID *uuid.UUID, due time.Time) domain.Flashcard {
	t.Helper()
	card := domain.Flashcard{
		ID:          uuid.New(),
		UserID:      h.UserID,
		HighlightID: h.ID,
		DeckID:      deckID,
		Front:       h.Content,
		Back:        h.Content,
		CreatedAt:   testNow,
	}
	state := srs.NewState(testNow)
	state.Due = due
	if err := db.CreateFlashcard(card, state); err != nil {
		t.Fatalf("CreateFlashcard: %v", err)
	}
	return card
}

func TestUpsertUserIsIdempotent(t *testing.T) {
	db := openTestDB(t)

	first, err := db.UpsertUser("reader@example.com")
	if err != nil {
		t.Fatalf("UpsertUser: %v", err)
	}
	second, err := db.UpsertUser("reader@example.com")
	if err != nil {
		t.Fatalf("UpsertUser again: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("same email produced two users: %s and %s", first.ID, second.ID)
	}
}

func TestHighlightRoundTripWithTags(t *testing.T) {
	db := openTestDB(t)
	user := testUser(t, db)
	h := insertHighlight(t, db, user.ID, "A passage worth keeping.", "focus", "books")

	got, err := db.GetHighlight(h.ID)
	if err != nil {
		t.Fatalf("GetHighlight: %v", err)
	}
	if got.Content != h.Content || got.BookTitle != h.BookTitle {
		t.Errorf("round trip lost fields: %+v", got)
	}
	if len(got.Tags) != 2 || got.Tags[0] != "books" || got.Tags[1] != "focus" {
		t.Errorf("Tags = %v, want [books focus]", got.Tags)
	}

	if _, err := db.GetHighlight(uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing highlight error = %v, want ErrNotFound", err)
	}
}

func TestFindHighlightByHashSeesSoftDeleted(t *testing.T) {
	db := openTestDB(t)
	user := testUser(t, db)
	h := insertHighlight(t, db, user.ID, "Reappearing passage.")

	if err := db.SoftDeleteHighlight(h.ID, testNow); err != nil {
		t.Fatalf("SoftDeleteHighlight: %v", err)
	}

	found, err := db.FindHighlightByHash(user.ID, h.Hash)
	if err != nil {
		t.Fatalf("FindHighlightByHash: %v", err)
	}
	if found == nil {
		t.Fatal("soft-deleted highlight should still be found by hash")
	}
	if !found.Deleted() {
		t.Error("expected the found highlight to carry its deletion mark")
	}

	if err := db.RestoreHighlight(h.ID); err != nil {
		t.Fatalf("RestoreHighlight: %v", err)
	}
	got, err := db.GetHighlight(h.ID)
	if err != nil {
		t.Fatalf("GetHighlight: %v", err)
	}
	if got.Deleted() {
		t.Error("restored highlight still marked deleted")
	}

	missing, err := db.FindHighlightByHash(user.ID, "no-such-hash")
	if err != nil || missing != nil {
		t.Errorf("unknown hash = (%v, %v), want (nil, nil)", missing, err)
	}
}

func TestUpdateStateRejectsStaleVersion(t *testing.T) {
	db := openTestDB(t)
	user := testUser(t, db)
	h := insertHighlight(t, db, user.ID, "A card to race on.")
	card := insertCard(t, db, h, nil, testNow)

	state, version, err := db.GetState(card.ID)
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if version != 1 {
		t.Fatalf("fresh state version = %d, want 1", version)
	}

	state.Reps = 1
	if err := db.UpdateState(card.ID, state, version); err != nil {
		t.Fatalf("UpdateState: %v", err)
	}

	// A second write with the version we already consumed must fail.
	if err := db.UpdateState(card.ID, state, version); !errors.Is(err, ErrConflict) {
		t.Errorf("stale write error = %v, want ErrConflict", err)
	}

	_, version, err = db.GetState(card.ID)
	if err != nil {
		t.Fatalf("GetState after update: %v", err)
	}
	if version != 2 {
		t.Errorf("version after one write = %d, want 2", version)
	}
}

func TestDueManualCardsOrderAndSoftDeleteFilter(t *testing.T) {
	db := openTestDB(t)
	user := testUser(t, db)
	deckID := uuid.New()
	if err := db.InsertDeck(domain.Deck{ID: deckID, UserID: user.ID, Name: "Manual", Kind: domain.DeckManual, Match: domain.MatchAnyTag, CreatedAt: testNow}); err != nil {
		t.Fatalf("InsertDeck: %v", err)
	}

	older := insertHighlight(t, db, user.ID, "most overdue")
	newer := insertHighlight(t, db, user.ID, "less overdue")
	future := insertHighlight(t, db, user.ID, "not due yet")
	gone := insertHighlight(t, db, user.ID, "deleted underneath")

	oldest := insertCard(t, db, older, &deckID, testNow.Add(-48*time.Hour))
	recent := insertCard(t, db, newer, &deckID, testNow.Add(-1*time.Hour))
	insertCard(t, db, future, &deckID, testNow.Add(24*time.Hour))
	insertCard(t, db, gone, &deckID, testNow.Add(-24*time.Hour))

	if err := db.SoftDeleteHighlight(gone.ID, testNow); err != nil {
		t.Fatalf("SoftDeleteHighlight: %v", err)
	}

	due, err := db.DueManualCards(deckID, testNow, 10)
	if err != nil {
		t.Fatalf("DueManualCards: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("due count = %d, want 2", len(due))
	}
	if due[0].Card.ID != oldest.ID || due[1].Card.ID != recent.ID {
		t.Errorf("due order = [%s %s], want most overdue first", due[0].Card.ID, due[1].Card.ID)
	}

	total, err := db.CountDueManualCards(deckID, testNow)
	if err != nil {
		t.Fatalf("CountDueManualCards: %v", err)
	}
	if total != 2 {
		t.Errorf("total due = %d, want 2", total)
	}
}

func TestSmartTagFilterAnyVersusAll(t *testing.T) {
	db := openTestDB(t)
	user := testUser(t, db)

	both := insertHighlight(t, db, user.ID, "tagged go and testing", "go", "testing")
	oneTag := insertHighlight(t, db, user.ID, "tagged go only", "go")
	insertHighlight(t, db, user.ID, "untagged")

	insertCard(t, db, both, nil, testNow.Add(-time.Hour))
	insertCard(t, db, oneTag, nil, testNow.Add(-time.Hour))

	filter := []string{"go", "testing"}

	anyDue, err := db.DueSmartCards(user.ID, filter, domain.MatchAnyTag, testNow, 10)
	if err != nil {
		t.Fatalf("DueSmartCards any: %v", err)
	}
	if len(anyDue) != 2 {
		t.Errorf("any-match due = %d, want 2", len(anyDue))
	}

	allDue, err := db.DueSmartCards(user.ID, filter, domain.MatchAllTags, testNow, 10)
	if err != nil {
		t.Fatalf("DueSmartCards all: %v", err)
	}
	if len(allDue) != 1 || allDue[0].Card.ID != both.ID {
		t.Errorf("all-match due = %d cards, want just the doubly tagged one", len(allDue))
	}

	n, err := db.CountDueSmartCards(user.ID, filter, domain.MatchAllTags, testNow)
	if err != nil {
		t.Fatalf("CountDueSmartCards: %v", err)
	}
	if n != 1 {
		t.Errorf("all-match count = %d, want 1", n)
	}
}

func TestHighlightsWithoutStateExcludesMaterialized(t *testing.T) {
	db := openTestDB(t)
	user := testUser(t, db)

	reviewed := insertHighlight(t, db, user.ID, "already a card")
	fresh := insertHighlight(t, db, user.ID, "never reviewed")
	skipped := insertHighlight(t, db, user.ID, "explicitly excluded")

	insertCard(t, db, reviewed, nil, testNow)

	got, err := db.HighlightsWithoutState(user.ID, []uuid.UUID{skipped.ID}, 10)
	if err != nil {
		t.Fatalf("HighlightsWithoutState: %v", err)
	}
	if len(got) != 1 || got[0].ID != fresh.ID {
		t.Errorf("unreviewed = %v, want only the fresh highlight", got)
	}
}

func TestDueHighlightsMostOverdueFirst(t *testing.T) {
	db := openTestDB(t)
	user := testUser(t, db)

	older := insertHighlight(t, db, user.ID, "older")
	newer := insertHighlight(t, db, user.ID, "newer")
	insertCard(t, db, older, nil, testNow.Add(-72*time.Hour))
	insertCard(t, db, newer, nil, testNow.Add(-time.Hour))

	due, err := db.DueHighlights(user.ID, testNow, 10)
	if err != nil {
		t.Fatalf("DueHighlights: %v", err)
	}
	if len(due) != 2 || due[0].ID != older.ID {
		t.Errorf("due = %v, want the 72h-overdue highlight first", due)
	}
}

func TestDigestSettingsDefaultsAndUpsert(t *testing.T) {
	db := openTestDB(t)
	user := testUser(t, db)

	defaults, err := db.GetDigestSettings(user.ID)
	if err != nil {
		t.Fatalf("GetDigestSettings: %v", err)
	}
	if defaults.Enabled || defaults.PreferredHour != 8 || defaults.Timezone != "UTC" || defaults.Frequency != domain.Daily {
		t.Errorf("defaults = %+v, want disabled, hour 8, UTC, daily", defaults)
	}

	want := domain.DigestSettings{
		UserID:        user.ID,
		Enabled:       true,
		PreferredHour: 19,
		Timezone:      "Europe/Dublin",
		Frequency:     domain.Weekdays,
	}
	if err := db.PutDigestSettings(want); err != nil {
		t.Fatalf("PutDigestSettings: %v", err)
	}

	got, err := db.GetDigestSettings(user.ID)
	if err != nil {
		t.Fatalf("GetDigestSettings after put: %v", err)
	}
	if !got.Enabled || got.PreferredHour != 19 || got.Timezone != "Europe/Dublin" || got.Frequency != domain.Weekdays {
		t.Errorf("settings = %+v, want what was put", got)
	}
	if got.Email != "reader@example.com" {
		t.Errorf("Email = %q, want the joined user email", got.Email)
	}

	sentAt := testNow.Add(time.Hour)
	if err := db.SetDigestLastSent(user.ID, sentAt); err != nil {
		t.Fatalf("SetDigestLastSent: %v", err)
	}
	got, err = db.GetDigestSettings(user.ID)
	if err != nil {
		t.Fatalf("GetDigestSettings after stamp: %v", err)
	}
	if got.LastSentAt == nil || !got.LastSentAt.Equal(sentAt) {
		t.Errorf("LastSentAt = %v, want %v", got.LastSentAt, sentAt)
	}

	// Re-put must not clear the stamp.
	if err := db.PutDigestSettings(want); err != nil {
		t.Fatalf("PutDigestSettings again: %v", err)
	}
	got, err = db.GetDigestSettings(user.ID)
	if err != nil {
		t.Fatalf("GetDigestSettings after re-put: %v", err)
	}
	if got.LastSentAt == nil {
		t.Error("settings update wiped last_sent_at")
	}
}

func TestListEnabledDigestSettingsSkipsDisabled(t *testing.T) {
	db := openTestDB(t)
	user := testUser(t, db)
	other, err := db.UpsertUser("quiet@example.com")
	if err != nil {
		t.Fatalf("UpsertUser: %v", err)
	}

	on := domain.DigestSettings{UserID: user.ID, Enabled: true, PreferredHour: 8, Timezone: "UTC", Frequency: domain.Daily}
	off := domain.DigestSettings{UserID: other.ID, Enabled: false, PreferredHour: 8, Timezone: "UTC", Frequency: domain.Daily}
	if err := db.PutDigestSettings(on); err != nil {
		t.Fatalf("PutDigestSettings: %v", err)
	}
	if err := db.PutDigestSettings(off); err != nil {
		t.Fatalf("PutDigestSettings: %v", err)
	}

	enabled, err := db.ListEnabledDigestSettings()
	if err != nil {
		t.Fatalf("ListEnabledDigestSettings: %v", err)
	}
	if len(enabled) != 1 || enabled[0].UserID != user.ID || enabled[0].Email != "reader@example.com" {
		t.Errorf("enabled = %+v, want only the switched-on user", enabled)
	}
}

func TestJobQueueClaimRetryAndDeath(t *testing.T) {
	db := openTestDB(t)

	id, err := db.EnqueueJob("digest_email", []byte(`{"to":"reader@example.com"}`), testNow)
	if err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if _, err := db.EnqueueJob("digest_email", []byte(`{}`), testNow.Add(time.Hour)); err != nil {
		t.Fatalf("EnqueueJob future: %v", err)
	}

	claimed, err := db.ClaimDueJobs(testNow, 10)
	if err != nil {
		t.Fatalf("ClaimDueJobs: %v", err)
	}
	if len(claimed) != 1 || claimed[0].ID != id {
		t.Fatalf("claimed = %v, want only the due job", claimed)
	}
	if claimed[0].Attempts != 1 || claimed[0].Status != domain.JobRunning {
		t.Errorf("claimed job = %+v, want running with 1 attempt", claimed[0])
	}

	// Claimed jobs stay invisible until retried.
	again, err := db.ClaimDueJobs(testNow, 10)
	if err != nil {
		t.Fatalf("ClaimDueJobs again: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("re-claim = %v, want nothing", again)
	}

	retryAt := testNow.Add(30 * time.Second)
	if err := db.MarkJobRetry(id, retryAt, "smtp timeout"); err != nil {
		t.Fatalf("MarkJobRetry: %v", err)
	}
	if jobs, _ := db.ClaimDueJobs(testNow, 10); len(jobs) != 0 {
		t.Fatal("retried job claimable before its run_at")
	}
	retried, err := db.ClaimDueJobs(retryAt, 10)
	if err != nil {
		t.Fatalf("ClaimDueJobs at retry time: %v", err)
	}
	if len(retried) != 1 || retried[0].Attempts != 2 || retried[0].LastError != "smtp timeout" {
		t.Fatalf("retried = %+v, want attempt 2 with the recorded error", retried)
	}

	if err := db.MarkJobDead(id, "gave up"); err != nil {
		t.Fatalf("MarkJobDead: %v", err)
	}
	if jobs, _ := db.ClaimDueJobs(retryAt.Add(time.Hour), 10); len(jobs) != 0 {
		t.Fatal("dead job should never be claimed")
	}
}

func TestSourcesRoundTrip(t *testing.T) {
	db := openTestDB(t)
	user := testUser(t, db)

	id, err := db.InsertSource(user.ID, "/notes/highlights", "local")
	if err != nil {
		t.Fatalf("InsertSource: %v", err)
	}

	found, err := db.FindSourceByPath("/notes/highlights")
	if err != nil {
		t.Fatalf("FindSourceByPath: %v", err)
	}
	if found == nil || found.ID != id || found.Type != "local" {
		t.Fatalf("found = %+v, want the inserted source", found)
	}

	if err := db.UpdateSourceLastScanned(id); err != nil {
		t.Fatalf("UpdateSourceLastScanned: %v", err)
	}
	all, err := db.GetAllSources()
	if err != nil {
		t.Fatalf("GetAllSources: %v", err)
	}
	if len(all) != 1 || !all[0].LastScanned.Valid {
		t.Errorf("sources = %+v, want one with a scan timestamp", all)
	}

	if err := db.DeleteSource(id); err != nil {
		t.Fatalf("DeleteSource: %v", err)
	}
	if all, _ := db.GetAllSources(); len(all) != 0 {
		t.Errorf("sources after delete = %+v, want none", all)
	}
}
