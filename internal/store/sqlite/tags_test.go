package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/picdexapp/picdex-server/internal/domain"
	"github.com/picdexapp/picdex-server/internal/store"
)

// makeTestTag creates a domain.Tag with sensible defaults for testing.
func makeTestTag(id, name string) *domain.Tag {
	now := time.Now()
	return &domain.Tag{
		ID:        id,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestCreateAndGetTag(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tag := makeTestTag("tag-1", "sunset")

	if err := s.CreateTag(ctx, tag); err != nil {
		t.Fatalf("CreateTag: %v", err)
	}

	got, err := s.GetTagByID(ctx, "tag-1")
	if err != nil {
		t.Fatalf("GetTagByID: %v", err)
	}

	// Verify fields.
	if got.ID != tag.ID {
		t.Errorf("ID: got %q, want %q", got.ID, tag.ID)
	}
	if got.Name != tag.Name {
		t.Errorf("Name: got %q, want %q", got.Name, tag.Name)
	}
	if got.ImageCount != 0 {
		t.Errorf("ImageCount: got %d, want 0", got.ImageCount)
	}

	// Timestamps should round-trip through RFC3339Nano.
	if got.CreatedAt.Unix() != tag.CreatedAt.Unix() {
		t.Errorf("CreatedAt: got %v, want %v", got.CreatedAt, tag.CreatedAt)
	}
	if got.UpdatedAt.Unix() != tag.UpdatedAt.Unix() {
		t.Errorf("UpdatedAt: got %v, want %v", got.UpdatedAt, tag.UpdatedAt)
	}
}

func TestGetTagByName_CaseInsensitive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tag := makeTestTag("tag-name-1", "Night Sky")
	if err := s.CreateTag(ctx, tag); err != nil {
		t.Fatalf("CreateTag: %v", err)
	}

	// Lookup under a different casing must resolve to the same tag,
	// with the original spelling preserved as display form.
	got, err := s.GetTagByName(ctx, "NIGHT SKY")
	if err != nil {
		t.Fatalf("GetTagByName: %v", err)
	}
	if got.ID != "tag-name-1" {
		t.Errorf("ID: got %q, want %q", got.ID, "tag-name-1")
	}
	if got.Name != "Night Sky" {
		t.Errorf("Name: got %q, want %q", got.Name, "Night Sky")
	}
}

func TestGetTag_NotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetTagByID(ctx, "nonexistent")
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	var storeErr *store.Error
	if !errors.As(err, &storeErr) {
		t.Fatalf("expected *store.Error, got %T: %v", err, err)
	}
	if storeErr.Code != store.ErrNotFound.Code {
		t.Errorf("expected status %d, got %d", store.ErrNotFound.Code, storeErr.Code)
	}

	// Also verify the name lookup returns not found.
	_, err = s.GetTagByName(ctx, "no-such-tag")
	if err == nil {
		t.Fatal("expected error for name lookup, got nil")
	}
	if !errors.As(err, &storeErr) {
		t.Fatalf("expected *store.Error for name lookup, got %T: %v", err, err)
	}
	if storeErr.Code != store.ErrNotFound.Code {
		t.Errorf("expected status %d for name lookup, got %d", store.ErrNotFound.Code, storeErr.Code)
	}
}

func TestCreateTag_DuplicateFoldedName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	t1 := makeTestTag("tag-dup-1", "Macro")
	if err := s.CreateTag(ctx, t1); err != nil {
		t.Fatalf("CreateTag t1: %v", err)
	}

	// Different ID, same name under folding should fail.
	t2 := makeTestTag("tag-dup-2", "macro")
	err := s.CreateTag(ctx, t2)
	if err == nil {
		t.Fatal("expected error for duplicate name, got nil")
	}
	if !errors.Is(err, store.ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestListTags(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Names chosen so case-insensitive order differs from byte order.
	names := []struct {
		id   string
		name string
	}{
		{"tag-l1", "Zebra"},
		{"tag-l2", "aurora"},
		{"tag-l3", "Macro"},
	}
	// Expected folded sort order: aurora, Macro, Zebra

	for _, td := range names {
		tag := makeTestTag(td.id, td.name)
		if err := s.CreateTag(ctx, tag); err != nil {
			t.Fatalf("CreateTag(%s): %v", td.id, err)
		}
	}

	got, err := s.ListTags(ctx)
	if err != nil {
		t.Fatalf("ListTags: %v", err)
	}

	if len(got) != 3 {
		t.Fatalf("expected 3 tags, got %d", len(got))
	}

	if got[0].Name != "aurora" {
		t.Errorf("item 0: got name %q, want %q", got[0].Name, "aurora")
	}
	if got[1].Name != "Macro" {
		t.Errorf("item 1: got name %q, want %q", got[1].Name, "Macro")
	}
	if got[2].Name != "Zebra" {
		t.Errorf("item 2: got name %q, want %q", got[2].Name, "Zebra")
	}
}

func TestFindOrCreateTagByName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// First call should create a new tag.
	tag1, created, err := s.FindOrCreateTagByName(ctx, "long exposure")
	if err != nil {
		t.Fatalf("FindOrCreateTagByName (create): %v", err)
	}
	if !created {
		t.Error("expected created=true for new tag")
	}
	if tag1.ID == "" {
		t.Error("expected non-empty ID for created tag")
	}
	if tag1.Name != "long exposure" {
		t.Errorf("Name: got %q, want %q", tag1.Name, "long exposure")
	}
	if tag1.CreatedAt.IsZero() {
		t.Error("CreatedAt: expected non-zero")
	}
	if tag1.UpdatedAt.IsZero() {
		t.Error("UpdatedAt: expected non-zero")
	}

	// Verify it was persisted.
	fetched, err := s.GetTagByName(ctx, "long exposure")
	if err != nil {
		t.Fatalf("GetTagByName after create: %v", err)
	}
	if fetched.ID != tag1.ID {
		t.Errorf("persisted ID: got %q, want %q", fetched.ID, tag1.ID)
	}

	// Second call under different casing should find the existing tag.
	tag2, created2, err := s.FindOrCreateTagByName(ctx, "Long Exposure")
	if err != nil {
		t.Fatalf("FindOrCreateTagByName (find): %v", err)
	}
	if created2 {
		t.Error("expected created=false for existing tag")
	}
	if tag2.ID != tag1.ID {
		t.Errorf("expected same ID %q, got %q", tag1.ID, tag2.ID)
	}
}

func TestFindOrCreateTagByName_Blank(t *testing.T) {
	s := newTestStore(t)

	_, _, err := s.FindOrCreateTagByName(context.Background(), "   ")
	if err == nil {
		t.Fatal("expected error for blank name, got nil")
	}
	var storeErr *store.Error
	if !errors.As(err, &storeErr) || storeErr.Code != store.ErrInvalidInput.Code {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestReplaceImageTags(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	insertTestCategory(t, s, "cat-rt1", "Wildlife")
	insertTestImage(t, s, "img-rt1", "cat-rt1")

	tags, err := s.ReplaceImageTags(ctx, "img-rt1", []string{"birds", "Macro", "birds"})
	if err != nil {
		t.Fatalf("ReplaceImageTags: %v", err)
	}
	if len(tags) != 2 {
		t.Fatalf("expected 2 resolved tags (duplicate dropped), got %d", len(tags))
	}

	got, err := s.GetTagsForImage(ctx, "img-rt1")
	if err != nil {
		t.Fatalf("GetTagsForImage: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 linked tags, got %d", len(got))
	}
	if got[0].Name != "birds" {
		t.Errorf("tag[0]: got %q, want %q", got[0].Name, "birds")
	}
	if got[1].Name != "Macro" {
		t.Errorf("tag[1]: got %q, want %q", got[1].Name, "Macro")
	}
	if got[0].ImageCount != 1 {
		t.Errorf("tag[0].ImageCount: got %d, want 1", got[0].ImageCount)
	}

	// Replace with a single tag to verify old links are removed.
	_, err = s.ReplaceImageTags(ctx, "img-rt1", []string{"Macro"})
	if err != nil {
		t.Fatalf("ReplaceImageTags (replace): %v", err)
	}

	ids, err := s.GetImageTagIDs(ctx, "img-rt1")
	if err != nil {
		t.Fatalf("GetImageTagIDs: %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("expected 1 tag ID after replace, got %d", len(ids))
	}
}

func TestSweepOrphanTags(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	insertTestCategory(t, s, "cat-sw1", "Street")
	insertTestImage(t, s, "img-sw1", "cat-sw1")

	tags, err := s.ReplaceImageTags(ctx, "img-sw1", []string{"rain", "neon"})
	if err != nil {
		t.Fatalf("ReplaceImageTags: %v", err)
	}
	candidates := []string{tags[0].ID, tags[1].ID}

	// Both still linked: nothing to sweep.
	n, err := s.SweepOrphanTags(ctx, candidates)
	if err != nil {
		t.Fatalf("SweepOrphanTags (linked): %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0 swept while linked, got %d", n)
	}

	// Drop all links; both candidates become orphans.
	if _, err := s.ReplaceImageTags(ctx, "img-sw1", nil); err != nil {
		t.Fatalf("ReplaceImageTags (clear): %v", err)
	}

	n, err = s.SweepOrphanTags(ctx, candidates)
	if err != nil {
		t.Fatalf("SweepOrphanTags (orphaned): %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 swept, got %d", n)
	}

	all, err := s.ListTags(ctx)
	if err != nil {
		t.Fatalf("ListTags: %v", err)
	}
	if len(all) != 0 {
		t.Errorf("expected no tags left, got %d", len(all))
	}
}

func TestDeleteTag(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	insertTestCategory(t, s, "cat-dt1", "Portraits")
	insertTestImage(t, s, "img-dt1", "cat-dt1")

	tags, err := s.ReplaceImageTags(ctx, "img-dt1", []string{"studio"})
	if err != nil {
		t.Fatalf("ReplaceImageTags: %v", err)
	}
	tagID := tags[0].ID

	// Deleting a referenced tag must refuse with a conflict.
	err = s.DeleteTag(ctx, tagID)
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict for referenced tag, got %v", err)
	}

	// Unlink, then delete succeeds.
	if _, err := s.ReplaceImageTags(ctx, "img-dt1", nil); err != nil {
		t.Fatalf("ReplaceImageTags (clear): %v", err)
	}
	if err := s.DeleteTag(ctx, tagID); err != nil {
		t.Fatalf("DeleteTag: %v", err)
	}

	if _, err := s.GetTagByID(ctx, tagID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}

	// Deleting again reports not found.
	if err := s.DeleteTag(ctx, tagID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound for second delete, got %v", err)
	}
}
