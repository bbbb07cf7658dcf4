package store

import (
	"context"
	"fmt"

	"github.com/example/diary-sync/internal/domain"
)

// DemoAuthorID owns the seeded entries. Sign a token with this subject to
// receive the notifications other users trigger on them.
const DemoAuthorID = "demo-author"

var demoEntries = []domain.Entry{
	{
		ID:        "1",
		Title:     "First snow in the park",
		Content:   "Walked the long way home just to hear it crunch.",
		ImageURLs: []string{"https://picsum.photos/seed/snow/800/600"},
		Author:    domain.Author{ID: DemoAuthorID, Name: "Mina"},
	},
	{
		ID:      "2",
		Title:   "Bread attempt #4",
		Content: "Finally an open crumb. Starter is named Gus now.",
		Author:  domain.Author{ID: DemoAuthorID, Name: "Mina"},
	},
}

// Seed installs the demo entries and a short thread on the first one. The
// thread is only added while the first entry has no comments.
func Seed(ctx context.Context, ds DiaryStore) error {
	for _, e := range demoEntries {
		if err := ds.PutEntry(ctx, e); err != nil {
			return fmt.Errorf("seed entry %s: %w", e.ID, err)
		}
	}
	if e, err := ds.GetEntry(ctx, "1", ""); err == nil && len(e.Comments) > 0 {
		return nil
	}
	root, err := ds.AddComment(ctx, Comment{
		EntryID: "1",
		Author:  domain.Author{ID: "demo-friend", Name: "Jun"},
		Text:    "Was it the big hill by the lake?",
	})
	if err != nil {
		return fmt.Errorf("seed comment: %w", err)
	}
	pid := root.ID
	_, err = ds.AddComment(ctx, Comment{
		EntryID:  "1",
		ParentID: &pid,
		Author:   domain.Author{ID: DemoAuthorID, Name: "Mina"},
		Text:     "That one. Nobody else was there yet.",
	})
	if err != nil {
		return fmt.Errorf("seed reply: %w", err)
	}
	return nil
}
