package bleve

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/savecodenow/internal/savecode"
)

func TestSearchOrigins(t *testing.T) {
	t.Parallel()

	idx, err := Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	ctx := context.Background()

	for _, url := range []string{
		"https://github.com/acme/widgets",
		"https://github.com/acme/gadgets",
		"https://gitlab.com/other/widgets",
	} {
		require.NoError(t, idx.IndexOrigin(ctx, savecode.OriginDocument{
			URL:        url,
			VisitTypes: []string{"git"},
			HasVisits:  true,
			LastVisit:  time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		}))
	}

	hits, err := idx.SearchOrigins(ctx, "acme widgets", 10)
	require.NoError(t, err)
	require.Equal(t, []string{"https://github.com/acme/widgets"}, hits)

	hits, err = idx.SearchOrigins(ctx, "widgets", 10)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"https://github.com/acme/widgets", "https://gitlab.com/other/widgets"}, hits)

	hits, err = idx.SearchOrigins(ctx, "https://github.com/acme/gadgets", 10)
	require.NoError(t, err)
	require.Equal(t, "https://github.com/acme/gadgets", hits[0], "exact url ranks first")

	hits, err = idx.SearchOrigins(ctx, "  ", 10)
	require.NoError(t, err)
	require.Empty(t, hits)

	require.Error(t, idx.IndexOrigin(ctx, savecode.OriginDocument{}))
}

func TestIndexOriginMergesVisitTypes(t *testing.T) {
	t.Parallel()

	idx, err := Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	ctx := context.Background()
	url := "https://hg.example.org/repo"

	require.NoError(t, idx.IndexOrigin(ctx, savecode.OriginDocument{URL: url, VisitTypes: []string{"hg"}}))
	require.NoError(t, idx.IndexOrigin(ctx, savecode.OriginDocument{URL: url, VisitTypes: []string{"git", "hg"}}))
	require.ElementsMatch(t, []string{"hg", "git"}, idx.storedVisitTypes(url))
}

func TestOpenPersistsToDisk(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "origins.bleve")
	idx, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, idx.IndexOrigin(context.Background(), savecode.OriginDocument{URL: "https://github.com/acme/widgets"}))
	require.NoError(t, idx.Close())

	idx, err = Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	hits, err := idx.SearchOrigins(context.Background(), "widgets", 5)
	require.NoError(t, err)
	require.Equal(t, []string{"https://github.com/acme/widgets"}, hits)
}
