package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"finance-coach/internal/domain"
)

func TestNormalizeLimit(t *testing.T) {
	require.Equal(t, 30, normalizeLimit(0))
	require.Equal(t, 30, normalizeLimit(-4))
	require.Equal(t, 1, normalizeLimit(1))
	require.Equal(t, 200, normalizeLimit(200))
	require.Equal(t, 200, normalizeLimit(201))
}

func TestListWindow(t *testing.T) {
	require.Equal(t, 150, listWindow(30))
	require.Equal(t, 400, listWindow(200))
}

func TestLatestPerSession(t *testing.T) {
	entries := []domain.HistoryEntry{
		makeEntry("e-5", "s-3", 5*time.Second),
		makeEntry("e-4", "s-1", 4*time.Second),
		makeEntry("e-3", "s-3", 3*time.Second),
		makeEntry("e-2", "s-2", 2*time.Second),
		makeEntry("e-1", "s-1", time.Second),
	}

	got := latestPerSession(entries, 30)
	require.Len(t, got, 3)
	require.Equal(t, "e-5", got[0].ID)
	require.Equal(t, "e-4", got[1].ID)
	require.Equal(t, "e-2", got[2].ID)

	require.Len(t, latestPerSession(entries, 2), 2)
	require.Empty(t, latestPerSession(nil, 5))
}
