package sqlite

import (
	"path/filepath"
	"testing"

	"github.com/sonroyaalmerol/esn-calendar/internal/storage"
	"github.com/sonroyaalmerol/esn-calendar/internal/storage/storagetest"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		s, err := New(filepath.Join(t.TempDir(), "nested", "calendar.db"), zerolog.Nop())
		require.NoError(t, err)
		t.Cleanup(s.Close)
		return s
	})
}

func TestNew_ReopenKeepsSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calendar.db")

	s, err := New(path, zerolog.Nop())
	require.NoError(t, err)
	s.Close()

	s, err = New(path, zerolog.Nop())
	require.NoError(t, err)
	s.Close()
}
