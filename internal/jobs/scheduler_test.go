package jobs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/guildgate/guildgate/internal/store"
)

func TestScheduler_LogsSummaryOnStart(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	logger := zap.New(core)

	st := store.Open(t.TempDir(), logger)
	require.NoError(t, st.Tokens.Put("1", "tok"))
	require.NoError(t, st.Pending.Put("2", "10"))

	s := NewScheduler(st, logger)
	s.Start()
	defer s.Stop()

	entries := logs.FilterMessage("store summary").All()
	require.Len(t, entries, 1)

	fields := entries[0].ContextMap()
	assert.Equal(t, int64(1), fields["tokens"])
	assert.Equal(t, int64(1), fields["pending_verifications"])
	assert.Equal(t, int64(0), fields["total_redirects"])
}
