package confirm

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adred-codev/dexfeed/internal/metrics"
)

func TestDisabledEmitter(t *testing.T) {
	stats := metrics.New()
	e, err := New("", stats, zerolog.Nop())
	require.NoError(t, err)
	assert.False(t, e.Enabled())

	// Dropping is silent and must never panic.
	e.Emit(SubjectPending, PendingEnvelope{Event: "swap:pending", TxHash: "0x01"})
	e.Emit(SubjectConfirmed, ConfirmedEnvelope{TxHash: "0x01"})
	e.Close()
}
