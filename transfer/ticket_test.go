package transfer

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTicket_ReclaimOnce(t *testing.T) {
	ticket := Give("payload")
	assert.False(t, ticket.Claimed())
	assert.NotEqual(t, uuid.Nil, ticket.ID())

	v, err := ticket.Reclaim()
	require.NoError(t, err)
	assert.Equal(t, "payload", v)
	assert.True(t, ticket.Claimed())

	v, err = ticket.Reclaim()
	require.ErrorIs(t, err, ErrReclaimed)
	assert.Empty(t, v)
}

func TestTicket_Nil(t *testing.T) {
	var ticket *Ticket[int]
	_, err := ticket.Reclaim()
	require.ErrorIs(t, err, ErrNilTicket)
	assert.Equal(t, uuid.Nil, ticket.ID())
	assert.True(t, ticket.Claimed())
}

func TestTicket_FuncValue(t *testing.T) {
	calls := 0
	ticket := Give(func() { calls++ })

	fn, err := ticket.Reclaim()
	require.NoError(t, err)
	fn()
	assert.Equal(t, 1, calls)
}

func TestTicket_ConcurrentReclaim(t *testing.T) {
	ticket := Give(42)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := ticket.Reclaim(); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestTicket_DistinctIDs(t *testing.T) {
	a, b := Give(1), Give(1)
	assert.NotEqual(t, a.ID(), b.ID())
}
