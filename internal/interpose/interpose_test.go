package interpose

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cterrors "github.com/ser94mor/cloudtiering/internal/errors"
	"github.com/ser94mor/cloudtiering/internal/queueio"
)

func TestTriggerEnqueuesPath(t *testing.T) {
	q, err := queueio.New(queueio.Config{Capacity: 1, RecordMax: 256})
	require.NoError(t, err)
	defer q.Destroy()

	trigger := NewQueueTrigger(q)
	require.NoError(t, trigger.Trigger("/mnt/data/hot.bin"))

	buf := make([]byte, 256)
	n, err := q.TryPop(buf)
	require.NoError(t, err)
	assert.Equal(t, "/mnt/data/hot.bin", string(buf[:n]))
}

func TestTriggerRejectsEmptyPath(t *testing.T) {
	q, err := queueio.New(queueio.Config{Capacity: 1, RecordMax: 256})
	require.NoError(t, err)
	defer q.Destroy()

	err = NewQueueTrigger(q).Trigger("")
	assert.True(t, cterrors.Is(err, cterrors.KindInvalid))
}

func TestTriggerReportsFullQueue(t *testing.T) {
	q, err := queueio.New(queueio.Config{Capacity: 1, RecordMax: 256})
	require.NoError(t, err)
	defer q.Destroy()

	trigger := NewQueueTrigger(q)
	require.NoError(t, trigger.Trigger("/a"))

	err = trigger.Trigger("/b")
	assert.True(t, cterrors.Is(err, cterrors.KindWouldBlock))
}
