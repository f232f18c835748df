package devicesession

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQueue_DedupesSameKind(t *testing.T) {
	q := newCommandQueue()
	q.Enqueue(CmdSetVolume, 10)
	q.Enqueue(CmdSetVolume, 20)
	q.Enqueue(CmdSetVolume, 30)
	q.Enqueue(CmdSetVolume, 40)

	assert.Equal(t, 1, q.Len())
	cmd, ok := q.Pop()
	assert.True(t, ok)
	assert.Equal(t, 40, cmd.payload)
}

func TestQueue_ToggleMuteCancelPair(t *testing.T) {
	q := newCommandQueue()
	q.Enqueue(CmdToggleMute, nil)
	assert.Equal(t, 1, q.Len())
	q.Enqueue(CmdToggleMute, nil)
	assert.Equal(t, 0, q.Len())
}

func TestQueue_FIFOAcrossKinds(t *testing.T) {
	q := newCommandQueue()
	q.Enqueue(CmdPlay, nil)
	q.Enqueue(CmdSetVolume, 50)

	cmd1, _ := q.Pop()
	cmd2, _ := q.Pop()
	assert.Equal(t, CmdPlay, cmd1.kind)
	assert.Equal(t, CmdSetVolume, cmd2.kind)

	_, ok := q.Pop()
	assert.False(t, ok)
}

func TestQueue_DrainEmpties(t *testing.T) {
	q := newCommandQueue()
	q.Enqueue(CmdPlay, nil)
	q.Drain()
	assert.Equal(t, 0, q.Len())
}
