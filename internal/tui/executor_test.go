package tui

import (
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/require"
)

func TestExecutorRunsInPostOrder(t *testing.T) {
	exec := NewExecutor()
	var got []int
	for i := 0; i < 3; i++ {
		exec.Post(func() {
			got = append(got, i)
			if i == 0 {
				exec.Post(func() { got = append(got, 99) })
			}
		})
	}

	require.Equal(t, 3, exec.Pending())
	require.Equal(t, 4, exec.Drain())
	require.Equal(t, []int{0, 1, 2, 99}, got)
	require.Zero(t, exec.Pending())
}

func TestExecutorSignalsOncePerDrain(t *testing.T) {
	exec := NewExecutor()
	exec.Post(func() {})

	msgs := make(chan tea.Msg, 4)
	exec.Attach(func(msg tea.Msg) { msgs <- msg })

	select {
	case msg := <-msgs:
		require.IsType(t, drainMsg{}, msg)
	case <-time.After(time.Second):
		t.Fatal("attach did not signal queued work")
	}

	exec.Post(func() {})
	require.Never(t, func() bool { return len(msgs) > 0 }, 50*time.Millisecond, 10*time.Millisecond)

	exec.Drain()
	exec.Post(func() {})
	require.Eventually(t, func() bool { return len(msgs) == 1 }, time.Second, 10*time.Millisecond)
}
