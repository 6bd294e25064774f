package tui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"
)

// drainMsg asks the model to run the queued closures.
type drainMsg struct{}

// Executor queues closures for the bubbletea event loop. Closures run in
// Update, in the order they were posted, so the view controller's UI-side
// state is only touched from the program goroutine.
type Executor struct {
	mu       sync.Mutex
	queue    []func()
	send     func(tea.Msg)
	signaled bool
}

// NewExecutor creates an executor. Closures posted before Attach are kept
// until a program is attached.
func NewExecutor() *Executor {
	return &Executor{}
}

// Attach connects the executor to a program, usually program.Send.
func (e *Executor) Attach(send func(tea.Msg)) {
	e.mu.Lock()
	e.send = send
	signal := len(e.queue) > 0 && !e.signaled
	if signal {
		e.signaled = true
	}
	e.mu.Unlock()

	if signal {
		go send(drainMsg{})
	}
}

// Post implements historyview.Executor. It never blocks.
func (e *Executor) Post(fn func()) {
	e.mu.Lock()
	e.queue = append(e.queue, fn)
	send := e.send
	signal := send != nil && !e.signaled
	if signal {
		e.signaled = true
	}
	e.mu.Unlock()

	// program.Send blocks until the event loop reads the message.
	if signal {
		go send(drainMsg{})
	}
}

// Drain runs every queued closure, including closures posted while draining.
// It returns the number of closures run.
func (e *Executor) Drain() int {
	ran := 0
	for {
		e.mu.Lock()
		batch := e.queue
		e.queue = nil
		if len(batch) == 0 {
			e.signaled = false
			e.mu.Unlock()
			return ran
		}
		e.mu.Unlock()

		for _, fn := range batch {
			fn()
			ran++
		}
	}
}

// Pending returns the number of queued closures.
func (e *Executor) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}
