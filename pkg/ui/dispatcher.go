package ui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"
)

// DispatchMsg tells the model to run the work queued on its dispatcher.
type DispatchMsg struct{}

// ProgramDispatcher runs tree work on the bubbletea update goroutine. Dispatch
// never blocks: work is queued and a single DispatchMsg is posted to the
// program until the model drains the queue.
type ProgramDispatcher struct {
	mu        sync.Mutex
	queue     []func()
	send      func(tea.Msg)
	scheduled bool
}

func NewProgramDispatcher() *ProgramDispatcher {
	return &ProgramDispatcher{}
}

// Attach starts posting to p. Work queued before Attach is flushed on the
// first message.
func (d *ProgramDispatcher) Attach(p *tea.Program) {
	d.attach(p.Send)
}

func (d *ProgramDispatcher) attach(send func(tea.Msg)) {
	d.mu.Lock()
	d.send = send
	kick := len(d.queue) > 0 && !d.scheduled
	if kick {
		d.scheduled = true
	}
	d.mu.Unlock()
	if kick {
		go send(DispatchMsg{})
	}
}

func (d *ProgramDispatcher) Dispatch(fn func()) {
	d.mu.Lock()
	d.queue = append(d.queue, fn)
	kick := d.send != nil && !d.scheduled
	if kick {
		d.scheduled = true
	}
	send := d.send
	d.mu.Unlock()

	// p.Send blocks until the event loop reads it, and Dispatch may be
	// called from inside Update.
	if kick {
		go send(DispatchMsg{})
	}
}

// Drain runs queued work in order, including work queued while draining, and
// reports how many functions ran.
func (d *ProgramDispatcher) Drain() int {
	ran := 0
	for {
		d.mu.Lock()
		q := d.queue
		d.queue = nil
		if len(q) == 0 {
			d.scheduled = false
			d.mu.Unlock()
			return ran
		}
		d.mu.Unlock()
		for _, fn := range q {
			fn()
		}
		ran += len(q)
	}
}

// Pending reports the number of queued functions.
func (d *ProgramDispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}
