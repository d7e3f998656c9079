package intake

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// HandlerFunc processes one event. *Conversation.Handle satisfies it.
type HandlerFunc func(ctx context.Context, ev Event) ([]Effect, error)

// ReplyFunc receives the effects of one event, in event order per user.
type ReplyFunc func(effects []Effect)

type job struct {
	ctx   context.Context
	ev    Event
	reply ReplyFunc
}

type mailbox struct {
	queue []job
}

// Dispatcher runs one worker per user with pending events. A user's events
// are handled strictly in arrival order; different users run in parallel.
// A worker exits as soon as its mailbox is empty.
type Dispatcher struct {
	handle HandlerFunc
	log    zerolog.Logger

	mu    sync.Mutex
	boxes map[string]*mailbox
	wg    sync.WaitGroup
}

// NewDispatcher creates a Dispatcher around handle.
func NewDispatcher(handle HandlerFunc, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		handle: handle,
		log:    log,
		boxes:  make(map[string]*mailbox),
	}
}

// Dispatch enqueues ev on its user's mailbox and returns immediately.
// reply may be nil.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event, reply ReplyFunc) {
	j := job{ctx: ctx, ev: ev, reply: reply}

	d.mu.Lock()
	if box, ok := d.boxes[ev.UserID]; ok {
		box.queue = append(box.queue, j)
		d.mu.Unlock()
		return
	}
	box := &mailbox{queue: []job{j}}
	d.boxes[ev.UserID] = box
	d.wg.Add(1)
	d.mu.Unlock()

	go d.run(ev.UserID, box)
}

func (d *Dispatcher) run(userID string, box *mailbox) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		if len(box.queue) == 0 {
			delete(d.boxes, userID)
			d.mu.Unlock()
			return
		}
		j := box.queue[0]
		box.queue[0] = job{}
		box.queue = box.queue[1:]
		d.mu.Unlock()

		d.process(j)
	}
}

func (d *Dispatcher) process(j job) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error().Interface("panic", r).Str("user", j.ev.UserID).Str("event", j.ev.Type.String()).Msg("handler panicked")
		}
	}()

	effects, err := d.handle(j.ctx, j.ev)
	if err != nil {
		d.log.Error().Err(err).Str("user", j.ev.UserID).Str("event", j.ev.Type.String()).Msg("handle event")
	}
	if j.reply != nil && len(effects) > 0 {
		j.reply(effects)
	}
}

// Pending returns the number of users with queued or running events.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.boxes)
}

// Wait blocks until every mailbox has drained.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
