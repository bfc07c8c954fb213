package encoder

import (
	"errors"
	"sync"
)

// DefaultInputSlots is how many input buffers an encoder owns
const DefaultInputSlots = 3

// outputBacklog bounds ready units waiting for DequeueOutput
const outputBacklog = 64

var errForeignSlot = errors.New("slot does not belong to this encoder")

type pending struct {
	slot *Slot
	size int
	pts  int64
}

// slotQueue is the input/output bookkeeping shared by the asynchronous codecs.
// Free slots, queued inputs and ready outputs are all bounded channels.
type slotQueue struct {
	free   chan *Slot
	queued chan pending
	out    chan Unit
	quit   chan struct{}
	count  int

	closeOnce sync.Once
}

func newSlotQueue(slots, bufSize int) *slotQueue {
	q := &slotQueue{
		free:   make(chan *Slot, slots),
		queued: make(chan pending, slots),
		out:    make(chan Unit, outputBacklog),
		quit:   make(chan struct{}),
		count:  slots,
	}
	for i := 0; i < slots; i++ {
		q.free <- &Slot{Index: i, Buf: make([]byte, bufSize)}
	}
	return q
}

func (q *slotQueue) dequeueInput() (*Slot, bool) {
	select {
	case s := <-q.free:
		return s, true
	default:
		return nil, false
	}
}

func (q *slotQueue) queueInput(slot *Slot, size int, pts int64) error {
	if slot == nil || slot.Index < 0 || slot.Index >= q.count {
		return errForeignSlot
	}
	if size == 0 {
		q.recycle(slot)
		return nil
	}
	select {
	case <-q.quit:
		q.recycle(slot)
		return ErrNotStarted
	default:
	}
	// queued has room for every slot, so this never blocks
	q.queued <- pending{slot: slot, size: size, pts: pts}
	return nil
}

func (q *slotQueue) recycle(slot *Slot) {
	select {
	case q.free <- slot:
	default:
	}
}

func (q *slotQueue) dequeueOutput() (Unit, bool) {
	select {
	case u := <-q.out:
		return u, true
	default:
		return Unit{}, false
	}
}

// emit publishes a unit, giving up if the codec is shutting down
func (q *slotQueue) emit(u Unit) bool {
	select {
	case q.out <- u:
		return true
	case <-q.quit:
		return false
	}
}

// next returns the next queued input, or false once shutdown was requested
// and the queue is drained.
func (q *slotQueue) next() (pending, bool) {
	select {
	case p := <-q.queued:
		return p, true
	case <-q.quit:
		select {
		case p := <-q.queued:
			return p, true
		default:
			return pending{}, false
		}
	}
}

func (q *slotQueue) shutdown() {
	q.closeOnce.Do(func() { close(q.quit) })
}
