package transport

import "sync"

const dispatchQueueSize = 256

// dispatcher runs queued callbacks one at a time, in the order they were posted.
type dispatcher struct {
	queue    chan func()
	done     chan struct{}
	stopOnce sync.Once
}

func newDispatcher() *dispatcher {
	d := &dispatcher{
		queue: make(chan func(), dispatchQueueSize),
		done:  make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *dispatcher) run() {
	for {
		select {
		case <-d.done:
			return
		case fn := <-d.queue:
			select {
			case <-d.done:
				return
			default:
			}
			fn()
		}
	}
}

// post enqueues fn, blocking while the queue is full. It reports false once stopped.
func (d *dispatcher) post(fn func()) bool {
	select {
	case <-d.done:
		return false
	default:
	}
	select {
	case d.queue <- fn:
		return true
	case <-d.done:
		return false
	}
}

// stop discards pending callbacks. A callback already running is not interrupted.
func (d *dispatcher) stop() {
	d.stopOnce.Do(func() { close(d.done) })
}
