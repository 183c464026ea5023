package simulation

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/miradorstack/mirador-fleetsim/internal/metrics"
	"github.com/miradorstack/mirador-fleetsim/internal/models"
)

// TickFunc receives every frame produced by the simulator.
type TickFunc func(models.Frame)

// dispatcher hands frames to the registered callback on its own goroutine.
// Submit never blocks: when the buffer is full the frame is dropped.
type dispatcher struct {
	callback atomic.Pointer[TickFunc]
	frames   chan models.Frame
	dropped  atomic.Uint64
	logger   *slog.Logger

	once sync.Once
	stop chan struct{}
	done chan struct{}
}

func newDispatcher(buffer int, logger *slog.Logger) *dispatcher {
	if buffer <= 0 {
		buffer = 1
	}
	d := &dispatcher{
		frames: make(chan models.Frame, buffer),
		logger: logger,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go d.loop()
	return d
}

func (d *dispatcher) set(fn TickFunc) {
	if fn == nil {
		d.callback.Store(nil)
		return
	}
	d.callback.Store(&fn)
}

func (d *dispatcher) submit(frame models.Frame) {
	if d.callback.Load() == nil {
		return
	}
	select {
	case <-d.stop:
		return
	default:
	}
	select {
	case d.frames <- frame:
	default:
		d.dropped.Add(1)
		metrics.FrameDropped()
		d.logger.Debug("tick frame dropped", slog.Uint64("tick", frame.Tick))
	}
}

func (d *dispatcher) loop() {
	defer close(d.done)
	for {
		select {
		case <-d.stop:
			return
		case frame := <-d.frames:
			if fn := d.callback.Load(); fn != nil {
				d.deliver(*fn, frame)
			}
		}
	}
}

func (d *dispatcher) deliver(fn TickFunc, frame models.Frame) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("tick callback panicked", slog.Any("panic", r), slog.Uint64("tick", frame.Tick))
		}
	}()
	fn(frame)
}

func (d *dispatcher) close() {
	d.once.Do(func() { close(d.stop) })
	<-d.done
}
