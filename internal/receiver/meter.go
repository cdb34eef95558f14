package receiver

import (
	"log/slog"
	"sync/atomic"
	"time"
)

// meter logs instant and average throughput of one transfer every
// interval, and once more when stopped.
type meter struct {
	log      *slog.Logger
	interval time.Duration
	total    atomic.Uint64
	done     chan struct{}
	finished chan struct{}
}

func startMeter(log *slog.Logger, interval time.Duration) *meter {
	m := &meter{
		log:      log,
		interval: interval,
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
	go m.run()
	return m
}

func (m *meter) Add(n int) {
	m.total.Add(uint64(n))
}

func (m *meter) Total() uint64 {
	return m.total.Load()
}

func (m *meter) Stop() {
	close(m.done)
	<-m.finished
}

func (m *meter) run() {
	defer close(m.finished)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	start := time.Now()
	lastTime := start
	var lastBytes uint64

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			tb := m.total.Load()
			m.report(tb-lastBytes, now.Sub(lastTime), tb, now.Sub(start))
			lastTime = now
			lastBytes = tb
		case <-m.done:
			now := time.Now()
			if now.Sub(lastTime) >= m.interval {
				return
			}
			tb := m.total.Load()
			delta, dt := tb-lastBytes, now.Sub(lastTime)
			if dt <= 0 {
				delta, dt = tb, now.Sub(start)
			}
			m.report(delta, dt, tb, now.Sub(start))
			return
		}
	}
}

func (m *meter) report(delta uint64, dt time.Duration, total uint64, elapsed time.Duration) {
	if dt <= 0 || elapsed <= 0 {
		return
	}
	m.log.Info("throughput",
		"instant_bps", float64(delta)/dt.Seconds(),
		"average_bps", float64(total)/elapsed.Seconds(),
		"bytes", total,
	)
}
