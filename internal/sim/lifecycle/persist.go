package lifecycle

import (
	"context"
	"time"

	"go.uber.org/zap"
)

func (m *Manager) schedulePersist() {
	select {
	case m.persistCh <- struct{}{}:
	default:
	}
}

func (m *Manager) persistLoop() {
	defer m.persistWG.Done()
	var timer *time.Timer
	stopTimer := func() {
		if timer == nil {
			return
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer = nil
	}
	for {
		var timerCh <-chan time.Time
		if timer != nil {
			timerCh = timer.C
		}
		select {
		case <-m.persistStop:
			stopTimer()
			m.persistNow()
			return
		case <-m.persistCh:
			stopTimer()
			timer = time.NewTimer(m.persistDebounce)
		case ack := <-m.persistFlush:
			stopTimer()
			m.persistNow()
			close(ack)
		case <-timerCh:
			timer = nil
			m.persistNow()
		}
	}
}

// persistNow writes every dirty loaded record. A failed write leaves the
// handle dirty so the next flush retries it.
func (m *Manager) persistNow() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	written := 0
	for _, h := range m.reg.All() {
		if !h.Dirty() {
			continue
		}
		if err := m.saveLocked(h.record(), ""); err != nil {
			m.log.Error("persist world", zap.String("world", h.Name()), zap.Error(err))
			continue
		}
		h.dirty.Store(false)
		written++
	}
	return written
}

// FlushState writes all pending record changes and waits for completion.
func (m *Manager) FlushState(ctx context.Context) error {
	ack := make(chan struct{})
	select {
	case m.persistFlush <- ack:
	case <-m.persistStop:
		m.persistNow()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the background flusher after a final flush.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		close(m.persistStop)
		m.persistWG.Wait()
	})
}
