package metrics

import (
	"sync"
	"testing"
)

func TestConnectionCounters(t *testing.T) {
	t.Parallel()

	m := NewNop()

	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()

	snap := m.Collect()
	if snap.ActiveConnections != 1 {
		t.Errorf("ActiveConnections = %d, want 1", snap.ActiveConnections)
	}
	if snap.TotalConnections != 2 {
		t.Errorf("TotalConnections = %d, want 2", snap.TotalConnections)
	}
}

func TestTotalIsMonotonic(t *testing.T) {
	t.Parallel()

	m := NewNop()
	for i := 0; i < 5; i++ {
		m.ConnectionOpened()
		m.ConnectionClosed()
	}

	snap := m.Collect()
	if snap.ActiveConnections != 0 {
		t.Errorf("ActiveConnections = %d, want 0", snap.ActiveConnections)
	}
	if snap.TotalConnections != 5 {
		t.Errorf("TotalConnections = %d, want 5", snap.TotalConnections)
	}
}

func TestConcurrentMutation(t *testing.T) {
	t.Parallel()

	m := NewNop()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.ConnectionOpened()
				m.MessageReceived()
				m.MessageSent()
				m.Error()
				m.ConnectionClosed()
			}
		}()
	}
	wg.Wait()

	snap := m.Collect()
	if snap.ActiveConnections != 0 {
		t.Errorf("ActiveConnections = %d, want 0", snap.ActiveConnections)
	}
	if snap.TotalConnections != 1000 {
		t.Errorf("TotalConnections = %d, want 1000", snap.TotalConnections)
	}
	if snap.MessagesSent != 1000 || snap.MessagesReceived != 1000 || snap.Errors != 1000 {
		t.Errorf("counters = %+v, want 1000 each", snap)
	}
}
