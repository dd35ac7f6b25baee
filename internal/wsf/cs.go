package wsf

import "sync"

// CriticalSection guards state touched from both scheduler and interrupt
// context. It stands in for masking interrupts around the mutation.
type CriticalSection struct {
	mu sync.Mutex
}

func (cs *CriticalSection) Enter() { cs.mu.Lock() }

func (cs *CriticalSection) Exit() { cs.mu.Unlock() }
