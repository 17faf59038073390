package messaging

import (
	"sync"

	"github.com/vortexdb/vortex/common"
)

// Sharded is the cross-core container of messaging services: one independent
// instance per core, each with its own caches and counters. Instances
// collaborate by passing messages, never by sharing mutable state. Core 0
// owns the listening sockets - the Go runtime schedules inbound work across
// cores itself.
type Sharded struct {
	services []*MessagingService
}

func NewSharded(numCores int, cfg Config, snitch Snitch, gossip Gossip) (*Sharded, error) {
	s := &Sharded{}
	for i := 0; i < numCores; i++ {
		coreCfg := cfg
		coreCfg.CoreID = i
		coreCfg.ListenNow = false
		ms, err := NewMessagingService(coreCfg, snitch, gossip)
		if err != nil {
			return nil, err
		}
		s.services = append(s.services, ms)
	}
	return s, nil
}

func (s *Sharded) NumCores() int {
	return len(s.services)
}

func (s *Sharded) OnCore(core int) *MessagingService {
	return s.services[core]
}

func (s *Sharded) ForEach(f func(core int, ms *MessagingService)) {
	for i, ms := range s.services {
		f(i, ms)
	}
}

func (s *Sharded) StartListen() error {
	return s.services[0].StartListen()
}

// Stop stops every core's instance concurrently and returns the first error.
func (s *Sharded) Stop() error {
	var wg sync.WaitGroup
	var lock sync.Mutex
	var firstErr error
	for _, ms := range s.services {
		ms := ms
		wg.Add(1)
		common.Go(func() {
			defer wg.Done()
			if err := ms.Stop(); err != nil {
				lock.Lock()
				if firstErr == nil {
					firstErr = err
				}
				lock.Unlock()
			}
		})
	}
	wg.Wait()
	return firstErr
}
