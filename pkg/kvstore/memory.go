package kvstore

import (
	"context"

	"github.com/xaionaro-go/xsync"
)

// Memory is a Store that does not survive the process; a "restart" is
// simulated by sharing one Memory between two consumers.
type Memory struct {
	locker xsync.Mutex
	values map[string]any
	puts   int
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		values: map[string]any{},
	}
}

func (s *Memory) Put(ctx context.Context, key string, value any) error {
	return xsync.DoR1(ctx, &s.locker, func() error {
		var normalized any
		if err := remarshal(key, value, &normalized); err != nil {
			return err
		}
		s.values[key] = normalized
		s.puts++
		return nil
	})
}

func (s *Memory) Get(ctx context.Context, key string, dst any) (bool, error) {
	return xsync.DoR2(ctx, &s.locker, func() (bool, error) {
		value, ok := s.values[key]
		if !ok {
			return false, nil
		}
		return true, remarshal(key, value, dst)
	})
}

func (s *Memory) Delete(ctx context.Context, key string) error {
	s.locker.Do(ctx, func() {
		delete(s.values, key)
	})
	return nil
}

// Snapshot returns the raw stored values, for inspection.
func (s *Memory) Snapshot(ctx context.Context) map[string]any {
	return xsync.DoR1(ctx, &s.locker, func() map[string]any {
		result := make(map[string]any, len(s.values))
		for k, v := range s.values {
			result[k] = v
		}
		return result
	})
}
