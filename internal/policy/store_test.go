package policy

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/quacklabs/paygate/internal/membase"
)

func TestStore_ConcurrentUpdatesAllApply(t *testing.T) {
	mem := membase.NewMemoryStore()
	s := NewStore(mem, Default())
	ctx := context.Background()

	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			addr := fmt.Sprintf("0x%040x", n+1)
			if _, err := s.Update(ctx, "alice", func(p *Policy) {
				p.AllowedAddresses = append(p.AllowedAddresses, addr)
			}); err != nil {
				t.Errorf("Update failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	p, err := s.Get(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(p.AllowedAddresses) != writers {
		t.Errorf("allowed addresses = %d, want %d (lost updates)", len(p.AllowedAddresses), writers)
	}
}

func TestStore_ConcurrentSetSpendingLimit(t *testing.T) {
	mem := membase.NewMemoryStore()
	s := NewStore(mem, Default())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.SetSpendingLimit(ctx, "alice", "25"); err != nil {
				t.Errorf("SetSpendingLimit failed: %v", err)
			}
		}()
	}
	wg.Wait()

	p, err := s.Get(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if p.MaxDailySpend != "25000000000000000000" {
		t.Errorf("max daily spend = %s, want 25 BNB in wei", p.MaxDailySpend)
	}
}
