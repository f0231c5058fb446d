package userstore

import (
	"fmt"
	"sync"
	"testing"
)

func TestNew_Seeded(t *testing.T) {
	s := New()
	if s.Count() != 3 {
		t.Fatalf("Count = %d, want 3", s.Count())
	}
	want := []User{
		{1, "John Doe", "john@example.com"},
		{2, "Jane Smith", "jane@example.com"},
		{3, "Alice Johnson", "alice@example.com"},
	}
	got := s.List()
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("List[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestGet(t *testing.T) {
	s := New()
	u, ok := s.Get(2)
	if !ok || u.Name != "Jane Smith" {
		t.Fatalf("Get(2) = %+v, %v", u, ok)
	}
	if _, ok := s.Get(99); ok {
		t.Fatal("Get(99) should miss")
	}
}

func TestCreate_AssignsNextID(t *testing.T) {
	s := New()
	u := s.Create("Bob", "bob@example.com")
	if u.ID != 4 {
		t.Fatalf("ID = %d, want 4", u.ID)
	}
	if !s.Exists(4) || s.Count() != 4 {
		t.Fatal("created user not stored")
	}
	if u2 := s.Create("Carol", "carol@example.com"); u2.ID != 5 {
		t.Fatalf("second ID = %d, want 5", u2.ID)
	}
}

func TestConcurrentCreate_UniqueIDs(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := map[int]bool{}
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u := s.Create(fmt.Sprintf("u%d", i), "u@example.com")
			mu.Lock()
			seen[u.ID] = true
			mu.Unlock()
		}(i)
	}
	wg.Wait()
	if len(seen) != 50 || s.Count() != 53 {
		t.Fatalf("unique ids = %d, count = %d", len(seen), s.Count())
	}
}
