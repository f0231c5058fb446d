// Package userstore is the in-memory user table backing the users API. It is
// seeded with a few fixed records at construction and never persisted.
package userstore

import (
	"sort"
	"sync"
)

type User struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Store is safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	users  map[int]User
	nextID int
}

// New returns a store holding the three seed users with ids 1-3.
func New() *Store {
	s := &Store{
		users:  make(map[int]User),
		nextID: 1,
	}
	s.Create("John Doe", "john@example.com")
	s.Create("Jane Smith", "jane@example.com")
	s.Create("Alice Johnson", "alice@example.com")
	return s
}

func (s *Store) Get(id int) (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	return u, ok
}

// List returns all users ordered by id.
func (s *Store) List() []User {
	s.mu.RLock()
	out := make([]User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Create stores a new user under the next free id. Inputs are not validated here.
func (s *Store) Create(name, email string) User {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := User{ID: s.nextID, Name: name, Email: email}
	s.users[u.ID] = u
	s.nextID++
	return u
}

func (s *Store) Exists(id int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.users[id]
	return ok
}

func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}
