package util

import (
	"fmt"
	"sync"
)

// SafePrinter serializes concurrent writes to stdout so goroutines (scan
// polling, keep-alive, batch execution) never interleave output mid-line.
type SafePrinter struct {
	mu sync.Mutex
}

// Default is the shared SafePrinter used across the application.
var Default = &SafePrinter{}

func (s *SafePrinter) Print(a ...interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Print(a...)
}

func (s *SafePrinter) Printf(format string, a ...interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Printf(format, a...)
}

func (s *SafePrinter) Println(a ...interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Println(a...)
}
