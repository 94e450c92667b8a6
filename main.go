package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"gosync/cmd"
)

// main wires Ctrl+C / SIGTERM into graceful cancellation of the running
// sync session, with a second interrupt (or a 5s grace-period timeout)
// forcing immediate exit.
//
// Grounded on the teacher's main.go signal-handling loop, with the
// raw-terminal save/restore dropped: that existed to protect an
// interactive TUI's terminal mode, and this CLI has no TUI to protect.
func main() {
	ctx, cancel := context.WithCancel(context.Background())

	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	var wg sync.WaitGroup
	done := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := cmd.ExecuteContext(ctx); err != nil {
			log.Println(err)
			os.Exit(1)
		}
		close(done)
	}()

	var first int32

waitLoop:
	for {
		select {
		case sig := <-sigs:
			if atomic.CompareAndSwapInt32(&first, 0, 1) {
				log.Println("interrupt received, attempting graceful shutdown (press Ctrl+C again to force)")
				cancel()
				select {
				case <-done:
					log.Println("session exited cleanly")
					break waitLoop
				case sig2 := <-sigs:
					log.Printf("second signal (%v) received, forcing exit\n", sig2)
					os.Exit(130)
				case <-time.After(5 * time.Second):
					log.Println("timed out waiting for graceful shutdown, forcing exit")
					os.Exit(1)
				}
			} else {
				log.Println("second interrupt, forcing exit")
				os.Exit(130)
			}
		case <-done:
			break waitLoop
		}
	}

	wg.Wait()
}
