package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Victor-Danilov/parallel-computing/v1/rangelock"
)

var (
	concurrency = flag.Int("c", 50, "Number of concurrent workers")
	requests    = flag.Int("n", 100000, "Total number of lock/unlock pairs")
	length      = flag.Int("len", 1024, "Length of the guarded sequence")
	width       = flag.Int("w", 8, "Maximum width of each locked range")
	fifo        = flag.Bool("fifo", false, "Use FIFO fairness")
)

func main() {
	flag.Parse()
	if err := checkFlags(*concurrency, *length, *width); err != nil {
		log.Fatal(err)
	}

	log.Printf("Starting benchmark: %d lock/unlock pairs, %d workers, length %d, width <= %d, fifo %v",
		*requests, *concurrency, *length, *width, *fifo)

	var opts []rangelock.Option
	if *fifo {
		opts = append(opts, rangelock.WithFairness(rangelock.FIFO))
	}
	var blocks atomic.Int64
	opts = append(opts, rangelock.WithObserver(rangelock.ObserverFunc(func(e rangelock.Event) {
		if e.Kind == rangelock.EventBlock {
			blocks.Add(1)
		}
	})))
	m := rangelock.New(*length, opts...)

	var wg sync.WaitGroup
	var ops, errorsCount int64
	perWorker := *requests / *concurrency

	start := time.Now()
	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rnd := rand.New(rand.NewSource(seed))
			for j := 0; j < perWorker; j++ {
				from := rnd.Intn(*length - *width + 1)
				to := from + rnd.Intn(*width)
				if err := m.Lock(from, to); err != nil {
					atomic.AddInt64(&errorsCount, 1)
					continue
				}
				_ = m.Unlock(from, to)
				atomic.AddInt64(&ops, 1)
			}
		}(int64(i))
	}
	wg.Wait()
	elapsed := time.Since(start)

	log.Printf("Finished in %v", elapsed)
	log.Printf("Throughput: %.2f pairs/s", float64(ops)/elapsed.Seconds())
	log.Printf("Avg Latency: %.2f ns", elapsed.Seconds()/float64(ops)*1e9)
	log.Printf("Blocked requests: %d", blocks.Load())
	if errorsCount > 0 {
		log.Printf("Errors: %d", errorsCount)
	}
}

func checkFlags(concurrency, length, width int) error {
	if concurrency < 1 {
		return fmt.Errorf("-c must be at least 1")
	}
	if length < 1 {
		return fmt.Errorf("-len must be at least 1")
	}
	if width < 1 || width > length {
		return fmt.Errorf("-w must be between 1 and -len")
	}
	return nil
}
