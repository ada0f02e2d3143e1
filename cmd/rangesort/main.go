package main

import (
	"cmp"
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"strings"
	"time"

	sarama "github.com/IBM/sarama"
	nats "github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/sync/errgroup"

	"github.com/Victor-Danilov/parallel-computing/v1/eventbus"
	"github.com/Victor-Danilov/parallel-computing/v1/metrics"
	"github.com/Victor-Danilov/parallel-computing/v1/rangelock"
	"github.com/Victor-Danilov/parallel-computing/v1/sequence"
)

var (
	values       = flag.String("values", "5,3,8,4,2,7,1,6", "Comma separated integers to sort")
	parts        = flag.String("parts", "0-1,2-3,4-5,6-7", "Ranges sorted by separate workers")
	contend      = flag.String("contend", "", "Extra overlapping ranges to lock while the workers run")
	hold         = flag.Duration("hold", 50*time.Millisecond, "Time each worker keeps its range")
	fifo         = flag.Bool("fifo", false, "Grant overlapping waiters in arrival order")
	verbose      = flag.Bool("v", false, "Log every lock event")
	trace        = flag.Bool("trace", false, "Print OpenTelemetry spans to stdout")
	metricsAddr  = flag.String("metrics-addr", "", "Serve /metrics, /events and /events/ws on this address")
	linger       = flag.Duration("linger", 0, "Keep serving after sorting, until interrupted or elapsed")
	topic        = flag.String("topic", "rangelock.events", "Event stream topic")
	redisAddr    = flag.String("redis-addr", "", "Publish events to Redis streams at this address")
	natsURL      = flag.String("nats-url", "", "Publish events to NATS at this URL")
	kafkaBrokers = flag.String("kafka-brokers", "", "Publish events to these Kafka brokers")
)

func main() {
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	input, err := parseInts(*values)
	if err != nil {
		log.Fatalf("invalid -values: %v", err)
	}
	workers, err := rangelock.ParseRanges(*parts)
	if err != nil {
		log.Fatalf("invalid -parts: %v", err)
	}
	contenders, err := rangelock.ParseRanges(*contend)
	if err != nil {
		log.Fatalf("invalid -contend: %v", err)
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	opts := []rangelock.Option{rangelock.WithLogger(logger)}
	if *fifo {
		opts = append(opts, rangelock.WithFairness(rangelock.FIFO))
	}
	if *verbose {
		opts = append(opts, rangelock.WithObserver(rangelock.ObserverFunc(func(e rangelock.Event) {
			logger.Debug("lock event", "kind", e.Kind.String(), "range", e.Range.String(),
				"waiters", e.Waiters, "held", e.Held, "waited", e.Waited)
		})))
	}

	if *trace {
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			log.Fatal(err)
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
		defer func() { _ = tp.Shutdown(context.Background()) }()
		otel.SetTracerProvider(tp)
		opts = append(opts, rangelock.WithTracing())
	}

	bus, closeBus, err := newBus()
	if err != nil {
		log.Fatalf("event bus: %v", err)
	}
	defer closeBus()
	fwd := eventbus.NewForwarder(bus, *topic, eventbus.WithForwarderLogger(logger))
	opts = append(opts, rangelock.WithObserver(fwd))

	if *metricsAddr != "" {
		reg := metrics.NewRegistry()
		opts = append(opts, rangelock.WithObserver(metrics.NewCollector(reg)))
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		mux.Handle("/events", eventbus.SSEHandler(bus))
		mux.Handle("/events/ws", eventbus.WebSocketHandler(bus))
		srv := &http.Server{Addr: *metricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatal(err)
			}
		}()
		defer func() { _ = srv.Close() }()
	}

	seq := sequence.FromSlice(input, opts...)
	fmt.Println("Initial array:", format(input))

	start := time.Now()
	if err := run(ctx, seq, workers, contenders); err != nil {
		log.Fatalf("sort: %v", err)
	}
	out, err := seq.Snapshot(ctx)
	if err != nil {
		log.Fatalf("snapshot: %v", err)
	}
	fmt.Println("Final sorted array:", format(out))
	logger.Info("done", "elapsed", time.Since(start))

	if err := fwd.Close(); err != nil {
		logger.Warn("closing forwarder", "error", err)
	}
	stats := fwd.Stats()
	logger.Info("events forwarded", "published", stats.Published, "dropped", stats.Dropped, "failed", stats.Failed)

	if *linger > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(*linger):
		}
	}
}

// run sorts each worker range concurrently, lets the contenders lock their
// ranges meanwhile, and finishes with a sort of the whole sequence.
func run(ctx context.Context, seq *sequence.Sequence[int], workers, contenders []rangelock.Range) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, r := range workers {
		g.Go(func() error {
			return seq.With(gctx, r.From, r.To, func(view []int) error {
				log.Printf("sorting segment %s", r)
				time.Sleep(*hold)
				slices.Sort(view)
				return nil
			})
		})
	}
	for _, r := range contenders {
		g.Go(func() error {
			return seq.With(gctx, r.From, r.To, func(view []int) error {
				log.Printf("contender holds %s: %s", r, format(view))
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	log.Printf("sorting the entire array to finalize")
	return seq.SortRange(ctx, 0, seq.Len()-1, cmp.Compare[int])
}

func newBus() (eventbus.Bus, func(), error) {
	switch {
	case *redisAddr != "":
		client := redis.NewClient(&redis.Options{Addr: *redisAddr})
		return eventbus.NewRedis(client, eventbus.WithMaxLen(10000)), func() { _ = client.Close() }, nil
	case *natsURL != "":
		conn, err := nats.Connect(*natsURL)
		if err != nil {
			return nil, nil, err
		}
		return eventbus.NewNATS(conn), conn.Close, nil
	case *kafkaBrokers != "":
		bus, err := eventbus.NewKafka(strings.Split(*kafkaBrokers, ","), sarama.NewConfig())
		if err != nil {
			return nil, nil, err
		}
		return bus, func() { _ = bus.Close() }, nil
	default:
		return eventbus.NewInMemory(), func() {}, nil
	}
}

func parseInts(s string) ([]int, error) {
	var out []int
	for _, f := range strings.Split(s, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		v, err := strconv.Atoi(f)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no values")
	}
	return out, nil
}

func format(vs []int) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, " ")
}
