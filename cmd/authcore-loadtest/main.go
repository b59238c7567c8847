// Command authcore-loadtest drives the session store with concurrent reads
// and refresh rotations, and checks that concurrent presentations of one
// refresh token produce exactly one winner.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/lendloop/authcore/session"
)

type sessionState struct {
	userID string
	sid    string
	token  string
	mu     sync.Mutex
}

func main() {
	var (
		sessions    = flag.Int("sessions", 10000, "number of sessions to seed")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 100000, "operations per phase (get + rotate)")
		raceRounds  = flag.Int("race-rounds", 200, "sessions hit by concurrent presentations of one token")
		racers      = flag.Int("racers", 16, "concurrent presenters per race round")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "as", "session key prefix")
	)
	flag.Parse()

	if *sessions <= 0 || *concurrency <= 0 || *ops <= 0 || *racers <= 1 {
		fmt.Fprintln(os.Stderr, "sessions, concurrency and ops must be > 0 and racers > 1")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	store := session.NewStore(client, *prefix, time.Now)

	fmt.Printf("seeding %d sessions...\n", *sessions)
	startSeed := time.Now()
	states, err := seed(ctx, store, *sessions)
	if err != nil {
		fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	getStats := runGetPhase(ctx, store, states, *ops, *concurrency)
	rotateStats := runRotatePhase(ctx, store, states, *ops, *concurrency)
	race := runRacePhase(ctx, store, states, *raceRounds, *racers)

	fmt.Println("---- results ----")
	printStats("get", getStats)
	printStats("rotate", rotateStats)
	fmt.Printf("race: rounds=%d racers=%d single_winner=%d violations=%d\n",
		race.rounds, *racers, race.singleWinner, race.violations)

	if race.violations > 0 {
		os.Exit(1)
	}
}

func seed(ctx context.Context, store *session.Store, n int) ([]*sessionState, error) {
	states := make([]*sessionState, n)
	for i := 0; i < n; i++ {
		userID := fmt.Sprintf("u%d", i%1000)
		sess, err := store.Create(ctx, session.NewSession{UserID: userID, DeviceID: uuid.NewString(), IP: "127.0.0.1"})
		if err != nil {
			return nil, err
		}
		token := uuid.NewString()
		if err := store.Rotate(ctx, userID, sess.ID, token); err != nil {
			return nil, err
		}
		states[i] = &sessionState{userID: userID, sid: sess.ID, token: token}
	}
	return states, nil
}

func runGetPhase(ctx context.Context, store *session.Store, states []*sessionState, ops, concurrency int) phaseStats {
	return runPhase(ops, concurrency, 7919, func(r *rand.Rand, _ int) error {
		_, err := store.Get(ctx, states[r.Intn(len(states))].sid)
		return err
	})
}

func runRotatePhase(ctx context.Context, store *session.Store, states []*sessionState, ops, concurrency int) phaseStats {
	return runPhase(ops, concurrency, 6151, func(r *rand.Rand, _ int) error {
		state := states[r.Intn(len(states))]
		state.mu.Lock()
		defer state.mu.Unlock()

		next := uuid.NewString()
		if err := store.ValidateAndRotate(ctx, state.userID, state.sid, state.token, next); err != nil {
			return err
		}
		state.token = next
		return nil
	})
}

func runPhase(ops, concurrency int, seedSalt int64, op func(r *rand.Rand, i int) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*seedSalt))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				err := op(r, i)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

type raceResult struct {
	rounds       int
	singleWinner int
	violations   int
}

// runRacePhase presents the same refresh token from many goroutines at once.
// Exactly one may rotate; the rest must see the session as revoked.
func runRacePhase(ctx context.Context, store *session.Store, states []*sessionState, rounds, racers int) raceResult {
	if rounds > len(states) {
		rounds = len(states)
	}
	res := raceResult{rounds: rounds}

	for i := 0; i < rounds; i++ {
		state := states[i]
		var (
			wg      sync.WaitGroup
			winners int64
			bad     int64
			start   = make(chan struct{})
		)
		for j := 0; j < racers; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				err := store.ValidateAndRotate(ctx, state.userID, state.sid, state.token, uuid.NewString())
				switch {
				case err == nil:
					atomic.AddInt64(&winners, 1)
				case !errors.Is(err, session.ErrRevoked):
					atomic.AddInt64(&bad, 1)
				}
			}()
		}
		close(start)
		wg.Wait()

		if winners == 1 && bad == 0 {
			res.singleWinner++
		} else {
			res.violations++
		}
	}
	return res
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
