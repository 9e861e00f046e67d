// Command leagueauth-loadtest measures session-store throughput: the
// validate phase hammers random session reads the way request
// middleware does, and the churn phase cycles save/delete pairs the
// way login and logout do. Without -redis-addr it runs against an
// embedded miniredis, which measures codec and client overhead rather
// than real network latency.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/openleague/leagueauth/session"
)

func main() {
	var (
		sessions    = flag.Int("sessions", 100000, "number of sessions to seed")
		users       = flag.Int("users", 1000, "distinct users owning the sessions")
		concurrency = flag.Int("concurrency", 256, "concurrent workers")
		ops         = flag.Int("ops", 200000, "operations per phase")
		redisAddr   = flag.String("redis-addr", "", "redis address; empty runs embedded miniredis")
		prefix      = flag.String("prefix", "ls", "session key prefix")
		sliding     = flag.Bool("sliding", true, "renew TTLs on read, as the engine does by default")
	)
	flag.Parse()

	if *sessions <= 0 || *users <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "sessions, users, concurrency and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		client  redis.UniversalClient
		cleanup func()
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() {
			client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() { client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	store := session.NewStore(client, *prefix, *sliding, 0)

	fmt.Printf("seeding %d sessions across %d users...\n", *sessions, *users)
	ids := make([]string, *sessions)
	startSeed := time.Now()
	for i := range ids {
		ids[i] = fmt.Sprintf("sid-%d", i)
		if err := store.Save(ctx, buildSession(ids[i], i%*users)); err != nil {
			fmt.Fprintf(os.Stderr, "seed save: %v\n", err)
			os.Exit(1)
		}
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	validateStats := runValidatePhase(ctx, store, ids, *ops, *concurrency)
	churnStats := runChurnPhase(ctx, store, *users, *ops, *concurrency)

	fmt.Println("---- results ----")
	printStats("validate", validateStats)
	printStats("churn", churnStats)
}

const loadOrg = "org-load"

func buildSession(sid string, user int) *session.Session {
	now := time.Now()
	return &session.Session{
		ID:        sid,
		UserID:    fmt.Sprintf("u-%d", user),
		OrgID:     loadOrg,
		Role:      "viewer",
		IP:        "198.51.100.7",
		CreatedAt: now.Unix(),
		ExpiresAt: now.Add(24 * time.Hour).Unix(),
	}
}

// runValidatePhase measures the per-request middleware read: random
// session lookups, with sliding renewal writes when enabled.
func runValidatePhase(ctx context.Context, store *session.Store, ids []string, ops, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		mu        sync.Mutex
		latencies = make([]time.Duration, 0, ops)
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				if int(atomic.AddInt64(&cursor, 1)) > ops {
					return
				}
				sid := ids[r.Intn(len(ids))]
				t0 := time.Now()
				_, err := store.Get(ctx, loadOrg, sid)
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

// runChurnPhase measures the login/logout write path: each operation
// saves a fresh session and deletes it again, touching the per-user
// index both ways.
func runChurnPhase(ctx context.Context, store *session.Store, users, ops, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		mu        sync.Mutex
		latencies = make([]time.Duration, 0, ops)
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*6151))
			for {
				i := int(atomic.AddInt64(&cursor, 1))
				if i > ops {
					return
				}
				sess := buildSession(fmt.Sprintf("churn-%d-%d", worker, i), r.Intn(users))
				t0 := time.Now()
				err := store.Save(ctx, sess)
				if err == nil {
					err = store.Delete(ctx, loadOrg, sess.ID)
				}
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
