// Package stats aggregates what load test clients observe: named latency
// series (connect, typing fan-out, voice join) and event counters. Report
// prints them next to the server-side view collected by a Scraper.
package stats

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"
)

// Well-known series and counter names.
const (
	SeriesConnect    = "connect"
	SeriesTyping     = "user_typing"
	SeriesVoiceJoin  = "voice_join"
	CountConnections = "connections"
	CountErrors      = "errors"
)

// Collector is safe for use from many client goroutines.
type Collector struct {
	mu        sync.Mutex
	start     time.Time
	latencies map[string][]time.Duration
	series    []string // first-seen order, for a stable report
	counts    map[string]int64
	scraper   *Scraper
}

// NewCollector starts the run clock.
func NewCollector() *Collector {
	return &Collector{
		start:     time.Now(),
		latencies: make(map[string][]time.Duration),
		counts:    make(map[string]int64),
	}
}

// SetScraper attaches a Prometheus scraper whose report follows ours.
func (c *Collector) SetScraper(s *Scraper) {
	c.mu.Lock()
	c.scraper = s
	c.mu.Unlock()
}

// Observe adds a latency sample to series.
func (c *Collector) Observe(series string, d time.Duration) {
	c.mu.Lock()
	if _, ok := c.latencies[series]; !ok {
		c.series = append(c.series, series)
	}
	c.latencies[series] = append(c.latencies[series], d)
	c.mu.Unlock()
}

// Inc bumps counter by one.
func (c *Collector) Inc(counter string) {
	c.mu.Lock()
	c.counts[counter]++
	c.mu.Unlock()
}

// Count returns the current value of counter.
func (c *Collector) Count(counter string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[counter]
}

// Summary is the percentile view of one series.
type Summary struct {
	N                       int
	Avg, P50, P95, P99, Max time.Duration
}

// Summarize returns the percentiles of series; N is zero when it has no
// samples.
func (c *Collector) Summarize(series string) Summary {
	c.mu.Lock()
	samples := append([]time.Duration(nil), c.latencies[series]...)
	c.mu.Unlock()
	return summarize(samples)
}

func summarize(samples []time.Duration) Summary {
	n := len(samples)
	if n == 0 {
		return Summary{}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })

	var sum time.Duration
	for _, d := range samples {
		sum += d
	}
	return Summary{
		N:   n,
		Avg: sum / time.Duration(n),
		P50: samples[n/2],
		P95: samples[rank(n, 0.95)],
		P99: samples[rank(n, 0.99)],
		Max: samples[n-1],
	}
}

func rank(n int, q float64) int {
	return int(math.Ceil(float64(n)*q)) - 1
}

// Report prints counters, then one line per latency series, then the
// scraper's report if one is attached.
func (c *Collector) Report() {
	c.mu.Lock()
	elapsed := time.Since(c.start)
	names := make([]string, 0, len(c.counts))
	for name := range c.counts {
		names = append(names, name)
	}
	sort.Strings(names)
	counts := make(map[string]int64, len(c.counts))
	for k, v := range c.counts {
		counts[k] = v
	}
	series := append([]string(nil), c.series...)
	scraper := c.scraper
	c.mu.Unlock()

	fmt.Println("\n=== Load Test Results ===")
	fmt.Printf("Duration:  %s\n", elapsed.Round(time.Second))
	for _, name := range names {
		fmt.Printf("%-22s %d\n", name+":", counts[name])
	}
	if conns := counts[CountConnections]; conns > 0 {
		fmt.Printf("%-22s %.2f%%\n", "error rate:", float64(counts[CountErrors])/float64(conns)*100)
	}

	for _, name := range series {
		s := c.Summarize(name)
		fmt.Printf("\n--- %s latency ---\n", name)
		fmt.Printf("  avg: %v  p50: %v  p95: %v  p99: %v  max: %v  (n=%d)\n",
			s.Avg.Round(time.Microsecond), s.P50.Round(time.Microsecond),
			s.P95.Round(time.Microsecond), s.P99.Round(time.Microsecond),
			s.Max.Round(time.Microsecond), s.N)
	}

	if scraper != nil {
		scraper.Report()
	}
	fmt.Println()
}
