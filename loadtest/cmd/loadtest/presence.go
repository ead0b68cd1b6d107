package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/whisper/realtime/loadtest/client"
	"github.com/whisper/realtime/loadtest/stats"
)

// runPresence measures broadcast fan-out. All users join one server and one
// text channel; every user sends typing_start at a fixed interval and the
// time until each peer sees the matching user_typing is recorded as message
// latency. A subset of users also joins a voice channel and toggles mute.
func runPresence(args []string) {
	fs := flag.NewFlagSet("presence", flag.ExitOnError)
	url := fs.String("url", "ws://localhost:8080/ws", "WebSocket server URL")
	users := fs.Int("users", 200, "Number of simulated users")
	voiceUsers := fs.Int("voice-users", 20, "Users that also join the voice channel")
	duration := fs.Duration("duration", 30*time.Second, "Duration of the typing phase")
	typeEvery := fs.Duration("type-interval", 6*time.Second, "Interval between typing_start events per user")
	serverID := fs.String("server", "loadtest", "Server id shared by all users")
	channelID := fs.String("channel", "loadtest-text", "Text channel id")
	voiceID := fs.String("voice", "loadtest-voice", "Voice channel id")
	userPrefix := fs.String("user-prefix", "pres", "Prefix of the generated user ids")
	metricsURL := fs.String("metrics-url", "http://localhost:8080/metrics", "Prometheus metrics endpoint URL")
	scrapeInterval := fs.Duration("scrape-interval", 2*time.Second, "Interval between metrics scrapes")
	fs.Parse(args)

	fmt.Printf("Presence test: %d users (%d in voice) to %s for %s\n", *users, *voiceUsers, *url, *duration)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := stats.NewCollector()
	scraper := stats.NewScraper(*metricsURL, *scrapeInterval)
	collector.SetScraper(scraper)
	scraper.Start(ctx)

	// sentAt holds the last typing_start send time per user id.
	var (
		sentMu sync.Mutex
		sentAt = make(map[string]time.Time)
	)
	// joinSentAt holds the voice_join send time per client until the roster
	// reply arrives.
	var (
		joinMu     sync.Mutex
		joinSentAt = make(map[*client.Client]time.Time)
	)

	// -----------------------------------------------------------------------
	// Connect phase
	// -----------------------------------------------------------------------
	fmt.Println("\n--- Connect phase ---")
	clients := make([]*client.Client, 0, *users)
	for i := 0; i < *users; i++ {
		if ctx.Err() != nil {
			break
		}
		connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		c, err := client.New(connCtx, userURL(*url, fmt.Sprintf("%s-%d", *userPrefix, i)))
		if err != nil {
			cancel()
			collector.Inc(stats.CountErrors)
			continue
		}

		c.On(client.TypeUserTyping, func(raw json.RawMessage) {
			var msg struct {
				UserID string `json:"user_id"`
			}
			if json.Unmarshal(raw, &msg) != nil {
				return
			}
			sentMu.Lock()
			t, ok := sentAt[msg.UserID]
			sentMu.Unlock()
			if ok {
				collector.Observe(stats.SeriesTyping, time.Since(t))
			}
			collector.Inc(client.TypeUserTyping)
		})
		c.On(client.TypeAllUsersInVoice, func(json.RawMessage) {
			joinMu.Lock()
			t, ok := joinSentAt[c]
			delete(joinSentAt, c)
			joinMu.Unlock()
			if ok {
				collector.Observe(stats.SeriesVoiceJoin, time.Since(t))
			}
		})
		for _, typ := range []string{client.TypeUserJoinedVoice, client.TypeUserMuted, client.TypeRateLimited} {
			typ := typ
			c.On(typ, func(json.RawMessage) { collector.Inc(typ) })
		}

		if err := c.WaitForConnected(connCtx); err != nil {
			cancel()
			collector.Inc(stats.CountErrors)
			c.Close()
			continue
		}
		cancel()
		collector.Inc(stats.CountConnections)
		collector.Observe(stats.SeriesConnect, c.GetMetrics().ConnectLatency)

		_ = c.Send(map[string]string{"type": client.TypeJoinServer, "server_id": *serverID})
		_ = c.Send(map[string]string{"type": client.TypeJoinChannel, "channel_id": *channelID})
		clients = append(clients, c)
	}
	fmt.Printf("Connected %d/%d users (%d errors)\n", len(clients), *users, collector.Count(stats.CountErrors))

	// -----------------------------------------------------------------------
	// Voice phase
	// -----------------------------------------------------------------------
	fmt.Println("\n--- Voice phase ---")
	for i, c := range clients {
		if i >= *voiceUsers {
			break
		}
		joinMu.Lock()
		joinSentAt[c] = time.Now()
		joinMu.Unlock()
		_ = c.Send(map[string]string{"type": client.TypeVoiceJoin, "server_id": *serverID, "channel_id": *voiceID})
		_ = c.Send(map[string]interface{}{"type": client.TypeVoiceMute, "channel_id": *voiceID, "muted": true})
	}

	// -----------------------------------------------------------------------
	// Typing phase
	// -----------------------------------------------------------------------
	fmt.Println("\n--- Typing phase ---")
	var wg sync.WaitGroup
	phaseCtx, cancelPhase := context.WithTimeout(ctx, *duration)
	defer cancelPhase()

	for i, c := range clients {
		wg.Add(1)
		go func(i int, c *client.Client) {
			defer wg.Done()
			// Spread the first event over the interval.
			offset := time.Duration(i) * *typeEvery / time.Duration(len(clients))
			select {
			case <-phaseCtx.Done():
				return
			case <-time.After(offset):
			}

			ticker := time.NewTicker(*typeEvery)
			defer ticker.Stop()
			for {
				sentMu.Lock()
				sentAt[c.UserID()] = time.Now()
				sentMu.Unlock()
				if err := c.Send(map[string]string{"type": client.TypeTypingStart, "channel_id": *channelID}); err != nil {
					collector.Inc(stats.CountErrors)
					return
				}
				select {
				case <-phaseCtx.Done():
					return
				case <-ticker.C:
				}
			}
		}(i, c)
	}

	progress := time.NewTicker(5 * time.Second)
	func() {
		defer progress.Stop()
		for {
			select {
			case <-phaseCtx.Done():
				return
			case <-progress.C:
				fmt.Printf("  [typing] received: %d  voice joins seen: %d  rate limited: %d\n",
					collector.Count(client.TypeUserTyping), collector.Count(client.TypeUserJoinedVoice),
					collector.Count(client.TypeRateLimited))
			}
		}
	}()
	wg.Wait()

	// -----------------------------------------------------------------------
	// Cleanup
	// -----------------------------------------------------------------------
	fmt.Println("\n--- Cleanup ---")
	for i, c := range clients {
		if i < *voiceUsers {
			_ = c.Send(map[string]string{"type": client.TypeVoiceLeave, "server_id": *serverID, "channel_id": *voiceID})
		}
		c.Close()
	}
	scraper.Stop()

	collector.Report()
}
