package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/davidarico/dungeon-crawler-chris-sub000/client"
	"github.com/davidarico/dungeon-crawler-chris-sub000/domain"
)

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

// live-load opens LIVE_CONNECTIONS player channels against one game and,
// when UPDATES_URL is set, posts synthetic changes for those players.
func main() {
	wsURL := getenv("LIVE_URL", "ws://localhost:9100/ws")
	conns := getenvInt("LIVE_CONNECTIONS", 200)
	duration := time.Duration(getenvInt("DURATION_SEC", 120)) * time.Second
	bearer := os.Getenv("TEST_BEARER")
	gameID := getenv("GAME_ID", uuid.NewString())
	updatesURL := os.Getenv("UPDATES_URL")
	updatesToken := os.Getenv("UPDATES_TOKEN")
	interval := time.Duration(getenvInt("PUBLISH_INTERVAL_MS", 250)) * time.Millisecond

	logger := log.New()
	logger.SetLevel(log.WarnLevel)

	var events, connects, disconnects uint64

	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	header := http.Header{}
	if bearer != "" {
		header.Set("Authorization", "Bearer "+bearer)
	}

	players := make([]string, conns)
	var wg sync.WaitGroup
	wg.Add(conns)
	for i := range conns {
		players[i] = uuid.NewString()
		ch := client.NewPlayerChannel(wsURL, players[i], client.Options{
			Header:   header,
			Logger:   logger,
			Debounce: -1,
			OnEvent: func(domain.ChangeEvent) {
				atomic.AddUint64(&events, 1)
			},
			OnStatus: func(connected bool) {
				if connected {
					atomic.AddUint64(&connects, 1)
				} else {
					atomic.AddUint64(&disconnects, 1)
				}
			},
		})
		go func() {
			defer wg.Done()
			defer ch.Close()
			ch.Run(ctx)
		}()
	}

	var published, publishFailures uint64
	if updatesURL != "" {
		go func() {
			httpClient := &http.Client{Timeout: 5 * time.Second}
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for i := 0; ; i++ {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
				}
				if err := postUpdate(ctx, httpClient, updatesURL, updatesToken, players[i%len(players)], gameID); err != nil {
					atomic.AddUint64(&publishFailures, 1)
					continue
				}
				atomic.AddUint64(&published, 1)
			}
		}()
	}

	go func() {
		select {
		case <-time.After(60 * time.Second):
			if atomic.LoadUint64(&connects) == 0 {
				fmt.Println("no connections established in 60s")
				os.Exit(1)
			}
		case <-ctx.Done():
		}
	}()

	wg.Wait()
	eventsVal := atomic.LoadUint64(&events)
	fmt.Printf("connections=%d duration_sec=%d connects=%d disconnects=%d published=%d publish_failures=%d events_received=%d\n",
		conns, int(duration.Seconds()), atomic.LoadUint64(&connects), atomic.LoadUint64(&disconnects),
		atomic.LoadUint64(&published), atomic.LoadUint64(&publishFailures), eventsVal)
	if updatesURL != "" && eventsVal == 0 {
		os.Exit(1)
	}
}

func postUpdate(ctx context.Context, c *http.Client, url, token, playerID, gameID string) error {
	body, err := sonic.Marshal(domain.ChangeEvent{
		EntityID:         playerID,
		GameID:           gameID,
		ChangeType:       domain.ChangeUpdate,
		AffectedRelation: domain.RelationPlayer,
		Timestamp:        domain.NewTimestamp(),
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("updates returned %d", resp.StatusCode)
	}
	return nil
}
