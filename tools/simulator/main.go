// Command simulator pushes randomized tank readings to a running service
// over the query-parameter write endpoint, at a fixed interval.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type config struct {
	baseURL  string
	channel  string
	apiKey   string
	interval time.Duration
	count    int
}

// baseline reading per field; each send deviates by up to +/- deviation.
var standardValues = map[string]float64{
	"temp":     25.0,
	"humidity": 60.0,
	"level":    100.0,
	"ph":       7.0,
	"pressure": 1010.0,
}

const deviation = 10.0

func main() {
	cfg := parseConfig()
	if cfg.channel == "" || cfg.apiKey == "" {
		log.Fatal("channel and api-key are required")
	}

	log.Printf("simulator started for channel %q, interval %s", cfg.channel, cfg.interval)
	sent := 0
	for {
		if err := sendReading(cfg); err != nil {
			log.Printf("send error: %v", err)
		}
		sent++
		if cfg.count > 0 && sent >= cfg.count {
			return
		}
		time.Sleep(cfg.interval)
	}
}

func parseConfig() config {
	var cfg config
	flag.StringVar(&cfg.baseURL, "base-url", "http://localhost:8080", "service base URL")
	flag.StringVar(&cfg.channel, "channel", "", "channel name")
	flag.StringVar(&cfg.apiKey, "api-key", "", "channel API key")
	flag.DurationVar(&cfg.interval, "interval", time.Minute, "send interval")
	flag.IntVar(&cfg.count, "count", 0, "number of readings to send (0 = forever)")
	flag.Parse()
	return cfg
}

func sendReading(cfg config) error {
	params := url.Values{}
	params.Set("api_key", cfg.apiKey)
	for field, standard := range standardValues {
		params.Set(field, fmt.Sprintf("%.2f", randomValue(field, standard)))
	}

	endpoint := fmt.Sprintf("%s/channels/%s/update?%s",
		strings.TrimRight(cfg.baseURL, "/"), url.PathEscape(cfg.channel), params.Encode())
	resp, err := http.Get(endpoint)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	log.Printf("sent: %s", strings.TrimSpace(string(body)))
	return nil
}

func randomValue(field string, standard float64) float64 {
	min := standard - deviation
	max := standard + deviation
	switch field {
	case "ph":
		if min < 0 {
			min = 0
		}
		if max > 14 {
			max = 14
		}
	case "level":
		if min < 0 {
			min = 0
		}
	}
	return min + rand.Float64()*(max-min)
}
