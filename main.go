package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	channelapp "watertank-cloud/internal/channel/application"
	channelrepo "watertank-cloud/internal/channel/infrastructure/postgres"
	channelhttp "watertank-cloud/internal/channel/interfaces/http"
	"watertank-cloud/internal/observability/metrics"
	telemetryapp "watertank-cloud/internal/telemetry/application"
	telemetryrepo "watertank-cloud/internal/telemetry/infrastructure/postgres"
	telemetrycoap "watertank-cloud/internal/telemetry/interfaces/coap"
	telemetryhttp "watertank-cloud/internal/telemetry/interfaces/http"
	telemetrymqtt "watertank-cloud/internal/telemetry/interfaces/mqtt"

	_ "github.com/jackc/pgx/v5/stdlib"
	coap "github.com/plgd-dev/go-coap/v3"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/yaml.v3"
)

func main() {
	cfg := loadConfig()
	logger := log.New(os.Stdout, "", log.LstdFlags)

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("db open error: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatalf("db ping error: %v", err)
	}

	metrics.Init(db, logger)

	channelRepo := channelrepo.NewChannelRepository(db)
	recordRepo := telemetryrepo.NewRecordRepository(db)
	recordQuery := telemetryrepo.NewRecordQuery(db)

	registry, err := channelapp.NewRegistryService(channelRepo, recordRepo, logger)
	if err != nil {
		logger.Fatalf("registry service error: %v", err)
	}
	pipeline, err := telemetryapp.NewPipeline(channelRepo, recordRepo, logger)
	if err != nil {
		logger.Fatalf("ingest pipeline error: %v", err)
	}
	queryService, err := telemetryapp.NewQueryService(channelRepo, recordQuery)
	if err != nil {
		logger.Fatalf("query service error: %v", err)
	}

	dataHandler, err := telemetryhttp.NewHandler(pipeline, queryService, registry, logger)
	if err != nil {
		logger.Fatalf("data handler error: %v", err)
	}
	channelHandler, err := channelhttp.NewHandler(registry, dataHandler)
	if err != nil {
		logger.Fatalf("channel handler error: %v", err)
	}

	coapHandler, err := telemetrycoap.NewHandler(pipeline, queryService, logger)
	if err != nil {
		logger.Fatalf("coap handler error: %v", err)
	}
	go func() {
		logger.Printf("coap listening on %s", cfg.CoAPAddr)
		if err := coap.ListenAndServe("udp", cfg.CoAPAddr, coapHandler.Router()); err != nil {
			logger.Printf("coap server error: %v", err)
		}
	}()

	if cfg.MQTT.BrokerURL != "" {
		consumer, err := telemetrymqtt.NewConsumer(pipeline, logger,
			telemetrymqtt.WithQueueSize(cfg.MQTT.QueueSize),
			telemetrymqtt.WithWorkers(cfg.MQTT.Workers),
			telemetrymqtt.WithRequireAPIKey(cfg.MQTT.RequireAPIKey),
		)
		if err != nil {
			logger.Fatalf("mqtt consumer error: %v", err)
		}
		consumer.Start(context.Background())

		client, err := telemetrymqtt.Connect(telemetrymqtt.ClientConfig{
			BrokerURL: cfg.MQTT.BrokerURL,
			ClientID:  cfg.MQTT.ClientID,
			Username:  cfg.MQTT.Username,
			Password:  cfg.MQTT.Password,
			Topic:     cfg.MQTT.Topic,
		}, consumer, logger)
		if err != nil {
			logger.Fatalf("mqtt connect error: %v", err)
		}
		defer client.Disconnect(250)
	} else {
		logger.Printf("mqtt disabled: no broker configured")
	}

	mux := http.NewServeMux()
	mux.Handle("/channels", channelHandler)
	mux.Handle("/channels/", channelHandler)
	mux.Handle("/data/", dataHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: loggingMiddleware(mux, logger)}
	logger.Printf("http listening on %s", cfg.HTTPAddr)
	logger.Fatal(server.ListenAndServe())
}

type mqttConfig struct {
	BrokerURL     string `yaml:"broker_url"`
	ClientID      string `yaml:"client_id"`
	Username      string `yaml:"username"`
	Password      string `yaml:"password"`
	Topic         string `yaml:"topic"`
	RequireAPIKey bool   `yaml:"require_api_key"`
	QueueSize     int    `yaml:"queue_size"`
	Workers       int    `yaml:"workers"`
}

type config struct {
	DatabaseURL string     `yaml:"database_url"`
	HTTPAddr    string     `yaml:"http_addr"`
	CoAPAddr    string     `yaml:"coap_addr"`
	MQTT        mqttConfig `yaml:"mqtt"`
}

// loadConfig reads env defaults, then overlays the optional YAML file named
// by WATERTANK_CONFIG.
func loadConfig() config {
	cfg := config{
		DatabaseURL: getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:    getenvDefault("HTTP_ADDR", ":8080"),
		CoAPAddr:    getenvDefault("COAP_ADDR", ":5683"),
		MQTT: mqttConfig{
			BrokerURL:     getenvDefault("MQTT_BROKER_URL", ""),
			ClientID:      getenvDefault("MQTT_CLIENT_ID", "watertank-cloud"),
			Username:      os.Getenv("MQTT_USERNAME"),
			Password:      os.Getenv("MQTT_PASSWORD"),
			Topic:         getenvDefault("MQTT_TOPIC", telemetrymqtt.DefaultTopic),
			RequireAPIKey: getenvBoolDefault("MQTT_REQUIRE_API_KEY", false),
			QueueSize:     getenvIntDefault("MQTT_QUEUE_SIZE", 256),
			Workers:       getenvIntDefault("MQTT_WORKERS", 2),
		},
	}

	if path := os.Getenv("WATERTANK_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			log.Fatalf("config read error: %v", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			log.Fatalf("config parse error: %v", err)
		}
	}

	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL or PG_DSN is required")
	}
	return cfg
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBoolDefault(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
