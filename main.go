package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/nimdanitro/wavinhome-scraper-go/pkg/wavinhome"
	"github.com/spf13/pflag"
	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.20.0"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	username    string
	password    string
	baseURL     string
	interval    time.Duration
	setSpec     string
	metricsAddr string
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Parse command line flags
	pflag.StringVarP(&username, "username", "u", os.Getenv("WAVINHOME_USERNAME"), "MyWavinHome account username")
	pflag.StringVarP(&password, "password", "p", os.Getenv("WAVINHOME_PASSWORD"), "MyWavinHome account password")
	pflag.StringVar(&baseURL, "base-url", os.Getenv("WAVINHOME_BASE_URL"), "Override the portal base URL")
	pflag.DurationVarP(&interval, "interval", "i", 10*time.Minute, "Poll interval")
	pflag.StringVar(&setSpec, "set", "", "One-shot setpoint change, roomId=temperature (e.g. 9130575=21.5)")
	pflag.StringVar(&metricsAddr, "metrics-addr", ":2112", "Prometheus scrape endpoint address")
	pflag.Parse()

	// Setup Otel
	shutdown, err := setupOTelSDK(ctx, metricsAddr)
	defer shutdown(ctx)
	if err != nil {
		panic(err)
	}

	// Initialize logger
	core := zapcore.NewTee(
		zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), zapcore.AddSync(os.Stdout), zapcore.DebugLevel),
		otelzap.NewCore("github.com/nimdanitro/wavinhome-scraper-go", otelzap.WithLoggerProvider(global.GetLoggerProvider())),
	)
	logger := zap.New(core)
	defer logger.Sync()
	logger.Info("starting up", zap.String("version", version), zap.String("commit", commit), zap.String("buildDate", date))

	if username == "" || password == "" {
		fmt.Println("Please specify portal credentials with --username/--password or WAVINHOME_USERNAME/WAVINHOME_PASSWORD")
		return
	}

	// create the client
	opts := []wavinhome.Option{wavinhome.WithLogger(logger)}
	if baseURL != "" {
		opts = append(opts, wavinhome.WithBaseURL(baseURL))
	}
	client, err := wavinhome.New(username, password, opts...)
	if err != nil {
		logger.Fatal("cannot create client", zap.Error(err))
	}
	defer client.Close()

	if setSpec != "" {
		code := runSet(ctx, logger, client, setSpec)
		client.Close()
		logger.Sync()
		shutdown(ctx)
		os.Exit(code)
	}

	// Initialize metrics
	meter := otel.Meter(
		"github.com/nimdanitro/wavinhome-scraper-go",
		metric.WithInstrumentationAttributes(semconv.OTelScopeName("github.com/nimdanitro/wavinhome-scraper-go")),
	)
	temperature, _ := meter.Float64Gauge("room.temperature",
		metric.WithUnit("°C"),
		metric.WithDescription("Room temperature in degrees Celsius"),
	)

	humidity, _ := meter.Float64Gauge("room.humidity",
		metric.WithUnit("%rH"),
		metric.WithDescription("Room relative humidity as a percentage"),
	)

	targetTemperature, _ := meter.Float64Gauge("room.target_temperature",
		metric.WithUnit("°C"),
		metric.WithDescription("Room target temperature in degrees Celsius"),
	)

	readRooms := func() {
		logger.Info("fetching data from the portal")
		rooms, err := client.Refresh(ctx)
		if err != nil {
			logger.Error("Failed to fetch data", zap.Error(err))
			return
		}

		for id, room := range rooms {
			logger.Info("Fetched room",
				zap.String("roomId", id),
				zap.String("name", room.Name),
				zap.String("temperature", room.Temperature),
				zap.String("humidity", room.Humidity),
				zap.String("targetTemperature", room.TargetTemperature),
				zap.Boolp("heatingOn", room.HeatingOn),
				zap.Boolp("coolingOn", room.CoolingOn),
				zap.Boolp("dayOn", room.DayOn),
				zap.Boolp("nightOn", room.NightOn),
			)
			attrs := metric.WithAttributes(
				attribute.String("room.id", id),
				attribute.String("room.name", room.Name),
			)
			if v, err := strconv.ParseFloat(room.Temperature, 64); err == nil {
				temperature.Record(ctx, v, attrs)
			}
			if v, err := strconv.ParseFloat(room.Humidity, 64); err == nil {
				humidity.Record(ctx, v, attrs)
			}
			if v, err := strconv.ParseFloat(room.TargetTemperature, 64); err == nil {
				targetTemperature.Record(ctx, v, attrs)
			}
		}
	}

	readRooms()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			readRooms()
		case <-ctx.Done():
			return
		}
	}
}

// runSet performs a one-shot setpoint change and maps the outcome to an
// exit code: 0 for applied/unchanged, 1 for failures, 2 when the room's
// page does not support the change.
func runSet(ctx context.Context, logger *zap.Logger, client *wavinhome.Client, spec string) int {
	roomID, tempStr, ok := strings.Cut(spec, "=")
	if !ok || roomID == "" {
		logger.Error("invalid --set value, expected roomId=temperature", zap.String("set", spec))
		return 1
	}
	target, err := strconv.ParseFloat(tempStr, 64)
	if err != nil {
		logger.Error("invalid --set temperature", zap.String("set", spec), zap.Error(err))
		return 1
	}

	result, err := client.SetTargetTemperature(ctx, roomID, target)
	if err != nil {
		logger.Error("setpoint change failed", zap.String("roomId", roomID), zap.Error(err))
		return 1
	}
	logger.Info("setpoint change finished",
		zap.String("roomId", roomID),
		zap.Float64("target", target),
		zap.Stringer("result", result),
	)
	if result == wavinhome.SetUnsupported {
		return 2
	}
	return 0
}
