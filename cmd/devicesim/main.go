package main

import (
	"context"
	"encoding/json"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"telemetryhub/config"
	"telemetryhub/internal/logger"
	"telemetryhub/internal/publisher"
	"telemetryhub/pkg/models"
)

func findConfigFile(configArg string) string {
	if configArg != "" {
		if _, err := os.Stat(configArg); err == nil {
			return configArg
		}
		log.Printf("Warning: config file not found at %s, trying default locations", configArg)
	}

	if _, err := os.Stat("devicesim.yml"); err == nil {
		return "devicesim.yml"
	}

	exePath, err := os.Executable()
	if err == nil {
		path := filepath.Join(filepath.Dir(exePath), "devicesim.yml")
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return "devicesim.yml"
}

func applyDefaults(cfg *config.DeviceConfig) {
	if cfg.Device.APIVersion == "" {
		cfg.Device.APIVersion = publisher.DefaultAPIVersion
	}
	if cfg.Device.SendInterval <= 0 {
		cfg.Device.SendInterval = 5 * time.Second
	}
	if cfg.Device.TokenTTL <= 0 {
		cfg.Device.TokenTTL = time.Hour
	}
	if cfg.Device.Retries <= 0 {
		cfg.Device.Retries = 5
	}
	if cfg.Device.Logging.Level == "" {
		cfg.Device.Logging.Level = "info"
	}
}

// buildSample generates one randomized reading: mostly-OK status, slight
// temperature and humidity drift, battery sagging from 90.
func buildSample(deviceID string) *models.TelemetrySample {
	statuses := []string{"OK", "OK", "OK", "WARN"}
	battery := 90 + int(rand.Float64()*12) - 12
	if battery < 0 {
		battery = 0
	}
	if battery > 100 {
		battery = 100
	}
	return &models.TelemetrySample{
		DeviceID:    deviceID,
		TS:          time.Now().Format(time.RFC3339),
		Temperature: round2(24 + rand.Float64()*10 - 2),
		Humidity:    round2(50 + rand.Float64()*17 - 5),
		Battery:     battery,
		Status:      statuses[rand.Intn(len(statuses))],
		Props:       map[string]string{"fw": "1.0.0", "site": "lab-A"},
	}
}

func round2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}

func main() {
	configArg := ""
	if len(os.Args) > 1 {
		configArg = os.Args[1]
	}
	configPath := findConfigFile(configArg)

	cfg, err := config.LoadDevice(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	applyDefaults(cfg)

	if strings.TrimSpace(cfg.Device.Host) == "" || strings.TrimSpace(cfg.Device.DeviceID) == "" {
		log.Fatalf("device.host and device.device_id are required")
	}
	if strings.TrimSpace(cfg.Device.DeviceKey) == "" {
		log.Fatalf("device.device_key is required")
	}

	if err := logger.Init(cfg.Device.Logging.Enabled, cfg.Device.Logging.Level, cfg.Device.Logging.File, cfg.Device.Logging.Console); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	logger.Infof("Device simulator starting (device=%s)", cfg.Device.DeviceID)
	logger.Infof("Config loaded from: %s", configPath)

	pub, err := publisher.New(publisher.Config{
		Host:          cfg.Device.Host,
		DeviceID:      cfg.Device.DeviceID,
		DeviceKey:     cfg.Device.DeviceKey,
		APIVersion:    cfg.Device.APIVersion,
		UseWebsockets: cfg.Device.Websockets,
		TokenTTL:      cfg.Device.TokenTTL,
		RenewMargin:   cfg.Device.RenewMargin,
		Retries:       cfg.Device.Retries,
	})
	if err != nil {
		log.Fatalf("Failed to create publisher: %v", err)
	}

	connectCtx, connectCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer connectCancel()
	if err := pub.Connect(connectCtx); err != nil {
		logger.Errorf("Failed to connect: %v", err)
		log.Fatalf("Failed to connect: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.Device.SendInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sigCh:
			logger.Infof("Shutting down")
			pub.Close()
			return
		case <-ticker.C:
			sample := buildSample(cfg.Device.DeviceID)
			ok := pub.Publish(sample)
			payload, _ := json.Marshal(sample)
			if ok {
				logger.Infof("[d2c:ok] %s", payload)
			} else {
				logger.Warnf("[d2c:fail] %s", payload)
			}
		}
	}
}
