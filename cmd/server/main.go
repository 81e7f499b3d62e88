package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/real-rm/goconfig"
	"github.com/real-rm/golog"
	"github.com/real-rm/gomongo"

	"github.com/delfinzap/realtime"
	"github.com/delfinzap/realtime/internal/constants"
)

// shutdownTimeout bounds graceful shutdown of HTTP and WebSocket connections
const shutdownTimeout = 30 * time.Second

// loadConfiguration loads the configuration and returns the config accessor
func loadConfiguration() (*goconfig.ConfigAccessor, error) {
	if err := goconfig.LoadConfig(); err != nil {
		return nil, err
	}

	cfg, err := goconfig.Default()
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// initializeLogger initializes the logger with the given configuration
func initializeLogger(cfg *goconfig.ConfigAccessor) (*golog.Logger, error) {
	logDir, _ := cfg.ConfigStringWithDefault("log.dir", constants.DefaultLogDir)
	logLevel, _ := cfg.ConfigStringWithDefault("log.level", constants.DefaultLogLevel)
	standardOutput, _ := cfg.ConfigBoolWithDefault("log.standardOutput", true)

	logger, err := golog.InitLog(golog.LogConfig{
		Dir:            logDir,
		Level:          logLevel,
		StandardOutput: standardOutput,
		InfoFile:       "info.log",
		WarnFile:       "warn.log",
		ErrorFile:      "error.log",
	})
	if err != nil {
		return nil, err
	}

	return logger, nil
}

// setupSignalHandler sets up signal handling for graceful shutdown
func setupSignalHandler() chan os.Signal {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	return sigChan
}

// NewHTTPServer creates an HTTP server with production-safe timeout defaults.
// WriteTimeout stays generous because WebSocket connections hold the response
// stream for their whole lifetime.
func NewHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:        addr,
		Handler:     handler,
		ReadTimeout: constants.HTTPReadTimeout,
		IdleTimeout: constants.HTTPIdleTimeout,
	}
}

// runWithSignalChannel is a testable version of run that accepts a signal channel
func runWithSignalChannel(sigChan chan os.Signal) error {
	// Load configuration
	cfg, err := loadConfiguration()
	if err != nil {
		return err
	}

	// Initialize logger
	logger, err := initializeLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Close()

	// Connect to MongoDB
	mongo, err := gomongo.InitMongoDB(logger, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize MongoDB: %w", err)
	}

	// Build the Gin engine and register the gateway
	engine := gin.New()
	engine.Use(gin.Recovery())

	if err := realtime.Register(engine, cfg, logger, mongo); err != nil {
		return fmt.Errorf("failed to register realtime gateway: %w", err)
	}

	port, _ := cfg.ConfigIntWithDefault("server.port", constants.DefaultPort)
	server := NewHTTPServer(fmt.Sprintf(":%d", port), engine)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Server starting", "port", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Wait for shutdown signal or server failure
	select {
	case err := <-serverErr:
		return err
	case <-sigChan:
		logger.Info("Shutting down gracefully")
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Close WebSocket connections before stopping the HTTP listener
	if err := realtime.Shutdown(ctx); err != nil {
		logger.Warn("Gateway shutdown error", "error", err)
	}

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTP server shutdown error: %w", err)
	}

	return nil
}

func main() {
	if err := runMain(); err != nil {
		log.Fatalf("Failed to run server: %v", err)
	}
}

// runMain is the testable main function
func runMain() error {
	sigChan := setupSignalHandler()
	return runWithSignalChannel(sigChan)
}
