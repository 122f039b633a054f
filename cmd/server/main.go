package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/hqmx-go/api"
	"github.com/yourusername/hqmx-go/api/handlers"
	"github.com/yourusername/hqmx-go/internal/app"
	"github.com/yourusername/hqmx-go/internal/domain"
	"github.com/yourusername/hqmx-go/internal/infrastructure"
	"github.com/yourusername/hqmx-go/pkg/logger"
)

var (
	serverMode = flag.Bool("server-mode", false, "Internal flag: run in server mode (called by daemon)")
	configPath = flag.String("config", "", "Path to config file")
)

func main() {
	flag.Parse()

	// If not in server mode, run as daemon
	if !*serverMode {
		startAsDaemon()
		return
	}

	// Run as server (called by daemon)
	runServer()
}

// startAsDaemon forks the current process and runs the server in background
func startAsDaemon() {
	// Get the executable path
	execPath, err := os.Executable()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to get executable path: %v\n", err)
		os.Exit(1)
	}

	// Get current working directory
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "/"
	}

	// Fork the process
	args := []string{"-server-mode"}
	if *configPath != "" {
		args = append(args, "-config", *configPath)
	}
	cmd := exec.Command(execPath, args...)
	cmd.Dir = cwd
	cmd.Env = os.Environ()

	// Detach from parent process
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true, // Create new session
	}

	// Redirect output to /dev/null
	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open /dev/null: %v\n", err)
		os.Exit(1)
	}
	cmd.Stdin = devNull
	cmd.Stdout = devNull
	cmd.Stderr = devNull

	// Start the child process
	if err := cmd.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start daemon: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Server started as daemon (PID: %d)\n", cmd.Process.Pid)
	os.Exit(0)
}

func runServer() {
	config, err := app.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := createDirectories(config); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create directories: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:      config.Logging.Level,
		Format:     config.Logging.Format,
		OutputPath: config.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Per-category event logs: download, queue, error
	multiLog, err := logger.NewMultiLogger(logger.MultiLoggerConfig{
		Level:   config.Logging.Level,
		LogsDir: config.Download.LogsDir(),
	})
	if err != nil {
		log.Fatal("Failed to initialize event logs", zap.Error(err))
	}
	defer multiLog.Close()

	log.Info("Starting HQMX server",
		zap.String("version", handlers.Version),
		zap.String("host", config.Server.Host),
		zap.Int("port", config.Server.Port),
		zap.String("backend", config.Backend.BaseURL),
		zap.Bool("extraction", config.Extraction.Enabled))

	repo, err := infrastructure.NewSQLiteDownloadRepository(config.Queue.DatabasePath)
	if err != nil {
		log.Fatal("Failed to initialize repository", zap.Error(err))
	}
	defer repo.Close()

	notifier := infrastructure.NewNotificationService(&config.Notification, log)
	backend := infrastructure.NewBackendClient(config.Backend, log)

	saver := infrastructure.NewDiskSaver(config.Download.IncomingDir(), config.Download.CompletedDir())
	direct := infrastructure.NewDirectTransferExecutor(saver, infrastructure.DirectTransferOptions{
		BandwidthLimit: config.Download.BandwidthLimit,
		MaxSize:        config.Download.MaxDirectSize,
		ChunkSize:      config.Download.ChunkSize,
		UserAgent:      config.Backend.UserAgent,
	}, log)

	// Left nil when disabled so credentialed platforms go to the server
	var extractor domain.Extractor
	if config.Extraction.Enabled {
		extractor = infrastructure.NewYTDLPExtractor(
			&config.Extraction,
			config.Download.IncomingDir(),
			config.Download.CompletedDir(),
			config.Download.LogsDir(),
			multiLog,
		)
	}

	jobs := app.NewServerJobController(backend, config.Backend.ReconcileDelay, log)
	orchestrator := app.NewDownloadOrchestrator(
		backend,
		app.NewStrategySelector(config.Routing),
		direct,
		jobs,
		extractor,
		log,
	)
	orchestrator.Subscribe(notifier)

	hub := app.NewProgressHub()
	defer hub.Close()

	downloadMgr := app.NewDownloadManager(repo, orchestrator, notifier, &config.Download, log)
	downloadMgr.SetProgressHub(hub)
	downloadMgr.SetEventLogger(multiLog)
	if config.Download.FetchArtifacts {
		downloadMgr.SetArtifactFetcher(direct)
	}

	queueMgr := app.NewQueueManager(repo, downloadMgr, &config.Queue, multiLog)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if config.Queue.AutoStart {
		if err := queueMgr.Start(ctx); err != nil {
			log.Fatal("Failed to start queue manager", zap.Error(err))
		}
	}

	router := api.SetupRouter(api.Dependencies{
		QueueManager:    queueMgr,
		DownloadManager: downloadMgr,
		ProgressHub:     hub,
		Events:          multiLog,
		LogsDir:         config.Download.LogsDir(),
		Logger:          log,
	})

	addr := fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		log.Info("HTTP server listening", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal OR auto-exit from queue manager
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info("Received shutdown signal")
	case <-queueMgr.WaitForExit():
		log.Info("Queue manager triggered auto-exit (all downloads complete)")
	}

	log.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// The in-flight download stays processing and is requeued on the next start
	if queueMgr.IsRunning() {
		if err := queueMgr.Stop(); err != nil {
			log.Error("Error stopping queue manager", zap.Error(err))
		}
	}

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited")
}

func createDirectories(config *domain.Config) error {
	dirs := []string{
		config.Download.BaseDir,
		config.Download.CompletedDir(),
		config.Download.IncomingDir(),
		config.Download.LogsDir(),
		config.Download.ConfigDir(),
		filepath.Dir(config.Queue.DatabasePath),
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
