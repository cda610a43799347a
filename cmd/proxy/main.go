// cmd/proxy is the HTTP-facing binary: it supervises the tool-server child
// process and exposes the upload/ask/list/delete surface over HTTP.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/nishaddevendra/pdf-qa-core/internal/config"
	"github.com/nishaddevendra/pdf-qa-core/internal/logger"
	"github.com/nishaddevendra/pdf-qa-core/internal/proxy"
	"github.com/nishaddevendra/pdf-qa-core/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config:", err)
	}

	logger.Init(cfg, os.Stdout)
	logger.Info("proxy starting", "port", cfg.Port)

	if shutdownTracer, err := telemetry.InitTracer("pdf-qa-proxy"); err != nil {
		logger.Warn("tracing disabled", "error", err)
	} else {
		defer shutdownTracer()
	}

	toolServerCommand := cfg.ToolServerCommand
	toolServerArgs := cfg.ToolServerArgs
	if toolServerCommand == "" {
		self, err := os.Executable()
		if err != nil {
			log.Fatal("could not determine own executable path to locate the tool server:", err)
		}
		toolServerCommand = filepath.Join(filepath.Dir(self), "toolserver")
		toolServerArgs = nil
	}

	restartWindow := time.Duration(cfg.ProxyRestartWindowSeconds) * time.Second
	callTimeout := time.Duration(cfg.ProxyCallTimeoutSeconds) * time.Second

	supervisor := proxy.NewSupervisor(toolServerCommand, toolServerArgs, cfg.ProxyMaxRestarts, restartWindow, int64(cfg.ProxyMaxInflight), callTimeout)
	ctx, cancelStart := context.WithTimeout(context.Background(), 10*time.Second)
	if err := supervisor.Start(ctx, 10*time.Second); err != nil {
		cancelStart()
		log.Fatal("failed to start tool server child process:", err)
	}
	cancelStart()

	handles := proxy.NewHandleRegistry(cfg.UploadDir)
	httpSrv := proxy.NewServer(supervisor, handles, cfg.MaxUploadSize)

	if cfg.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logger.Error("panic recovered", "error", recovered, "path", c.Request.URL.Path)
		c.JSON(http.StatusInternalServerError, gin.H{"kind": "internal", "message": "an unexpected error occurred"})
		c.Abort()
	}))
	router.MaxMultipartMemory = cfg.MaxUploadSize

	router.Use(cors.New(cors.Config{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
		MaxAge:       12 * time.Hour,
	}))

	httpSrv.Routes(router)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Info("proxy listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("proxy server failed:", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("proxy shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("proxy http server forced to shutdown", "error", err)
	}

	supervisor.Shutdown(time.Duration(cfg.ToolServerShutdownGraceSeconds) * time.Second)
	logger.Info("proxy exited")
}
