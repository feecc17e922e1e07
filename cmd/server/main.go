package main

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/heic-converter/backend/internal/api"
	"github.com/heic-converter/backend/internal/config"
	"github.com/heic-converter/backend/internal/convert"
	"github.com/heic-converter/backend/internal/history"
	"github.com/heic-converter/backend/internal/profile"
	"github.com/heic-converter/backend/internal/session"
	"github.com/heic-converter/backend/internal/storage"
	"github.com/heic-converter/backend/internal/web"
)

// Version info (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// Get the executable's directory for config resolution
	exePath, err := os.Executable()
	if err != nil {
		fmt.Printf("Failed to get executable path: %v\n", err)
		os.Exit(1)
	}
	exeDir := filepath.Dir(exePath)

	// Load XML configuration
	configPath := filepath.Join(exeDir, "ImageConverter.config")
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Ensure all data directories exist
	if err := cfg.EnsureDirectories(); err != nil {
		fmt.Printf("Failed to create directories: %v\n", err)
		os.Exit(1)
	}

	// Initialize storage
	fileStore, err := storage.NewLocalStore(cfg.GetUploadDir())
	if err != nil {
		fmt.Printf("Failed to initialize storage: %v\n", err)
		os.Exit(1)
	}

	// Load encoding presets, falling back to built-in defaults tuned by the
	// config's default quality. An explicit profiles.yaml wins over both.
	profiles := profile.Default()
	profiles.SetQuality(cfg.Conversion.DefaultQuality)
	profilesPath := filepath.Join(cfg.GetDataDir(), "defaults", "profiles.yaml")
	if _, err := os.Stat(profilesPath); err == nil {
		if loaded, err := profile.Load(profilesPath); err != nil {
			fmt.Printf("Warning: failed to load encoding profiles: %v\n", err)
		} else {
			profiles = loaded
			fmt.Println("Encoding profiles loaded successfully")
		}
	}
	if cfg.Conversion.DefaultFormat != "" {
		profiles.DefaultFormat = cfg.Conversion.DefaultFormat
	}

	// Initialize conversion history (optional)
	var hist *history.Store
	if cfg.Conversion.EnableHistory {
		hist, err = history.NewStore(cfg.GetDataDir())
		if err != nil {
			fmt.Printf("Warning: conversion history disabled: %v\n", err)
			hist = nil
		}
	}

	// Initialize the conversion pipeline and session manager
	converter := convert.NewConverter(cfg.Conversion.FallbackTool, cfg.Storage.TempDirectory)

	var recorder session.Recorder
	if hist != nil {
		recorder = hist
	}
	sessionMgr := session.NewManager(fileStore, converter, profiles, recorder)

	// Start background session cleanup
	go func() {
		ticker := time.NewTicker(time.Duration(cfg.Conversion.CleanupIntervalMinutes) * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			sessionMgr.CleanupOldSessions(time.Duration(cfg.Conversion.SessionTimeoutMinutes) * time.Minute)
		}
	}()

	// Initialize API handlers
	var histReader api.HistoryReader
	if hist != nil {
		histReader = hist
	}
	h := api.NewHandler(fileStore, sessionMgr, histReader, cfg.Storage.MaxUploadSize, cfg.AllowedExtensions())
	wsHandler := api.NewWebSocketHandler(h)

	e := echo.New()
	e.HideBanner = true
	e.JSONSerializer = api.JSONSerializer{}
	e.HTTPErrorHandler = api.ErrorHandler

	// Configure middleware
	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Skipper: func(c echo.Context) bool {
			if !cfg.Advanced.EnableRequestLogging {
				return true
			}
			path := c.Request().URL.Path
			return strings.HasPrefix(path, "/status/") || path == "/api/health"
		},
	}))

	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize: 1024 * 4,
	}))

	if cfg.Advanced.EnableCompression {
		e.Use(middleware.GzipWithConfig(middleware.GzipConfig{
			Level: cfg.Advanced.CompressionLevel,
			Skipper: func(c echo.Context) bool {
				// Image payloads are already compressed
				path := c.Request().URL.Path
				return strings.HasPrefix(path, "/download/") || strings.HasPrefix(path, "/ws/")
			},
		}))
	}

	// Body limit middleware
	e.Use(middleware.BodyLimit(cfg.Server.BodyLimit))

	// CORS configuration
	if cfg.Server.EnableCORS {
		origins := strings.Split(cfg.Server.AllowOrigins, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		if len(origins) == 0 || (len(origins) == 1 && origins[0] == "") {
			origins = []string{"*"}
		}
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: origins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
		}))
	}

	// Conversion lifecycle routes
	e.POST("/upload", h.HandleUpload)
	e.POST("/convert", h.HandleConvert)
	e.GET("/status/:sessionId", h.HandleStatus)
	e.GET("/download/:sessionId", h.HandleDownload)
	if cfg.Security.AllowSessionDeletion {
		e.DELETE("/clear/:sessionId", h.HandleClear)
	}

	// Metadata and history
	e.GET("/meta/:sessionId", h.HandleMeta)
	e.GET("/meta/:sessionId/msgpack", h.HandleMetaMsgpack)
	e.GET("/history", h.HandleHistory)

	// Health check
	e.GET("/api/health", h.HandleHealth)

	// WebSocket progress endpoint
	e.GET("/ws/convert", wsHandler.HandleWebSocket)

	// Static assets (index, sitemap, robots)
	if err := web.RegisterStaticRoutes(e); err != nil {
		fmt.Printf("Warning: failed to register static routes: %v\n", err)
	}

	// Configure server with settings from XML config
	s := &http.Server{
		Addr:         cfg.GetServerAddr(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	fmt.Printf("\n")
	fmt.Printf("╔═══════════════════════════════════════════════════════════╗\n")
	fmt.Printf("║           HEIC Image Converter Server                     ║\n")
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Version:    %-45s║\n", Version)
	fmt.Printf("║  Build Time: %-45s║\n", BuildTime)
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Config:    %-46s║\n", configPath)
	fmt.Printf("║  Listen:    http://%-38s║\n", cfg.GetServerAddr())
	fmt.Printf("║  Data Dir:  %-46s║\n", cfg.GetDataDir())
	fmt.Printf("╚═══════════════════════════════════════════════════════════╝\n")
	fmt.Printf("\n")

	e.Logger.Fatal(e.StartServer(s))
}
