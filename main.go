package main

import (
	"bufio"
	"flag"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"chathub/auth"
	"chathub/chat"
	"chathub/config"
	"chathub/db"
	"chathub/friends"
	"chathub/logging"
	"chathub/metrics"
	"chathub/registry"
	"chathub/server"
)

const controlSocketPath = "/tmp/chathub.sock"

func main() {
	configPath := flag.String("config", "", "path to a TOML config file (defaults to $"+config.EnvConfigPath+")")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Init("chathub", "console", "info")
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logging.Init("chathub", cfg.LogFormat, cfg.LogLevel)

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("failed to initialize database")
	}
	defer database.Close()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(promReg)

	reg := registry.New(registry.WithObserver(collector))
	router := chat.NewRouter(database, database, friends.NewGate(database), reg, collector, chat.Config{
		CallTimeout:       time.Duration(cfg.CallTimeout) * time.Second,
		RequireFriendship: cfg.RequireFriendship,
		MaxMessageLen:     cfg.MaxMessageLen,
	})
	authService := auth.NewService(database, auth.NewTokens(cfg.JWTSecret, time.Duration(cfg.TokenTTL)*time.Minute))

	srv := server.New(server.Deps{
		Router:   router,
		Auth:     authService,
		Registry: reg,
		Store:    database,
		Gatherer: promReg,
	}, &server.Config{
		Port:         cfg.Port,
		HTTPAddr:     cfg.HTTPAddr,
		ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
		OutboxSize:   cfg.OutboxSize,
		IntentRate:   cfg.IntentRate,
		IntentBurst:  cfg.IntentBurst,
	})

	// Start control socket for management commands
	go startControlSocket(srv)

	go func() {
		if err := srv.StartHTTP(); err != nil {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		srv.Shutdown("maintenance", time.Time{})
	}()

	if err := srv.Start(); err != nil {
		log.Fatal().Err(err).Msg("line server failed")
	}

	// Start returns as soon as the listener closes; the notices are still
	// being written until Done.
	<-srv.Done()
	os.Remove(controlSocketPath)
	log.Info().Msg("bye")
}

func startControlSocket(srv *server.Server) {
	os.Remove(controlSocketPath)

	listener, err := net.Listen("unix", controlSocketPath)
	if err != nil {
		log.Error().Err(err).Msg("failed to create control socket")
		return
	}
	defer listener.Close()
	defer os.Remove(controlSocketPath)

	log.Info().Str("path", controlSocketPath).Msg("control socket listening")

	for {
		conn, err := listener.Accept()
		if err != nil {
			continue
		}

		go handleControlCommand(srv, conn)
	}
}

// handleControlCommand serves one command per connection:
//
//	stats
//	shutdown[|reason[|RFC3339 completion time]]
func handleControlCommand(srv *server.Server, conn net.Conn) {
	defer conn.Close()

	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil {
		return
	}

	parts := strings.SplitN(strings.TrimSpace(line), "|", 3)

	switch parts[0] {
	case "stats":
		conn.Write([]byte("OK|" + srv.GetStats() + "\n"))

	case "shutdown":
		reason := "maintenance"
		var completionTime time.Time

		if len(parts) >= 2 && parts[1] != "" {
			reason = parts[1]
		}
		if len(parts) >= 3 && parts[2] != "" {
			if completionTime, err = time.Parse(time.RFC3339, parts[2]); err != nil {
				conn.Write([]byte("ERROR|Invalid completion time\n"))
				return
			}
		}

		conn.Write([]byte("OK|Shutting down\n"))
		conn.Close()

		log.Info().Str("reason", reason).Time("completion", completionTime).Msg("shutdown requested")
		srv.Shutdown(reason, completionTime)

	default:
		conn.Write([]byte("ERROR|Unknown command\n"))
	}
}
