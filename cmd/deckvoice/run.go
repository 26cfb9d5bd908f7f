package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"

	"github.com/deckvoice/deckvoice/internal/api"
	"github.com/deckvoice/deckvoice/internal/automation/sim"
	"github.com/deckvoice/deckvoice/internal/config"
	"github.com/deckvoice/deckvoice/internal/domain"
	"github.com/deckvoice/deckvoice/internal/engine"
	"github.com/deckvoice/deckvoice/internal/realtime"
	realtimeTypes "github.com/deckvoice/deckvoice/pkg/realtime"
)

func newRunCmd() *cobra.Command {
	var (
		configPath string
		listen     string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the engine against a scripted demo deck",
		Long: "Runs the coordination engine against a scripted in-memory deck, " +
			"speaks announcements to stdout and serves the observer API.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Listen = listen
			}
			return runDaemon(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to config file")
	cmd.Flags().StringVar(&listen, "listen", "", "observer API address (overrides config)")
	return cmd
}

func runDaemon(ctx context.Context, cfg *config.Config) error {
	log := newLogger(cfg.LogLevel)
	slog.SetDefault(log)

	deck := sim.New(cfg.Sim.Slides)
	deck.SetComments(3, 2)
	deck.SetNotes(3, "---- Remember to pause here. ----")

	eng := engine.New(engine.Config{
		Layer:            deck,
		QueueCapacity:    cfg.Engine.QueueCapacity,
		DeliveryCapacity: cfg.Engine.DeliveryCapacity,
		NoteMarker:       cfg.Engine.NoteMarker,
		BreakerThreshold: cfg.Engine.BreakerThreshold,
		BreakerCooldown:  cfg.Engine.BreakerCooldown,
		Logger:           log,
	})
	hub := realtime.NewHub()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng.Activate()

	// The drain loop is the host's main context stand-in: the single
	// consumer of announcement delivery. Speaks to stdout, then republishes
	// to websocket observers.
	drainDone := make(chan struct{})
	go func() {
		defer close(drainDone)
		delivery := eng.Announcements()
		for {
			select {
			case <-ctx.Done():
				return
			case <-delivery.Notify():
				for _, a := range delivery.Drain() {
					speak(a)
					hub.Publish(realtimeTypes.TopicAnnouncements, realtimeTypes.ServerEnvelope{
						Type:  realtimeTypes.ServerMessageTypeEvent,
						Topic: realtimeTypes.TopicAnnouncements,
						Payload: realtimeTypes.AnnouncementEvent{
							Text:     a.Text,
							Priority: a.Priority.String(),
							Seq:      a.Seq,
						},
					})
					publishPosition(eng, hub)
				}
			}
		}
	}()

	// Scripted presenter: advances through the deck, wrapping to slide 1.
	go func() {
		ticker := time.NewTicker(cfg.Sim.AdvanceEvery)
		defer ticker.Stop()
		slide := 1
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				slide++
				if slide > cfg.Sim.Slides {
					slide = 1
				}
				deck.GoTo(slide)
			}
		}
	}()

	router := chi.NewRouter()
	api.NewHandler(eng, hub).Mount(router)
	server := &http.Server{Addr: cfg.Listen, Handler: router}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("observer API listening", "addr", cfg.Listen)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		stop()
		_ = eng.Deactivate(cfg.Engine.DeactivateTimeout)
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	if err := eng.Deactivate(cfg.Engine.DeactivateTimeout); err != nil {
		log.Warn("engine deactivation timed out", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	<-drainDone
	return nil
}

func publishPosition(eng *engine.Engine, hub *realtime.Hub) {
	snap := eng.Snapshot()
	hub.Publish(realtimeTypes.TopicPosition, realtimeTypes.ServerEnvelope{
		Type:  realtimeTypes.ServerMessageTypeEvent,
		Topic: realtimeTypes.TopicPosition,
		Payload: realtimeTypes.PositionEvent{
			DocumentID:   snap.DocumentID,
			SlideIndex:   snap.SlideIndex,
			CommentCount: snap.CommentCount,
			HasNotes:     snap.HasNotes,
			Seq:          snap.Seq,
		},
	})
}

func speak(a domain.Announcement) {
	prefix := ""
	if a.Priority == domain.PriorityInteractive {
		prefix = "! "
	}
	fmt.Printf("%s%s\n", prefix, a.Text)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
