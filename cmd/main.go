package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/MimeLyc/agentkit/internal/config"
	"github.com/MimeLyc/agentkit/internal/httpapi"
	"github.com/MimeLyc/agentkit/internal/service"
	"github.com/MimeLyc/agentkit/pkg/log"
)

type scheduler interface {
	Schedule(context.Context) error
}

type cronEngine interface {
	Start()
	Stop() context.Context
}

type chatLoop interface {
	Run(context.Context) error
}

type httpServer interface {
	ListenAndServe(addr string) error
	Shutdown(ctx context.Context) error
}

const shutdownTimeout = 5 * time.Second

func main() {
	envFile := flag.String("env", ".env", "dotenv file to load before reading the environment")
	dispatch := flag.Bool("dispatch", false, "start in dispatch mode: the agent picks a tool and the CLI runs it")
	httpAddr := flag.String("http", "", "serve the HTTP API on this address instead of the interactive prompt")
	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		log.Fatal("Failed to load %s: %v", *envFile, err)
	}

	// Initialize configuration
	cfg, err := config.NewFromEnv()
	if err != nil {
		log.Fatal("Failed to load configuration: %v", err)
	}
	log.InitLogger(log.ParseLevel(cfg.System.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	handler := service.NewDefaultErrorHandler()
	app, err := service.Build(ctx, *cfg)
	if err != nil {
		handler.Handle(err)
		os.Exit(1)
	}
	defer app.Close()

	c := cron.New()
	var (
		loop chatLoop
		srv  httpServer
	)
	if *httpAddr != "" {
		srv = httpapi.NewServer(app)
		log.Info("HTTP API listening on %s", *httpAddr)
	} else {
		session := service.NewSession(app, service.WithDispatch(*dispatch))
		loop = newREPL(session, os.Stdin, os.Stdout)
		fmt.Fprintln(os.Stdout, banner(app, *dispatch))
	}

	if err := runWithComponents(ctx, retention{app: app, cron: c}, c, loop, srv, *httpAddr); err != nil {
		handler.Handle(err)
		os.Exit(1)
	}
}

// runWithComponents schedules retention, starts the cron engine and runs the
// chat loop and the HTTP server, either of which may be nil. It returns once
// ctx is cancelled or the loop ends; the server and the cron engine are
// stopped on the way out.
func runWithComponents(ctx context.Context, sched scheduler, engine cronEngine, loop chatLoop, srv httpServer, addr string) error {
	if err := sched.Schedule(ctx); err != nil {
		return err
	}
	engine.Start()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	if loop != nil {
		g.Go(func() error {
			defer cancel()
			return loop.Run(ctx)
		})
	}
	if srv != nil {
		g.Go(func() error {
			if err := srv.ListenAndServe(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancelShutdown()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Warn("HTTP shutdown: %v", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		<-engine.Stop().Done()
		log.Debug("Cron engine stopped")
		return nil
	})

	return g.Wait()
}

// retention adapts the app's retention sweep to the scheduler interface.
type retention struct {
	app  *service.App
	cron *cron.Cron
}

func (r retention) Schedule(ctx context.Context) error {
	scheduled, err := r.app.ScheduleRetention(ctx, r.cron)
	if err != nil {
		return err
	}
	if !scheduled {
		log.Debug("Memory retention not configured")
	}
	return nil
}

func banner(app *service.App, dispatch bool) string {
	mode := "chat"
	if dispatch {
		mode = "dispatch"
	}
	text := fmt.Sprintf("agentkit: %s via %s, %d tools, memory %s. Type /help for commands.",
		mode, app.Provider.Name(), app.Tools.Count(), app.Config.Memory.Backend)
	return styleInfo.Render(text)
}

