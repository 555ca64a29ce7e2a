package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/phuslu/log"

	"x-keeper/api"
	"x-keeper/bot"
	"x-keeper/broadcaster"
	"x-keeper/command"
	"x-keeper/config"
	"x-keeper/database"
	"x-keeper/downloader"
	"x-keeper/extractor"
	grpcsync "x-keeper/grpc"
	"x-keeper/handlers"
	"x-keeper/handlers/message"
	"x-keeper/models"
	"x-keeper/processor"
	"x-keeper/queue"
	"x-keeper/resolver"
	"x-keeper/scanner"
	"x-keeper/utils"
)

const (
	cleanupInterval = 24 * time.Hour
	tempFileMaxAge  = time.Hour
	stopTimeout     = 30 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// A broken configuration file is fatal.
		panic(fmt.Errorf("fatal error loading configuration: %w", err))
	}
	utils.InitConsole(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("x-keeper stopped with an error")
	}
	log.Info().Msg("x-keeper stopped gracefully")
}

func run(ctx context.Context, cfg *models.Config) error {
	ledger, err := database.OpenLedger(cfg.Storage.SavePath)
	if err != nil {
		return err
	}
	defer func() {
		if err := ledger.Close(); err != nil {
			log.Error().Err(err).Msg("failed to flush ledger")
		}
	}()
	log.Info().Int("ids", ledger.Count()).Int("urls", ledger.CountURLs()).Str("dir", cfg.Storage.SavePath).Msg("ledger loaded")

	db, err := database.InitDB(cfg.Storage.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	q := queue.NewManager(database.NewQueueDB(db))
	if n, err := q.Recover(); err != nil {
		return fmt.Errorf("failed to recover queue: %w", err)
	} else if n > 0 {
		log.Warn().Int("items", n).Msg("requeued items left processing by the previous run")
	}
	logs := database.NewLogDB(db)

	tool := extractor.NewGalleryDL(cfg.Extractor)
	proc := processor.New(
		resolver.New(tool, ledger, cfg.Resolver.MaxDepth),
		downloader.New(tool, ledger, cfg.Storage.SavePath),
		ledger,
		cfg.Resolver.SameAuthorOnly,
	)

	b := broadcaster.New(ledger)
	go b.Run(ctx, cfg.Web.SyncInterval)

	q.RegisterHandler(models.SourceDirect, processor.QueueHandler(proc, logs, func() { b.Check() }))

	sched := bot.NewScheduler()
	if err := sched.Every("direct-drain", cfg.Queue.PollInterval, drainJob(ctx, q, models.SourceDirect)); err != nil {
		return err
	}
	if err := sched.Every("ledger-cleanup", cleanupInterval, func() {
		if _, err := database.CleanupTempFiles(cfg.Storage.SavePath, tempFileMaxAge); err != nil {
			log.Warn().Err(err).Msg("temp file cleanup failed")
		}
	}); err != nil {
		return err
	}

	if cfg.BotToken != "" {
		dbot, err := startChat(ctx, cfg, sched, proc, ledger, q, logs)
		if err != nil {
			return err
		}
		defer dbot.Stop()
	} else {
		log.Warn().Msg("BOT_TOKEN is not set, chat intake disabled")
	}

	sched.Start()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		sched.Stop(stopCtx)
	}()

	grpcErr := make(chan error, 1)
	if cfg.GRPC.Listen != "" {
		go func() { grpcErr <- grpcsync.Serve(ctx, cfg.GRPC.Listen, b) }()
	}

	server := api.NewServer(cfg.Web.Listen, api.NewRouter(cfg.Web.AuthToken, api.NewHandler(ledger, q, logs, b)), cfg.Web.MaxConnections)
	ln, err := server.Listen()
	if err != nil {
		return err
	}
	apiErr := make(chan error, 1)
	go func() { apiErr <- server.Serve(ctx, ln) }()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
		// The ledger is flushed only after in-flight requests are done.
		return <-apiErr
	case err := <-apiErr:
		return err
	case err := <-grpcErr:
		if err != nil {
			return fmt.Errorf("grpc server failed: %w", err)
		}
		return <-apiErr
	}
}

// startChat opens the Discord session and schedules the chat-side jobs.
func startChat(ctx context.Context, cfg *models.Config, sched *bot.Scheduler, proc *processor.Processor,
	ledger database.Ledger, q *queue.Manager, logs *database.LogDB) (*bot.Bot, error) {
	dbot, err := bot.NewBot(cfg.BotToken)
	if err != nil {
		return nil, err
	}
	utils.InitLogger(dbot.Session, cfg.Bot.AdminChannelID)

	chat := message.NewChatHandler(dbot.Session, proc, logs, q, cfg.Bot.ChannelIDs)
	q.RegisterHandler(models.SourceRetry, chat.HandleRetry)

	commands := handlers.NewCommands(ledger, q, logs, chat, utils.NewAuth(cfg.Commands), cfg.Bot.ChannelIDs)
	dbot.RegisterCommands(command.AllCommands)
	if err := dbot.Start(handlers.Register(ctx, commands, chat)); err != nil {
		return nil, err
	}

	scan := scanner.New(dbot.Session, chat, cfg.Bot.ChannelIDs, cfg.Scan.Limit)
	if err := sched.Every("retry-drain", cfg.Queue.PollInterval, drainJob(ctx, q, models.SourceRetry)); err != nil {
		dbot.Stop()
		return nil, err
	}
	if err := sched.Every("rescan", cfg.Scan.Interval, func() { scan.Scan(ctx) }); err != nil {
		dbot.Stop()
		return nil, err
	}
	if cfg.Bot.ScanAtStartup {
		go scan.Scan(ctx)
	} else {
		log.Info().Msg("skipping initial scan on startup as per configuration")
	}
	utils.Info("main", "startup", fmt.Sprintf("x-keeper online, watching %d channels", len(cfg.Bot.ChannelIDs)))
	return dbot, nil
}

func drainJob(ctx context.Context, q *queue.Manager, source models.QueueSource) func() {
	return func() {
		if _, err := q.Drain(ctx, source); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Str("source", string(source)).Msg("queue drain failed")
		}
	}
}
