package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/zulandar/roadcall/internal/archive"
	"github.com/zulandar/roadcall/internal/bot"
	"github.com/zulandar/roadcall/internal/config"
	"github.com/zulandar/roadcall/internal/db"
	"github.com/zulandar/roadcall/internal/httpapi"
	"github.com/zulandar/roadcall/internal/intake"
	"github.com/zulandar/roadcall/internal/ledger"
	"github.com/zulandar/roadcall/internal/logging"
	"github.com/zulandar/roadcall/internal/operator"
	discordop "github.com/zulandar/roadcall/internal/operator/discord"
	slackop "github.com/zulandar/roadcall/internal/operator/slack"
	telegramop "github.com/zulandar/roadcall/internal/operator/telegram"
	"github.com/zulandar/roadcall/internal/redisstore"
	"github.com/zulandar/roadcall/internal/schedule"
	"github.com/zulandar/roadcall/internal/sheets"
	"github.com/zulandar/roadcall/internal/submit"
)

const defaultConfigPath = "config.yaml"

// telegramBot is everything roadcall needs from *tgbotapi.BotAPI: the
// user-facing daemon and the operator channel share one bot.
type telegramBot interface {
	bot.BotAPI
	telegramop.BotAPI
}

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the intake bot",
		Long: `Runs the Telegram bot, the HTTP listener (health, stats, metrics and
the webhook endpoint) and the scheduled jobs until SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to roadcall config file")
	return cmd
}

// loadConfig reads the config file. When the default file is missing the
// config comes from the environment alone.
func loadConfig(cmd *cobra.Command, path string) (*config.Config, error) {
	if !cmd.Flags().Changed("config") && path == defaultConfigPath {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			path = ""
		}
	}
	return config.Load(path)
}

func runServe(cmd *cobra.Command, configPath string) error {
	cfg, err := loadConfig(cmd, configPath)
	if err != nil {
		return err
	}
	logging.Configure(logging.Config{Level: cfg.Log.Level, Console: cfg.Log.Console, Version: Version})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		return fmt.Errorf("telegram: connect: %w", err)
	}
	serveLog := logging.WithComponent("serve")
	serveLog.Info().Str("bot", botAPI.Self.UserName).Msg("authorized with telegram")

	a, err := newApp(ctx, cfg, botAPI)
	if err != nil {
		return err
	}
	return a.run(ctx)
}

// app is the fully wired process.
type app struct {
	cfg        *config.Config
	log        zerolog.Logger
	ledger     *ledger.Ledger
	conv       *intake.Conversation
	dispatcher *intake.Dispatcher
	daemon     *bot.Daemon
	scheduler  *schedule.Scheduler
	closers    []func() error
}

func newApp(ctx context.Context, cfg *config.Config, tg telegramBot) (*app, error) {
	a := &app{cfg: cfg, log: logging.WithComponent("serve")}
	if err := a.wire(ctx, tg); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context, tg telegramBot) error {
	cfg := a.cfg

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}

	gormDB, err := a.openLedger()
	if err != nil {
		return err
	}
	a.ledger, err = ledger.New(gormDB)
	if err != nil {
		return err
	}

	tgChannel, err := telegramop.New(telegramop.ChannelOpts{Bot: tg, Logger: logging.WithComponent("operator")})
	if err != nil {
		return err
	}
	channel, err := newOperatorChannel(cfg, tgChannel)
	if err != nil {
		return err
	}

	recorders, err := a.recorders(ctx)
	if err != nil {
		return err
	}
	now := func() time.Time { return time.Now().In(cfg.Location()) }

	pipeline, err := submit.NewPipeline(submit.PipelineOpts{
		Channel:   channel,
		ChannelID: cfg.Operator.ChannelID,
		Recorders: recorders,
		Logger:    logging.WithComponent("submit"),
	})
	if err != nil {
		return err
	}

	a.conv, err = intake.NewConversation(intake.ConversationOpts{
		Store:     store,
		Submitter: pipeline,
		Logger:    logging.WithComponent("intake"),
	})
	if err != nil {
		return err
	}
	a.dispatcher = intake.NewDispatcher(a.conv.Handle, logging.WithComponent("dispatch"))

	a.daemon, err = bot.NewDaemon(bot.DaemonOpts{
		Bot:         tg,
		Dispatcher:  a.dispatcher,
		Sessions:    a.conv,
		Reports:     a.ledger,
		AdminUserID: cfg.AdminUserID,
		Mode:        cfg.Telegram.Mode,
		WebhookURL:  cfg.Telegram.WebhookURL,
		Token:       cfg.Telegram.Token,
		Logger:      logging.WithComponent("bot"),
		Now:         now,
	})
	if err != nil {
		return err
	}

	a.scheduler, err = schedule.New(schedule.Opts{
		Jobs: []schedule.Job{
			schedule.SweepJob(cfg.Schedule.Sweep, a.conv, cfg.Schedule.IdleTimeout, a.daemon.Deliver, now),
			schedule.DigestJob(cfg.Schedule.Digest, a.ledger, channel, cfg.Operator.ChannelID, now),
		},
		Location: cfg.Location(),
		Logger:   logging.WithComponent("schedule"),
	})
	if err != nil {
		return err
	}
	return nil
}

func (a *app) openStore(ctx context.Context) (intake.Store, error) {
	if a.cfg.Store.Driver != config.StoreRedis {
		return intake.NewMemoryStore(), nil
	}
	rc := a.cfg.Store.Redis
	client, err := redisstore.Dial(ctx, redisstore.Config{Addr: rc.Addr, Password: rc.Password, DB: rc.DB}, a.log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, client.Close)
	return redisstore.New(redisstore.Opts{
		Client: client,
		Prefix: rc.Prefix,
		// Outlive the sweep so users still get their expiry notice.
		TTL:    2 * a.cfg.Schedule.IdleTimeout,
		Logger: logging.WithComponent("redisstore"),
	})
}

func (a *app) openLedger() (*gorm.DB, error) {
	gormDB, err := db.Connect(dbOptions(a.cfg))
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error { return db.Close(gormDB) })
	if err := db.AutoMigrate(gormDB); err != nil {
		return nil, err
	}
	return gormDB, nil
}

func (a *app) recorders(ctx context.Context) ([]submit.Recorder, error) {
	out := []submit.Recorder{a.ledger}
	if a.cfg.Sheets.Enabled {
		exp, err := sheets.NewFromCredentials(ctx, a.cfg.Sheets.CredentialsFile, a.cfg.Sheets.SpreadsheetID)
		if err != nil {
			return nil, err
		}
		out = append(out, exp)
	}
	if ac := a.cfg.Archive; ac.Enabled {
		client, err := archive.NewClient(ctx, ac.Region, ac.Endpoint)
		if err != nil {
			return nil, err
		}
		arc, err := archive.New(client, ac.Bucket, ac.Prefix)
		if err != nil {
			return nil, err
		}
		out = append(out, arc)
	}
	return out, nil
}

func dbOptions(cfg *config.Config) db.Options {
	d := cfg.Database
	return db.Options{
		Driver:   d.Driver,
		Path:     d.Path,
		Host:     d.Host,
		Port:     d.Port,
		User:     d.User,
		Password: d.Password,
		Database: d.Database,
	}
}

// newOperatorChannel picks the operator platform. Photos are always Telegram
// file ids, so the Telegram channel doubles as the fetcher for the others.
func newOperatorChannel(cfg *config.Config, tg *telegramop.Channel) (operator.Channel, error) {
	switch cfg.Operator.Platform {
	case config.PlatformTelegram, "":
		return tg, nil
	case config.PlatformSlack:
		return slackop.New(slackop.ChannelOpts{
			BotToken: cfg.Operator.SlackToken,
			Fetcher:  tg,
			Logger:   logging.WithComponent("operator"),
		})
	case config.PlatformDiscord:
		return discordop.New(discordop.ChannelOpts{
			BotToken: cfg.Operator.DiscordToken,
			Fetcher:  tg,
			Logger:   logging.WithComponent("operator"),
		})
	}
	return nil, fmt.Errorf("operator: unsupported platform %q", cfg.Operator.Platform)
}

// run blocks until ctx is cancelled or a component fails, then drains the
// dispatcher so in-flight submissions finish.
func (a *app) run(ctx context.Context) error {
	defer a.close()

	httpOpts := httpapi.Opts{
		Port:     a.cfg.HTTP.Port,
		Sessions: a.conv,
		Reports:  a.ledger,
		Pending:  a.dispatcher.Pending,
		Version:  Version,
		Logger:   logging.WithComponent("http"),
		Now:      func() time.Time { return time.Now().In(a.cfg.Location()) },
	}
	if a.cfg.Telegram.Mode == config.ModeWebhook {
		httpOpts.Webhook = a.daemon
		httpOpts.WebhookToken = a.cfg.Telegram.Token
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.daemon.Run(gctx) })
	g.Go(func() error { return httpapi.Start(gctx, httpOpts) })
	g.Go(func() error { return a.scheduler.Run(gctx) })

	a.log.Info().
		Str("mode", a.cfg.Telegram.Mode).
		Str("operator", a.cfg.Operator.Platform).
		Str("store", a.cfg.Store.Driver).
		Strs("jobs", a.scheduler.Jobs()).
		Msg("roadcall started")

	err := g.Wait()
	a.dispatcher.Wait()
	a.log.Info().Msg("roadcall stopped")
	return err
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn().Err(err).Msg("close")
		}
	}
	a.closers = nil
}
