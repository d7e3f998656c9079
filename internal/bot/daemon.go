package bot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/zulandar/roadcall/internal/intake"
)

// Receive modes.
const (
	ModePoll    = "poll"
	ModeWebhook = "webhook"
)

const (
	pollTimeout  = 60
	webhookQueue = 256
	deniedText   = "⛔ You do not have access to this command."
)

// BotAPI is the subset of *tgbotapi.BotAPI the daemon uses.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	HandleUpdate(r *http.Request) (*tgbotapi.Update, error)
}

// Dispatcher queues events per user. *intake.Dispatcher satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev intake.Event, reply intake.ReplyFunc)
}

// SessionStats reports active sessions per stage.
type SessionStats interface {
	Stats(ctx context.Context) (map[intake.Stage]int, error)
}

// ReportCounter reports how many reports were submitted today.
type ReportCounter interface {
	CountToday(ctx context.Context, now time.Time) (int64, error)
}

// DaemonOpts holds parameters for creating a new Daemon.
type DaemonOpts struct {
	Bot        BotAPI
	Dispatcher Dispatcher
	Sessions   SessionStats
	Reports    ReportCounter // optional
	// AdminUserID enables /admin for that Telegram user.
	AdminUserID string
	Mode        string
	// WebhookURL is the public base URL; required in webhook mode.
	WebhookURL string
	// Token names the webhook path /telegram/<token>.
	Token  string
	Logger zerolog.Logger
	// Now defaults to time.Now; its location sets the /admin day boundary.
	Now func() time.Time
}

// Daemon pumps Telegram updates into the dispatcher and sends replies.
type Daemon struct {
	bot        BotAPI
	dispatcher Dispatcher
	sessions   SessionStats
	reports    ReportCounter
	adminID    string
	mode       string
	webhookURL string
	token      string
	log        zerolog.Logger
	now        func() time.Time
	webhook    chan tgbotapi.Update
}

// NewDaemon creates a Daemon with the given options.
func NewDaemon(opts DaemonOpts) (*Daemon, error) {
	if opts.Bot == nil {
		return nil, fmt.Errorf("bot: bot api is required")
	}
	if opts.Dispatcher == nil {
		return nil, fmt.Errorf("bot: dispatcher is required")
	}
	if opts.Sessions == nil {
		return nil, fmt.Errorf("bot: session stats are required")
	}
	if opts.Mode == "" {
		opts.Mode = ModePoll
	}
	switch opts.Mode {
	case ModePoll:
	case ModeWebhook:
		if opts.WebhookURL == "" || opts.Token == "" {
			return nil, fmt.Errorf("bot: webhook mode requires a webhook url and token")
		}
	default:
		return nil, fmt.Errorf("bot: unknown mode %q", opts.Mode)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Daemon{
		bot:        opts.Bot,
		dispatcher: opts.Dispatcher,
		sessions:   opts.Sessions,
		reports:    opts.Reports,
		adminID:    opts.AdminUserID,
		mode:       opts.Mode,
		webhookURL: strings.TrimRight(opts.WebhookURL, "/"),
		token:      opts.Token,
		log:        opts.Logger,
		now:        opts.Now,
		webhook:    make(chan tgbotapi.Update, webhookQueue),
	}, nil
}

// Run receives updates until ctx is cancelled. Events already dispatched
// keep running; the caller waits on the dispatcher for them.
func (d *Daemon) Run(ctx context.Context) error {
	var updates <-chan tgbotapi.Update
	switch d.mode {
	case ModeWebhook:
		wh, err := tgbotapi.NewWebhook(d.webhookURL + "/telegram/" + d.token)
		if err != nil {
			return fmt.Errorf("bot: webhook config: %w", err)
		}
		if _, err := d.bot.Request(wh); err != nil {
			return fmt.Errorf("bot: set webhook: %w", err)
		}
		updates = d.webhook
	default:
		if _, err := d.bot.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
			return fmt.Errorf("bot: delete webhook: %w", err)
		}
		u := tgbotapi.NewUpdate(0)
		u.Timeout = pollTimeout
		updates = d.bot.GetUpdatesChan(u)
		defer d.bot.StopReceivingUpdates()
	}

	d.log.Info().Str("mode", d.mode).Msg("bot receiving updates")
	for {
		select {
		case <-ctx.Done():
			d.log.Info().Msg("bot stopped receiving updates")
			return nil
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			d.HandleUpdate(ctx, u)
		}
	}
}

// HandleWebhook implements httpapi.WebhookHandler. It only queues the
// update; Run processes it.
func (d *Daemon) HandleWebhook(r *http.Request) error {
	u, err := d.bot.HandleUpdate(r)
	if err != nil {
		return fmt.Errorf("bot: decode webhook update: %w", err)
	}
	select {
	case d.webhook <- *u:
		return nil
	default:
		return errors.New("bot: webhook queue full")
	}
}

// HandleUpdate routes one update: hint buttons and /admin are answered
// directly, everything else goes through the dispatcher.
func (d *Daemon) HandleUpdate(ctx context.Context, u tgbotapi.Update) {
	m := u.Message
	if m == nil || m.Chat == nil || m.From == nil {
		return
	}
	if m.Chat.IsPrivate() {
		if hint, ok := hints[strings.TrimSpace(m.Text)]; ok {
			d.sendText(m.Chat.ID, hint, MainKeyboard())
			return
		}
		if m.IsCommand() && m.Command() == "admin" {
			d.handleAdmin(ctx, m)
			return
		}
	}

	ev, ok := Translate(u)
	if !ok {
		return
	}
	chatID := m.Chat.ID
	// In-flight events finish after shutdown starts; the caller drains them.
	d.dispatcher.Dispatch(context.WithoutCancel(ctx), ev, func(effects []intake.Effect) {
		d.send(Render(chatID, effects))
	})
}

func (d *Daemon) handleAdmin(ctx context.Context, m *tgbotapi.Message) {
	if d.adminID == "" || strconv.FormatInt(m.From.ID, 10) != d.adminID {
		d.sendText(m.Chat.ID, deniedText, nil)
		return
	}
	d.sendText(m.Chat.ID, d.adminStats(ctx), nil)
}

func (d *Daemon) adminStats(ctx context.Context) string {
	var b strings.Builder
	b.WriteString("📊 Bot statistics:\n")

	byStage, err := d.sessions.Stats(ctx)
	if err != nil {
		d.log.Error().Err(err).Msg("admin: session stats")
		b.WriteString("• Active requests: unavailable\n")
	} else {
		active := 0
		for _, n := range byStage {
			active += n
		}
		fmt.Fprintf(&b, "• Active requests: %d\n", active)
		for _, st := range intake.Stages() {
			if n := byStage[st]; n > 0 {
				fmt.Fprintf(&b, "   %s: %d\n", st, n)
			}
		}
	}

	if d.reports != nil {
		n, err := d.reports.CountToday(ctx, d.now())
		if err != nil {
			d.log.Error().Err(err).Msg("admin: count reports")
			b.WriteString("• Submitted today: unavailable")
		} else {
			fmt.Fprintf(&b, "• Submitted today: %d", n)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// Deliver sends effects produced outside a user's own event, such as
// expiry notices. A user's chat ID equals their user ID in private chats.
func (d *Daemon) Deliver(_ context.Context, effects []intake.Effect) {
	byUser := make(map[string][]intake.Effect)
	var order []string
	for _, e := range effects {
		if _, seen := byUser[e.UserID]; !seen {
			order = append(order, e.UserID)
		}
		byUser[e.UserID] = append(byUser[e.UserID], e)
	}
	for _, userID := range order {
		chatID, err := strconv.ParseInt(userID, 10, 64)
		if err != nil {
			d.log.Warn().Str("user", userID).Msg("cannot address non-numeric user id")
			continue
		}
		d.send(Render(chatID, byUser[userID]))
	}
}

func (d *Daemon) send(msgs []tgbotapi.MessageConfig) {
	for _, msg := range msgs {
		if _, err := d.bot.Send(msg); err != nil {
			d.log.Warn().Err(err).Int64("chat", msg.ChatID).Msg("send reply")
		}
	}
}

func (d *Daemon) sendText(chatID int64, text string, markup any) {
	msg := tgbotapi.NewMessage(chatID, text)
	if markup != nil {
		msg.ReplyMarkup = markup
	}
	d.send([]tgbotapi.MessageConfig{msg})
}
