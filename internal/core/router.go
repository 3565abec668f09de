package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/scopechat-server/internal/proto"
	"github.com/vovakirdan/scopechat-server/internal/script"
	"github.com/vovakirdan/scopechat-server/internal/store"
)

// RouterConfig tunes a Router.
type RouterConfig struct {
	DefaultChannel  string
	MaxNameLength   int
	InjectTimeout   time.Duration
	InjectQueueSize int
	// Registerer receives the router's collectors; nil disables metrics.
	Registerer prometheus.Registerer
}

// ChannelInfo is a read-only view of a channel.
type ChannelInfo struct {
	Name      string `json:"name"`
	Members   int    `json:"members"`
	Protected bool   `json:"protected"`
	Scope     string `json:"scope"`
}

// ClientInfo is a read-only view of a connected client.
type ClientInfo struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Addr     string   `json:"addr"`
	Channels []string `json:"channels"`
}

// Router owns the client and channel registries and dispatches decoded
// envelopes to channel operations.
type Router struct {
	cfg      RouterConfig
	registry *Registry
	engine   script.Engine
	injector *Injector
	store    store.ChannelStore
	metrics  *routerMetrics
	log      *zerolog.Logger
}

// NewRouter creates a router with its default channel. st may be nil, in
// which case channels live only in memory.
func NewRouter(engine script.Engine, st store.ChannelStore, cfg RouterConfig, logger *zerolog.Logger) (*Router, error) {
	if cfg.DefaultChannel == "" {
		return nil, fmt.Errorf("%w: default channel", ErrInvalidChannelName)
	}
	if cfg.MaxNameLength <= 0 {
		cfg.MaxNameLength = 64
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	m := newRouterMetrics(cfg.Registerer)
	r := &Router{
		cfg:      cfg,
		registry: NewRegistry(),
		engine:   engine,
		injector: newInjector(engine, cfg.InjectTimeout, cfg.InjectQueueSize, m, logger),
		store:    st,
		metrics:  m,
		log:      logger,
	}

	lobby := restoreChannel(cfg.DefaultChannel, "", engine.CreateScope())
	if err := r.registry.AddChannel(lobby); err != nil {
		return nil, err
	}
	r.metrics.channelCreated()
	return r, nil
}

// Restore recreates persisted channels with fresh scopes. Names already
// live (such as the default channel) are left untouched.
func (r *Router) Restore(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	channels, err := r.store.ListChannels(ctx)
	if err != nil {
		return fmt.Errorf("restore channels: %w", err)
	}

	restored := 0
	for _, sc := range channels {
		ch := restoreChannel(sc.Name, sc.PasswordHash, r.engine.CreateScope())
		if err := r.registry.AddChannel(ch); err != nil {
			continue
		}
		r.metrics.channelCreated()
		restored++
	}
	r.log.Info().Int("channels", restored).Msg("channels restored")
	return nil
}

// DefaultChannel returns the channel every client is subscribed to on registration.
func (r *Router) DefaultChannel() *Channel {
	ch, _ := r.registry.Channel(r.cfg.DefaultChannel)
	return ch
}

// Register adds c to the registry and subscribes it to the default channel.
// Duplicate names are rejected; the existing client keeps its name.
func (r *Router) Register(c *Client) error {
	if err := r.validateName(c.Name); err != nil {
		return err
	}
	if err := r.registry.AddClient(c); err != nil {
		r.log.Info().Str("client", c.Name).Str("addr", c.Addr).Msg("rejected duplicate client name")
		return err
	}
	r.metrics.clientRegistered()

	if err := r.DefaultChannel().Join(c, ""); err != nil {
		r.log.Warn().Err(err).Str("client", c.Name).Msg("join default channel")
	}
	r.log.Info().Str("client", c.Name).Str("addr", c.Addr).Str("conn_id", c.ID).Msg("client registered")
	return nil
}

// validateName accepts printable ASCII without spaces or dots; dots are
// reserved as the sender chain separator.
func (r *Router) validateName(name string) error {
	if name == "" || len(name) > r.cfg.MaxNameLength {
		return fmt.Errorf("%w: length %d", ErrInvalidName, len(name))
	}
	for i := 0; i < len(name); i++ {
		if b := name[i]; b <= ' ' || b > '~' || b == '.' {
			return fmt.Errorf("%w: byte %q at %d", ErrInvalidName, b, i)
		}
	}
	return nil
}

// Kick removes the named client from every channel, erases it from the
// registry and closes its transport.
func (r *Router) Kick(name string) bool {
	c, ok := r.registry.Client(name)
	if !ok {
		return false
	}
	return r.kick(c, nil)
}

// Deregister tears down c after its connection ended. reason is the error
// that ended it, nil for a clean close.
func (r *Router) Deregister(c *Client, reason error) {
	if errors.Is(reason, proto.ErrProtocolViolation) {
		r.metrics.recordProtocolError()
	}
	r.kick(c, reason)
}

func (r *Router) kick(c *Client, reason error) bool {
	if !r.registry.RemoveClient(c) {
		return false
	}
	c.kicked.Store(true)
	for _, ch := range r.registry.Channels() {
		_ = ch.Leave(c)
	}
	r.metrics.clientRemoved()

	if err := c.conn.Close(); err != nil {
		r.log.Debug().Err(err).Str("client", c.Name).Msg("close kicked client")
	}

	ev := r.log.Info().Str("client", c.Name).Str("conn_id", c.ID)
	if reason != nil {
		ev = ev.AnErr("reason", reason)
	}
	ev.Msg("client disconnected")
	return true
}

// Submit dispatches one envelope received from c. Unknown channels, wrong
// passwords and duplicate creates are dropped without telling the sender so
// that channel existence does not leak.
func (r *Router) Submit(ctx context.Context, c *Client, env proto.Envelope) {
	var err error
	switch env.Type {
	case proto.FrameMessage:
		if env.Message.Inject {
			r.metrics.recordFrame("inject")
			err = r.Inject(env.Message.Channel, env.Message.Text)
		} else {
			r.metrics.recordFrame("message")
			err = r.Broadcast(c, env.Message)
		}
	case proto.FrameChannelCommand:
		r.metrics.recordFrame(env.Command.Request.String())
		err = r.handleCommand(ctx, c, env.Command)
	default:
		err = fmt.Errorf("unexpected frame type %s", env.Type)
	}

	if err != nil {
		r.metrics.recordDrop(dropReason(err), 1)
		r.log.Debug().Err(err).Str("client", c.Name).Str("frame", env.Type.String()).Msg("request dropped")
	}
}

func (r *Router) handleCommand(ctx context.Context, c *Client, cmd proto.ChannelCommand) error {
	switch cmd.Request {
	case proto.RequestJoin:
		return r.JoinChannel(c, cmd.Channel, cmd.Password)
	case proto.RequestLeave:
		return r.LeaveChannel(c, cmd.Channel)
	case proto.RequestCreate:
		_, err := r.CreateChannel(ctx, cmd.Channel, cmd.Password)
		return err
	default:
		return fmt.Errorf("unexpected request %s", cmd.Request)
	}
}

// Broadcast stamps msg with the sender's registered name and fans it out to
// the channel's current members.
func (r *Router) Broadcast(from *Client, msg proto.ChatMessage) error {
	ch, ok := r.registry.Channel(msg.Channel)
	if !ok {
		return fmt.Errorf("%w: %s", ErrChannelNotFound, msg.Channel)
	}

	msg.AddSenderPrefix(from.Name)
	delivered, dropped := ch.Broadcast(msg)
	r.metrics.recordDrop("slow_consumer", dropped)
	r.log.Debug().
		Str("channel", ch.Name).
		Str("sender", msg.Sender).
		Int("delivered", delivered).
		Int("dropped", dropped).
		Msg("message broadcast")
	return nil
}

// Inject hands code to the execution scope of the named channel. The text is
// never delivered to members.
func (r *Router) Inject(channel, code string) error {
	ch, ok := r.registry.Channel(channel)
	if !ok {
		return fmt.Errorf("%w: %s", ErrChannelNotFound, channel)
	}
	if !r.injector.Enqueue(ch, code) {
		return fmt.Errorf("%w: %s", ErrInjectQueueFull, channel)
	}
	return nil
}

// JoinChannel subscribes c to an existing channel if password matches.
func (r *Router) JoinChannel(c *Client, channel, password string) error {
	ch, ok := r.registry.Channel(channel)
	if !ok {
		return fmt.Errorf("%w: %s", ErrChannelNotFound, channel)
	}
	if err := ch.Join(c, password); err != nil {
		return err
	}
	r.log.Debug().Str("client", c.Name).Str("channel", channel).Msg("joined channel")
	return nil
}

// LeaveChannel unsubscribes c from a channel; no password is needed.
func (r *Router) LeaveChannel(c *Client, channel string) error {
	ch, ok := r.registry.Channel(channel)
	if !ok {
		return fmt.Errorf("%w: %s", ErrChannelNotFound, channel)
	}
	if err := ch.Leave(c); err != nil {
		return err
	}
	r.log.Debug().Str("client", c.Name).Str("channel", channel).Msg("left channel")
	return nil
}

// CreateChannel creates a channel with a fresh execution scope. If the name
// is taken the existing channel is left as it is and ErrChannelExists is
// returned.
func (r *Router) CreateChannel(ctx context.Context, name, password string) (*Channel, error) {
	if strings.TrimSpace(name) == "" {
		return nil, ErrInvalidChannelName
	}
	if _, exists := r.registry.Channel(name); exists {
		return nil, fmt.Errorf("%w: %s", ErrChannelExists, name)
	}

	ch, err := NewChannel(name, password, r.engine.CreateScope())
	if err != nil {
		return nil, fmt.Errorf("create channel %s: %w", name, err)
	}
	// Re-checked inside the registry lock; a concurrent create may have won.
	if err := r.registry.AddChannel(ch); err != nil {
		return nil, fmt.Errorf("%w: %s", err, name)
	}
	r.metrics.channelCreated()
	r.log.Info().Str("channel", name).Bool("protected", ch.Protected()).Msg("channel created")

	if r.store != nil {
		if _, err := r.store.SaveChannel(ctx, name, ch.PasswordHash()); err != nil {
			r.log.Warn().Err(err).Str("channel", name).Msg("persist channel")
		}
	}
	return ch, nil
}

// Channel looks up a live channel.
func (r *Router) Channel(name string) (*Channel, bool) {
	return r.registry.Channel(name)
}

// Client looks up a connected client.
func (r *Router) Client(name string) (*Client, bool) {
	return r.registry.Client(name)
}

// Channels lists live channels.
func (r *Router) Channels() []ChannelInfo {
	channels := r.registry.Channels()
	out := make([]ChannelInfo, 0, len(channels))
	for _, ch := range channels {
		out = append(out, ChannelInfo{
			Name:      ch.Name,
			Members:   ch.Len(),
			Protected: ch.Protected(),
			Scope:     ch.Scope.ID(),
		})
	}
	return out
}

// Clients lists connected clients with their subscriptions.
func (r *Router) Clients() []ClientInfo {
	channels := r.registry.Channels()
	clients := r.registry.Clients()
	out := make([]ClientInfo, 0, len(clients))
	for _, c := range clients {
		info := ClientInfo{ID: c.ID, Name: c.Name, Addr: c.Addr, Channels: []string{}}
		for _, ch := range channels {
			if ch.IsMember(c) {
				info.Channels = append(info.Channels, ch.Name)
			}
		}
		out = append(out, info)
	}
	return out
}

// Close stops the injection workers.
func (r *Router) Close() {
	r.injector.Close()
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, ErrChannelNotFound):
		return "unknown_channel"
	case errors.Is(err, ErrWrongPassword):
		return "wrong_password"
	case errors.Is(err, ErrChannelExists):
		return "channel_exists"
	case errors.Is(err, ErrAlreadyJoined), errors.Is(err, ErrNotInChannel):
		return "membership_noop"
	case errors.Is(err, ErrInjectQueueFull):
		return "inject_queue_full"
	default:
		return "other"
	}
}
