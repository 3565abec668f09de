package core

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/vovakirdan/scopechat-server/internal/proto"
	"github.com/vovakirdan/scopechat-server/internal/script"
	"github.com/vovakirdan/scopechat-server/internal/store/sqlite"
)

func TestRegisterJoinsDefaultChannel(t *testing.T) {
	r := newTestRouter(t, nil)
	alice, _ := mustRegister(t, r, "alice")

	if !r.DefaultChannel().IsMember(alice) {
		t.Fatalf("client not subscribed to default channel")
	}
	if got, ok := r.Client("alice"); !ok || got != alice {
		t.Fatalf("client not in registry")
	}
}

func TestRegisterRejectsDuplicateAndInvalidNames(t *testing.T) {
	r := newTestRouter(t, nil)
	first, _ := mustRegister(t, r, "alice")

	dup := NewClient("id-2", "alice", "", &fakeConn{})
	if err := r.Register(dup); !errors.Is(err, ErrNameTaken) {
		t.Fatalf("expected ErrNameTaken, got %v", err)
	}
	if got, _ := r.Client("alice"); got != first {
		t.Fatalf("duplicate registration replaced the existing client")
	}
	if r.DefaultChannel().IsMember(dup) {
		t.Fatalf("rejected client joined the default channel")
	}

	for _, name := range []string{"", "has space", "dotted.name", "tab\t", string(make([]byte, 65))} {
		c := NewClient("x", name, "", &fakeConn{})
		if err := r.Register(c); !errors.Is(err, ErrInvalidName) {
			t.Fatalf("name %q: expected ErrInvalidName, got %v", name, err)
		}
	}
}

func TestBroadcastAppliesSenderPrefix(t *testing.T) {
	r := newTestRouter(t, nil)
	alice, aliceConn := mustRegister(t, r, "alice")
	_, bobConn := mustRegister(t, r, "bob")

	r.Submit(context.Background(), alice, proto.MessageEnvelope(proto.ChatMessage{
		Channel: "Lobby",
		Text:    "hello",
		Sender:  "bot",
	}))

	for name, conn := range map[string]*fakeConn{"alice": aliceConn, "bob": bobConn} {
		got := conn.received()
		if len(got) != 1 {
			t.Fatalf("%s: expected 1 message, got %d", name, len(got))
		}
		if got[0].Sender != "alice.bot" || got[0].Text != "hello" || got[0].Channel != "Lobby" {
			t.Fatalf("%s: unexpected message %+v", name, got[0])
		}
	}
}

func TestUnknownChannelIsDroppedSilently(t *testing.T) {
	r := newTestRouter(t, nil)
	alice, aliceConn := mustRegister(t, r, "alice")
	ctx := context.Background()

	r.Submit(ctx, alice, proto.MessageEnvelope(proto.ChatMessage{Channel: "ghost", Text: "hi"}))
	r.Submit(ctx, alice, proto.MessageEnvelope(proto.ChatMessage{Inject: true, Channel: "ghost", Text: "x"}))
	r.Submit(ctx, alice, proto.CommandEnvelope(proto.ChannelCommand{Request: proto.RequestJoin, Channel: "ghost"}))
	r.Submit(ctx, alice, proto.CommandEnvelope(proto.ChannelCommand{Request: proto.RequestLeave, Channel: "ghost"}))

	if got := aliceConn.received(); len(got) != 0 {
		t.Fatalf("sender should receive nothing, got %+v", got)
	}
	if _, ok := r.Channel("ghost"); ok {
		t.Fatalf("unknown channel was created")
	}
}

func TestJoinLeaveThroughCommands(t *testing.T) {
	r := newTestRouter(t, nil)
	alice, _ := mustRegister(t, r, "alice")
	ctx := context.Background()

	r.Submit(ctx, alice, proto.CommandEnvelope(proto.ChannelCommand{Request: proto.RequestCreate, Channel: "vault", Password: "secret"}))
	vault, ok := r.Channel("vault")
	if !ok {
		t.Fatalf("create command did not create channel")
	}
	if vault.IsMember(alice) {
		t.Fatalf("creator should not be auto-joined")
	}

	r.Submit(ctx, alice, proto.CommandEnvelope(proto.ChannelCommand{Request: proto.RequestJoin, Channel: "vault", Password: ""}))
	if vault.IsMember(alice) {
		t.Fatalf("empty password granted membership")
	}
	r.Submit(ctx, alice, proto.CommandEnvelope(proto.ChannelCommand{Request: proto.RequestJoin, Channel: "vault", Password: "other"}))
	if vault.IsMember(alice) {
		t.Fatalf("wrong password granted membership")
	}
	r.Submit(ctx, alice, proto.CommandEnvelope(proto.ChannelCommand{Request: proto.RequestJoin, Channel: "vault", Password: "secret"}))
	if !vault.IsMember(alice) {
		t.Fatalf("correct password did not grant membership")
	}

	r.Submit(ctx, alice, proto.CommandEnvelope(proto.ChannelCommand{Request: proto.RequestLeave, Channel: "vault"}))
	if vault.IsMember(alice) {
		t.Fatalf("leave did not remove membership")
	}
}

func TestCreateTwiceKeepsFirstPassword(t *testing.T) {
	r := newTestRouter(t, nil)
	alice, aliceConn := mustRegister(t, r, "alice")
	ctx := context.Background()

	r.Submit(ctx, alice, proto.CommandEnvelope(proto.ChannelCommand{Request: proto.RequestCreate, Channel: "Lobby2", Password: "p1"}))
	first, ok := r.Channel("Lobby2")
	if !ok {
		t.Fatalf("channel not created")
	}
	scope := first.Scope

	r.Submit(ctx, alice, proto.CommandEnvelope(proto.ChannelCommand{Request: proto.RequestCreate, Channel: "Lobby2", Password: "p2"}))
	second, _ := r.Channel("Lobby2")
	if second != first || second.Scope != scope {
		t.Fatalf("second create replaced the channel")
	}
	if !second.CheckPassword("p1") || second.CheckPassword("p2") {
		t.Fatalf("password changed by second create")
	}
	if got := aliceConn.received(); len(got) != 0 {
		t.Fatalf("second create produced output: %+v", got)
	}

	if _, err := r.CreateChannel(ctx, "Lobby2", "p3"); !errors.Is(err, ErrChannelExists) {
		t.Fatalf("expected ErrChannelExists, got %v", err)
	}
}

func TestCreateAndJoinWithLongPassword(t *testing.T) {
	r := newTestRouter(t, nil)
	alice, _ := mustRegister(t, r, "alice")
	bob, _ := mustRegister(t, r, "bob")
	ctx := context.Background()
	password := strings.Repeat("x", 73)

	r.Submit(ctx, alice, proto.CommandEnvelope(proto.ChannelCommand{Request: proto.RequestCreate, Channel: "big", Password: password}))
	big, ok := r.Channel("big")
	if !ok {
		t.Fatalf("channel with a 73-byte password was not created")
	}

	r.Submit(ctx, bob, proto.CommandEnvelope(proto.ChannelCommand{Request: proto.RequestJoin, Channel: "big", Password: strings.Repeat("x", 72) + "y"}))
	if big.IsMember(bob) {
		t.Fatalf("wrong long password granted membership")
	}
	r.Submit(ctx, alice, proto.CommandEnvelope(proto.ChannelCommand{Request: proto.RequestJoin, Channel: "big", Password: password}))
	if !big.IsMember(alice) {
		t.Fatalf("correct long password refused")
	}
}

func TestBroadcastWithMaximalSenderChainIsDelivered(t *testing.T) {
	r := newTestRouter(t, nil)
	alice, _ := mustRegister(t, r, "alice")
	_, bobConn := mustRegister(t, r, "bob")

	hops := strings.Repeat("relay.", proto.MaxFieldLength/6)
	chain := hops + strings.Repeat("z", proto.MaxFieldLength-len(hops))
	r.Submit(context.Background(), alice, proto.MessageEnvelope(proto.ChatMessage{Channel: "Lobby", Text: "hi", Sender: chain}))

	got := bobConn.received()
	if len(got) != 1 {
		t.Fatalf("expected delivery, got %d messages", len(got))
	}
	if len(got[0].Sender) > proto.MaxFieldLength || !strings.HasPrefix(got[0].Sender, "alice.relay.") {
		t.Fatalf("sender chain not trimmed to fit: %d bytes", len(got[0].Sender))
	}
	if _, err := proto.Encode(proto.MessageEnvelope(got[0])); err != nil {
		t.Fatalf("delivered message does not encode: %v", err)
	}
}

func TestCreateRejectsBlankChannelName(t *testing.T) {
	r := newTestRouter(t, nil)
	for _, name := range []string{"", "   "} {
		if _, err := r.CreateChannel(context.Background(), name, ""); !errors.Is(err, ErrInvalidChannelName) {
			t.Fatalf("create %q: expected ErrInvalidChannelName, got %v", name, err)
		}
	}
}

func TestInjectionIsNeverBroadcast(t *testing.T) {
	rec := script.NewRecorder(nil)
	r := newTestRouter(t, rec)
	alice, aliceConn := mustRegister(t, r, "alice")
	_, bobConn := mustRegister(t, r, "bob")

	code := "print('secret payload')"
	r.Submit(context.Background(), alice, proto.MessageEnvelope(proto.ChatMessage{Inject: true, Channel: "Lobby", Text: code}))

	scope := r.DefaultChannel().Scope
	eventually(t, func() bool { return len(rec.History(scope)) == 1 }, "injection executed")
	if got := rec.History(scope)[0]; got != code {
		t.Fatalf("engine received %q, want %q", got, code)
	}

	for _, conn := range []*fakeConn{aliceConn, bobConn} {
		for _, msg := range conn.received() {
			if msg.Text == code {
				t.Fatalf("injected text was broadcast")
			}
		}
	}
}

// blockingEngine holds Execute for the blocked scope until released.
type blockingEngine struct {
	*script.Recorder
	blocked script.Scope
	release chan struct{}
	started chan struct{}
}

func (e *blockingEngine) Execute(ctx context.Context, code string, scope script.Scope) error {
	if scope == e.blocked {
		close(e.started)
		select {
		case <-e.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return e.Recorder.Execute(ctx, code, scope)
}

func TestSlowInjectionDoesNotStallOtherChannels(t *testing.T) {
	engine := &blockingEngine{
		Recorder: script.NewRecorder(nil),
		release:  make(chan struct{}),
		started:  make(chan struct{}),
	}
	r := newTestRouter(t, engine)
	alice, _ := mustRegister(t, r, "alice")
	bob, bobConn := mustRegister(t, r, "bob")
	ctx := context.Background()

	slow := mustCreate(t, r, "slow", "")
	fast := mustCreate(t, r, "fast", "")
	engine.blocked = slow.Scope
	if err := fast.Join(bob, ""); err != nil {
		t.Fatalf("join: %v", err)
	}

	r.Submit(ctx, alice, proto.MessageEnvelope(proto.ChatMessage{Inject: true, Channel: "slow", Text: "while True: pass"}))
	select {
	case <-engine.started:
	case <-time.After(2 * time.Second):
		t.Fatalf("slow injection never started")
	}

	done := make(chan struct{})
	go func() {
		r.Submit(ctx, alice, proto.MessageEnvelope(proto.ChatMessage{Channel: "fast", Text: "still here"}))
		r.Submit(ctx, alice, proto.MessageEnvelope(proto.ChatMessage{Inject: true, Channel: "fast", Text: "y = 1"}))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("dispatch blocked behind a running injection")
	}

	if got := bobConn.received(); len(got) != 1 || got[0].Text != "still here" {
		t.Fatalf("chat on other channel not delivered: %+v", got)
	}
	eventually(t, func() bool { return len(engine.History(fast.Scope)) == 1 }, "injection on other channel executed")

	close(engine.release)
	eventually(t, func() bool { return len(engine.History(slow.Scope)) == 1 }, "slow injection finished")
}

func TestInjectionTimeoutCancelsContext(t *testing.T) {
	engine := &blockingEngine{
		Recorder: script.NewRecorder(nil),
		release:  make(chan struct{}),
		started:  make(chan struct{}),
	}
	r, err := NewRouter(engine, nil, RouterConfig{
		DefaultChannel:  "Lobby",
		InjectTimeout:   50 * time.Millisecond,
		InjectQueueSize: 1,
	}, nil)
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	defer r.Close()

	engine.blocked = r.DefaultChannel().Scope
	if err := r.Inject("Lobby", "loop()"); err != nil {
		t.Fatalf("inject: %v", err)
	}
	<-engine.started

	// The blocked execution gives up once its deadline passes, so the
	// worker is free for the next job.
	engine.blocked = nil
	eventually(t, func() bool { return r.Inject("Lobby", "after()") == nil && len(engine.History(r.DefaultChannel().Scope)) >= 1 }, "worker recovered after timeout")
}

func TestKickRemovesFromAllChannels(t *testing.T) {
	r := newTestRouter(t, nil)
	alice, aliceConn := mustRegister(t, r, "alice")
	bob, bobConn := mustRegister(t, r, "bob")

	dev := mustCreate(t, r, "dev", "")
	if err := dev.Join(alice, ""); err != nil {
		t.Fatalf("join: %v", err)
	}

	if !r.Kick("alice") {
		t.Fatalf("kick returned false")
	}
	if r.Kick("alice") {
		t.Fatalf("second kick should be a no-op")
	}
	if !aliceConn.isClosed() {
		t.Fatalf("kicked client's transport not closed")
	}
	if _, ok := r.Client("alice"); ok {
		t.Fatalf("kicked client still registered")
	}
	for _, ch := range []*Channel{r.DefaultChannel(), dev} {
		if ch.IsMember(alice) {
			t.Fatalf("kicked client still in %s", ch.Name)
		}
	}

	r.Submit(context.Background(), bob, proto.MessageEnvelope(proto.ChatMessage{Channel: "Lobby", Text: "bye"}))
	if got := aliceConn.received(); len(got) != 0 {
		t.Fatalf("kicked client received %+v", got)
	}
	if got := bobConn.received(); len(got) != 1 {
		t.Fatalf("remaining member got %d messages", len(got))
	}

	// The name is free again once the holder is gone.
	mustRegister(t, r, "alice")
}

func TestDeregisterIgnoresStaleClient(t *testing.T) {
	r := newTestRouter(t, nil)
	old, _ := mustRegister(t, r, "alice")
	r.Deregister(old, nil)
	fresh, _ := mustRegister(t, r, "alice")

	r.Deregister(old, nil)
	if got, ok := r.Client("alice"); !ok || got != fresh {
		t.Fatalf("stale deregister removed the new client")
	}
}

func TestBroadcastRacingLeave(t *testing.T) {
	for i := 0; i < 200; i++ {
		r, err := NewRouter(script.NewRecorder(nil), nil, RouterConfig{DefaultChannel: "Lobby"}, nil)
		if err != nil {
			t.Fatalf("new router: %v", err)
		}
		sender := NewClient("s", "sender", "", &fakeConn{})
		if err := r.Register(sender); err != nil {
			t.Fatalf("register: %v", err)
		}
		ch, err := r.CreateChannel(context.Background(), "room", "")
		if err != nil {
			t.Fatalf("create: %v", err)
		}

		conns := map[string]*fakeConn{"X": {}, "Y": {}, "Z": {}}
		clients := map[string]*Client{}
		for name, conn := range conns {
			c := NewClient(name, name, "", conn)
			if err := r.Register(c); err != nil {
				t.Fatalf("register: %v", err)
			}
			_ = ch.Join(c, "")
			clients[name] = c
		}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = r.Broadcast(sender, proto.ChatMessage{Channel: "room", Text: "m"})
		}()
		go func() {
			defer wg.Done()
			_ = r.LeaveChannel(clients["Y"], "room")
		}()
		wg.Wait()

		for _, name := range []string{"X", "Z"} {
			if n := len(conns[name].received()); n != 1 {
				t.Fatalf("iteration %d: %s received %d messages", i, name, n)
			}
		}
		if n := len(conns["Y"].received()); n > 1 {
			t.Fatalf("iteration %d: Y received %d messages", i, n)
		}
		r.Close()
	}
}

func TestRestoreFromStore(t *testing.T) {
	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	defer st.Close()
	ctx := context.Background()

	first, err := NewRouter(script.NewRecorder(nil), st, RouterConfig{DefaultChannel: "Lobby"}, nil)
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	mustCreate(t, first, "vault", "secret")
	mustCreate(t, first, "open", "")
	first.Close()

	second, err := NewRouter(script.NewRecorder(nil), st, RouterConfig{DefaultChannel: "Lobby"}, nil)
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	defer second.Close()
	if err := second.Restore(ctx); err != nil {
		t.Fatalf("restore: %v", err)
	}

	vault, ok := second.Channel("vault")
	if !ok {
		t.Fatalf("vault not restored")
	}
	if !vault.CheckPassword("secret") || vault.CheckPassword("") {
		t.Fatalf("restored password does not match")
	}
	if _, ok := second.Channel("open"); !ok {
		t.Fatalf("open channel not restored")
	}
	if len(second.Channels()) != 3 {
		t.Fatalf("expected 3 channels, got %+v", second.Channels())
	}
}

func TestRouterMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	r, err := NewRouter(script.NewRecorder(nil), nil, RouterConfig{DefaultChannel: "Lobby", Registerer: reg}, nil)
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	defer r.Close()

	alice, _ := mustRegister(t, r, "alice")
	mustRegister(t, r, "bob")
	if got := testutil.ToFloat64(r.metrics.activeClients); got != 2 {
		t.Fatalf("active clients: got %v", got)
	}

	r.Submit(context.Background(), alice, proto.MessageEnvelope(proto.ChatMessage{Channel: "ghost", Text: "x"}))
	if got := testutil.ToFloat64(r.metrics.dropped.WithLabelValues("unknown_channel")); got != 1 {
		t.Fatalf("unknown channel drops: got %v", got)
	}

	r.Deregister(alice, proto.ErrProtocolViolation)
	if got := testutil.ToFloat64(r.metrics.protocolErrors); got != 1 {
		t.Fatalf("protocol errors: got %v", got)
	}
	if got := testutil.ToFloat64(r.metrics.activeClients); got != 1 {
		t.Fatalf("active clients after deregister: got %v", got)
	}
}

func TestClientsAndChannelsViews(t *testing.T) {
	r := newTestRouter(t, nil)
	alice, _ := mustRegister(t, r, "alice")
	mustRegister(t, r, "bob")
	dev := mustCreate(t, r, "dev", "pw")
	if err := dev.Join(alice, "pw"); err != nil {
		t.Fatalf("join: %v", err)
	}

	clients := r.Clients()
	if len(clients) != 2 || clients[0].Name != "alice" {
		t.Fatalf("unexpected clients: %+v", clients)
	}
	if len(clients[0].Channels) != 2 {
		t.Fatalf("alice should be in 2 channels, got %v", clients[0].Channels)
	}

	channels := r.Channels()
	if len(channels) != 2 || channels[0].Name != "Lobby" || channels[1].Name != "dev" {
		t.Fatalf("unexpected channels: %+v", channels)
	}
	if !channels[1].Protected || channels[0].Protected {
		t.Fatalf("protection flags wrong: %+v", channels)
	}
	if channels[0].Members != 2 {
		t.Fatalf("lobby members: %d", channels[0].Members)
	}
}
