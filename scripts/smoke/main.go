package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"time"

	"github.com/vovakirdan/scopechat-server/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("smoke: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "localhost:1357", "server address")
	user := flag.String("user", "tester", "client name announced in the handshake")
	channel := flag.String("channel", "smoke", "channel to create and join")
	password := flag.String("password", "", "channel password")
	text := flag.String("text", "hello from smoke test", "message text to send")
	inject := flag.String("inject", "", "optional code to inject into the channel scope")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	conn, err := net.DialTimeout("tcp", *addr, *timeout)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(*timeout))

	hs, err := proto.EncodeHandshake(*user)
	if err != nil {
		return fmt.Errorf("encode handshake: %w", err)
	}
	if _, err := conn.Write(hs); err != nil {
		return fmt.Errorf("handshake: %w", err)
	}

	frames := []proto.Envelope{
		proto.CommandEnvelope(proto.ChannelCommand{Request: proto.RequestCreate, Channel: *channel, Password: *password}),
		proto.CommandEnvelope(proto.ChannelCommand{Request: proto.RequestJoin, Channel: *channel, Password: *password}),
	}
	if *inject != "" {
		frames = append(frames, proto.MessageEnvelope(proto.ChatMessage{Inject: true, Channel: *channel, Text: *inject}))
	}
	frames = append(frames, proto.MessageEnvelope(proto.ChatMessage{Channel: *channel, Text: *text}))

	for _, env := range frames {
		buf, err := proto.Encode(env)
		if err != nil {
			return fmt.Errorf("encode %s: %w", env.Type, err)
		}
		if _, err := conn.Write(buf); err != nil {
			return fmt.Errorf("send %s: %w", env.Type, err)
		}
	}

	// The server echoes chat to every member, the sender included.
	reasm := proto.NewReassembler(0)
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return errors.New("timed out waiting for echo")
			}
			return fmt.Errorf("read: %w", err)
		}
		envs, err := reasm.Feed(buf[:n])
		if err != nil {
			return err
		}
		for _, env := range envs {
			msg := env.Message
			log.Printf("recv [%s] %s: %s", msg.Channel, msg.Sender, msg.Text)
			if msg.Channel == *channel && msg.Text == *text {
				log.Printf("smoke test passed")
				return nil
			}
		}
	}
}
