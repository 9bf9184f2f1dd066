// Command client is a terminal chat client. Lines are sent to the joined
// conversation; commands start with a slash:
//
//	/join <conversationId> <peerId>
//	/leave
//	/seen
//	/typing
//	/history
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/AlexMickh/market-chat/pkg/chatclient"
	"github.com/AlexMickh/market-chat/pkg/chatclient/cache"
	"github.com/AlexMickh/market-chat/pkg/events"
	"github.com/AlexMickh/market-chat/pkg/logger"
	"github.com/ilyakaznacheev/cleanenv"
	"go.uber.org/zap"
)

type config struct {
	Env            string        `env:"ENV" env-default:"local"`
	UserID         string        `env:"CHAT_USER_ID" env-required:"true"`
	ServerURL      string        `env:"CHAT_SERVER_URL" env-default:"ws://localhost:8080/socket-message"`
	APIURL         string        `env:"CHAT_API_URL" env-default:"http://localhost:8080"`
	RefreshURL     string        `env:"CHAT_REFRESH_URL" env-default:"http://localhost:8080/auth/refresh-token"`
	AccessToken    string        `env:"CHAT_ACCESS_TOKEN" env-required:"true"`
	RefreshToken   string        `env:"CHAT_REFRESH_TOKEN"`
	ConnectTimeout time.Duration `env:"CHAT_CONNECT_TIMEOUT" env-default:"10s"`
}

type session struct {
	manager *chatclient.Manager
	handler *chatclient.Handler
	cache   *cache.Cache
	me      string
	room    string
	peer    string
}

func main() {
	var cfg config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		fmt.Fprintln(os.Stderr, "failed to read config:", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logger.New(ctx, []string{"stderr"}, cfg.Env)
	log := logger.GetFromCtx(ctx)

	manager := chatclient.New(chatclient.Config{
		Tokens:         chatclient.Tokens{Access: cfg.AccessToken, Refresh: cfg.RefreshToken},
		ConnectTimeout: cfg.ConnectTimeout,
	},
		chatclient.NewWSDialer(cfg.ServerURL),
		chatclient.NewHTTPRefresher(cfg.RefreshURL),
		chatclient.WithStateHook(func(s chatclient.State) {
			log.Debug(ctx, "connection state", zap.Stringer("state", s))
		}),
	)
	defer manager.Dispose()

	s := &session{
		manager: manager,
		cache:   cache.New(),
		me:      cfg.UserID,
	}
	s.handler = chatclient.NewHandler(ctx, cfg.UserID, s.cache, printNotifier{},
		chatclient.WithHistory(chatclient.NewHTTPHistory(cfg.APIURL, manager.AccessToken)),
	)
	s.handler.Attach(manager)
	defer s.handler.Detach()

	if err := manager.Connect(ctx); err != nil {
		log.Fatal(ctx, "failed to connect", zap.Error(err))
	}

	go func() {
		for err := range manager.Errors() {
			log.Error(ctx, "chat error", zap.Error(err))
			if errors.Is(err, chatclient.ErrGaveUp) || errors.Is(err, chatclient.ErrAuthFailed) {
				stop()
				return
			}
		}
	}()

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if err := s.exec(ctx, strings.TrimSpace(line)); err != nil {
				fmt.Println("!", err)
			}
		}
	}
}

func (s *session) exec(ctx context.Context, line string) error {
	if line == "" {
		return nil
	}

	if !strings.HasPrefix(line, "/") {
		if s.room == "" {
			return errors.New("join a conversation first")
		}
		_, err := s.handler.Send(s.manager, s.room, s.peer, line)
		return err
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/join":
		if len(fields) != 3 {
			return errors.New("usage: /join <conversationId> <peerId>")
		}
		if s.room != "" {
			_ = s.manager.Leave(s.room)
		}
		joinCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := s.manager.Join(joinCtx, fields[1]); err != nil {
			return err
		}
		s.room, s.peer = fields[1], fields[2]
		fmt.Println("joined", s.room)
	case "/leave":
		if s.room == "" {
			return nil
		}
		err := s.manager.Leave(s.room)
		s.room, s.peer = "", ""
		return err
	case "/seen":
		if s.room == "" {
			return errors.New("join a conversation first")
		}
		s.cache.MarkAllViewed(s.room, s.peer)
		return s.manager.Seen(events.SeenRequest{ConversationID: s.room, PeerID: s.peer})
	case "/typing":
		if s.room == "" {
			return errors.New("join a conversation first")
		}
		return s.manager.Typing(s.room, true)
	case "/history":
		if s.room == "" {
			return errors.New("join a conversation first")
		}
		loadCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := s.handler.Load(loadCtx, s.room); err != nil {
			return err
		}
		for _, c := range s.cache.Chats(s.room) {
			mark := " "
			switch {
			case c.Pending:
				mark = "~"
			case c.Viewed:
				mark = "✓"
			}
			fmt.Printf("%s %s %s: %s\n", mark, c.Timestamp.Format(time.Kitchen), c.SentBy, c.Content)
		}
		fmt.Printf("unread: %d\n", s.cache.Unread(s.room, s.me))
	default:
		return fmt.Errorf("unknown command %s", fields[0])
	}

	return nil
}

type printNotifier struct{}

func (printNotifier) Notify(_ context.Context, _ string, msg events.Message) error {
	fmt.Printf("> %s: %s\n", msg.SentBy, msg.Content)
	return nil
}
