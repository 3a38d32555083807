// Command chatclient is an interactive terminal client for the chat relay.
//
// It joins as CHAT_USER and reads commands from stdin:
//
//	/chat <user>   open a conversation with user
//	/history       show the stored conversation with the current peer
//	/quit          leave
//
// Any other line is sent to the current peer.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Tyrowin/chatrelay/internal/relay"
	"github.com/gorilla/websocket"
	"github.com/kelseyhightower/envconfig"
)

// Exit codes for the client application.
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

// Config defines the client-side environment variables.
type Config struct {
	ServerURL string `envconfig:"CHAT_SERVER_URL" default:"ws://localhost:8080/ws"`
	User      string `envconfig:"CHAT_USER" required:"true"`
	Origin    string `envconfig:"CHAT_ORIGIN" default:"http://localhost:8080"`
	Colours   bool   `envconfig:"CHAT_COLOURS" default:"true"`
}

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Client error: %v\n", err)
	}
	os.Exit(code)
}

func run() (int, error) {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	me := relay.UserID(config.User)
	if err := me.Validate(); err != nil {
		return exitConfig, fmt.Errorf("config error: CHAT_USER: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	header := http.Header{}
	if config.Origin != "" {
		header.Set("Origin", config.Origin)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, config.ServerURL, header)
	if err != nil {
		if resp != nil {
			return exitRuntime, fmt.Errorf("could not connect to %s (%s): %w", config.ServerURL, resp.Status, err)
		}
		return exitRuntime, fmt.Errorf("could not connect to %s: %w", config.ServerURL, err)
	}
	defer func() { _ = conn.Close() }()

	out := newPrinter(os.Stdout, me, config.Colours)
	session := &session{conn: conn, me: me, out: out}
	if err := session.send(map[string]any{"type": relay.EventJoin, "userId": me}); err != nil {
		return exitRuntime, err
	}
	out.info(fmt.Sprintf("Connected to %s as %s. Use /chat <user> to pick a peer.", config.ServerURL, me))

	readErr := make(chan error, 1)
	go func() { readErr <- session.readLoop() }()

	lines := make(chan string)
	go scanLines(os.Stdin, lines)

	for {
		select {
		case <-ctx.Done():
			session.close()
			return exitOK, nil
		case err := <-readErr:
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				out.info("Server closed the connection")
				return exitOK, nil
			}
			return exitRuntime, fmt.Errorf("connection lost: %w", err)
		case line, ok := <-lines:
			if !ok {
				session.close()
				return exitOK, nil
			}
			quit, err := session.handleLine(line)
			if err != nil {
				return exitRuntime, err
			}
			if quit {
				session.close()
				return exitOK, nil
			}
		}
	}
}

func scanLines(r io.Reader, lines chan<- string) {
	defer close(lines)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lines <- scanner.Text()
	}
}

type session struct {
	conn *websocket.Conn
	me   relay.UserID
	peer relay.UserID
	out  *printer
}

func (s *session) send(frame map[string]any) error {
	if err := s.conn.WriteJSON(frame); err != nil {
		return fmt.Errorf("send %v: %w", frame["type"], err)
	}
	return nil
}

func (s *session) close() {
	_ = s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
}

// handleLine runs one line of user input and reports whether to quit.
func (s *session) handleLine(line string) (bool, error) {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return false, nil
	case line == "/quit":
		return true, nil
	case strings.HasPrefix(line, "/chat"):
		peer := relay.UserID(strings.TrimSpace(strings.TrimPrefix(line, "/chat")))
		if err := peer.Validate(); err != nil {
			s.out.problem("usage: /chat <user>")
			return false, nil
		}
		s.peer = peer
		s.out.info(fmt.Sprintf("Chatting with %s", peer))
		return false, s.send(map[string]any{"type": relay.EventJoinChat, "senderId": s.me, "receiverId": peer})
	case line == "/history":
		if s.peer == "" {
			s.out.problem("pick a peer first with /chat <user>")
			return false, nil
		}
		return false, s.send(map[string]any{"type": relay.EventHistory, "senderId": s.me, "receiverId": s.peer})
	case strings.HasPrefix(line, "/"):
		s.out.problem(fmt.Sprintf("unknown command %q", line))
		return false, nil
	}

	if s.peer == "" {
		s.out.problem("pick a peer first with /chat <user>")
		return false, nil
	}
	return false, s.send(map[string]any{
		"type":       relay.EventSendMessage,
		"senderId":   s.me,
		"receiverId": s.peer,
		"message":    line,
	})
}

// readLoop prints every frame from the server until the connection fails.
func (s *session) readLoop() error {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return err
		}
		// The server batches queued frames one per line.
		for _, line := range strings.Split(string(data), "\n") {
			if line != "" {
				s.render([]byte(line))
			}
		}
	}
}

func (s *session) render(frame []byte) {
	var head struct {
		Type relay.EventType `json:"type"`
	}
	if err := json.Unmarshal(frame, &head); err != nil {
		s.out.problem(fmt.Sprintf("unreadable frame: %v", err))
		return
	}

	switch head.Type {
	case relay.EventOnlineUsers:
		var event relay.OnlineUsersEvent
		if json.Unmarshal(frame, &event) == nil {
			s.out.onlineUsers(event.Users)
		}
	case relay.EventReceiveMessage:
		var event relay.ReceiveMessageEvent
		if json.Unmarshal(frame, &event) == nil {
			s.out.message(event.Message)
		}
	case relay.EventHistory:
		var event relay.HistoryEvent
		if json.Unmarshal(frame, &event) == nil {
			s.out.history(event.Messages)
		}
	case relay.EventError:
		var event relay.ErrorEvent
		if json.Unmarshal(frame, &event) == nil {
			s.out.problem(event.Error)
		}
	default:
		s.out.problem(fmt.Sprintf("unexpected frame type %q", head.Type))
	}
}
