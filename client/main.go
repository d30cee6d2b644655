package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mahaj/chatkit/pkg/auth"
	"github.com/mahaj/chatkit/pkg/blob"
	"github.com/mahaj/chatkit/pkg/session"
	"github.com/mahaj/chatkit/pkg/transport"
)

// printer renders the transcript incrementally as the session core
// reports changes.
type printer struct {
	mu      sync.Mutex
	mgr     *session.Manager
	roomID  string
	printed int
	typing  string
}

func (p *printer) render() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.mgr == nil {
		return
	}
	r := p.mgr.Active()
	if r == nil {
		return
	}

	if r.ID() != p.roomID {
		p.roomID = r.ID()
		p.printed = 0
		p.typing = ""
		fmt.Printf("\r== %s ==\n> ", r.ID())
	}

	entries := session.Grouped(r.Transcript())
	if p.printed > len(entries) {
		// Backlog merge replaced the sequence; start over.
		p.printed = 0
	}
	for _, e := range entries[p.printed:] {
		if e.ShowDateSeparator {
			fmt.Printf("\r---- %s ----\n", e.DateLabel)
		}
		who := e.Message.Author.Name
		if e.Message.IsOwn {
			who = "you"
		}
		fmt.Printf("\r%s: %s", who, e.Message.Content)
		for _, a := range e.Message.Attachments {
			fmt.Printf(" [%s %s]", a.Name, a.URL)
		}
		fmt.Print("\n> ")
	}
	p.printed = len(entries)

	if t := r.TypingText(); t != p.typing {
		p.typing = t
		if t != "" {
			fmt.Printf("\r%s\n> ", t)
		}
	}
}

func fetchPresence(apiURL, token, roomID string) ([]string, error) {
	req, err := http.NewRequest(http.MethodGet, apiURL+"/rooms/"+roomID+"/users", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("presence request failed: %s", string(body))
	}

	var users []string
	if err := json.NewDecoder(resp.Body).Decode(&users); err != nil {
		return nil, err
	}
	return users, nil
}

func main() {
	gatewayAddr := flag.String("gateway", "localhost:8080", "gateway service address")
	apiURL := flag.String("api", "http://localhost:8081", "api service base URL")
	userID := flag.String("user", "user1", "user id")
	displayName := flag.String("name", "", "display name (defaults to user id)")
	channelID := flag.String("channel", "general", "channel to join")
	dmUser := flag.String("dm", "", "user id to dm (overrides -channel)")
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(zerolog.WarnLevel).
		With().Timestamp().Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watcher := auth.NewWatcher(*apiURL, logger)
	if err := watcher.Login(ctx, *userID, *displayName, ""); err != nil {
		fmt.Fprintln(os.Stderr, "login failed:", err)
		os.Exit(1)
	}

	rt := transport.NewClient(*gatewayAddr, *apiURL, watcher.Token(), logger)
	store := blob.NewHTTPStore(*apiURL, watcher.Token())

	p := &printer{}
	notifier := session.NewNotifier(0, nil)

	mgr := session.NewManager(ctx, session.Config{
		Realtime: rt,
		Blob:     store,
		Logger:   logger,
		OnChange: p.render,
	})
	p.mgr = mgr
	defer mgr.Close()
	defer notifier.Close()

	watcher.OnAuthStateChanged(mgr.HandleAuthState)

	if *dmUser != "" {
		mgr.SelectDM(*dmUser)
	} else {
		mgr.SelectChannel(*channelID)
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	done := make(chan struct{})
	go func() {
		defer close(done)
		scanner := bufio.NewScanner(os.Stdin)
		fmt.Print("> ")
		for scanner.Scan() {
			text := strings.TrimSpace(scanner.Text())
			if text == "" {
				fmt.Print("> ")
				continue
			}

			switch {
			case text == "/quit":
				return

			case strings.HasPrefix(text, "/join "):
				mgr.SelectChannel(strings.TrimSpace(strings.TrimPrefix(text, "/join ")))

			case strings.HasPrefix(text, "/dm "):
				mgr.SelectDM(strings.TrimSpace(strings.TrimPrefix(text, "/dm ")))

			case strings.HasPrefix(text, "/attach "):
				path := strings.TrimSpace(strings.TrimPrefix(text, "/attach "))
				r := mgr.Active()
				if r == nil {
					fmt.Println("no active room")
					break
				}
				data, err := os.ReadFile(path)
				if err != nil {
					fmt.Println("read failed:", err)
					break
				}
				name := filepath.Base(path)
				mimeType := mime.TypeByExtension(filepath.Ext(path))
				go func() {
					if err := r.Composer().Attach(ctx, name, mimeType, data); err == nil {
						notifier.Push(name + " attached")
					}
				}()

			case text == "/who":
				r := mgr.Active()
				if r == nil {
					fmt.Println("no active room")
					break
				}
				users, err := fetchPresence(*apiURL, watcher.Token(), r.ID())
				if err != nil {
					fmt.Println("presence failed:", err)
					break
				}
				fmt.Println("here:", strings.Join(users, ", "))

			default:
				r := mgr.Active()
				if r == nil {
					fmt.Println("no active room")
					break
				}
				comp := r.Composer()
				comp.SetInput(text)
				if err := comp.Send(ctx); err != nil {
					fmt.Println("send failed:", err)
				}
			}
			fmt.Print("> ")
		}
	}()

	select {
	case <-done:
	case <-interrupt:
		fmt.Println("\ninterrupt")
	}

	for _, n := range notifier.Active() {
		fmt.Println("*", n.Text)
	}
}
