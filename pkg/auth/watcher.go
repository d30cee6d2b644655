package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mahaj/chatkit/pkg/model"
)

// State is the auth snapshot delivered to OnAuthStateChanged callbacks.
// User is nil until a login completes.
type State struct {
	User      *model.User
	IsLoading bool
}

// Watcher owns the session identity. It logs in against the api service,
// holds the bearer token, and notifies registered callbacks on every state
// change. Callers treat the identity as read-only.
type Watcher struct {
	apiURL string
	http   *http.Client
	log    zerolog.Logger

	mu        sync.Mutex
	state     State
	token     string
	callbacks map[int]func(State)
	nextCB    int
}

func NewWatcher(apiURL string, logger zerolog.Logger) *Watcher {
	return &Watcher{
		apiURL:    apiURL,
		http:      &http.Client{Timeout: 15 * time.Second},
		log:       logger,
		state:     State{IsLoading: true},
		callbacks: make(map[int]func(State)),
	}
}

// OnAuthStateChanged registers a callback, invokes it immediately with the
// current state, and returns an unsubscribe function.
func (w *Watcher) OnAuthStateChanged(fn func(State)) (unsubscribe func()) {
	w.mu.Lock()
	id := w.nextCB
	w.nextCB++
	w.callbacks[id] = fn
	st := w.state
	w.mu.Unlock()

	fn(st)

	return func() {
		w.mu.Lock()
		delete(w.callbacks, id)
		w.mu.Unlock()
	}
}

type loginRequest struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

type loginResponse struct {
	Token string `json:"token"`
}

// Login signs in against the api service and publishes the new state. On
// failure the watcher settles into a signed-out, non-loading state.
func (w *Watcher) Login(ctx context.Context, userID, displayName, avatarURL string) error {
	body, _ := json.Marshal(loginRequest{UserID: userID, DisplayName: displayName, AvatarURL: avatarURL})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.apiURL+"/login", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.http.Do(req)
	if err != nil {
		w.setState(State{}, "")
		return fmt.Errorf("login request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		w.setState(State{}, "")
		return fmt.Errorf("login failed: %s", string(respBody))
	}

	var lr loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		w.setState(State{}, "")
		return fmt.Errorf("decode login response: %w", err)
	}

	claims, err := ValidateToken(lr.Token)
	if err != nil {
		w.setState(State{}, "")
		return fmt.Errorf("validate login token: %w", err)
	}

	user := &model.User{
		ID:          claims.UserID,
		DisplayName: claims.DisplayName,
		AvatarURL:   claims.AvatarURL,
	}
	w.setState(State{User: user}, lr.Token)
	w.log.Info().Str("user_id", user.ID).Msg("logged in")
	return nil
}

// Logout clears the session identity.
func (w *Watcher) Logout() {
	w.setState(State{}, "")
}

// Token returns the current bearer token, empty when signed out.
func (w *Watcher) Token() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.token
}

// Current returns the latest auth state.
func (w *Watcher) Current() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Watcher) setState(st State, token string) {
	w.mu.Lock()
	w.state = st
	w.token = token
	cbs := make([]func(State), 0, len(w.callbacks))
	for _, fn := range w.callbacks {
		cbs = append(cbs, fn)
	}
	w.mu.Unlock()

	for _, fn := range cbs {
		fn(st)
	}
}
