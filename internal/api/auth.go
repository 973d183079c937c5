package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"sync"
	"time"
)

const (
	// ticketTTL is how long a WebSocket ticket stays valid.
	ticketTTL = 60 * time.Second

	ticketBytes = 32
)

// ticketStore holds single-use WebSocket tickets so the bearer token
// never appears in a URL.
type ticketStore struct {
	mu      sync.Mutex
	tickets map[string]time.Time
}

func newTicketStore() *ticketStore {
	return &ticketStore{tickets: make(map[string]time.Time)}
}

func (t *ticketStore) issue() string {
	b := make([]byte, ticketBytes)
	rand.Read(b) //nolint:errcheck // crypto/rand.Read never fails on supported platforms
	ticket := hex.EncodeToString(b)

	t.mu.Lock()
	t.tickets[ticket] = time.Now().Add(ticketTTL)
	t.mu.Unlock()
	return ticket
}

// redeem consumes the ticket and reports whether it was valid.
func (t *ticketStore) redeem(ticket string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	expires, ok := t.tickets[ticket]
	if !ok {
		return false
	}
	delete(t.tickets, ticket)
	return time.Now().Before(expires)
}

func (t *ticketStore) clean() {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	for ticket, expires := range t.tickets {
		if now.After(expires) {
			delete(t.tickets, ticket)
		}
	}
}

func (s *Server) handleWSTicket(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ticket":     s.tickets.issue(),
		"expires_in": int(ticketTTL.Seconds()),
	})
}

func (s *Server) cleanTicketsLoop(ctx context.Context) {
	ticker := time.NewTicker(ticketTTL)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tickets.clean()
		}
	}
}
