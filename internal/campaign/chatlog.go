package campaign

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// ChatSummary is one inbox row.
type ChatSummary struct {
	Contact    ContactID `json:"contact"`
	Phone      string    `json:"phone"`
	UpdatedAt  time.Time `json:"updated_at"`
	Unread     int       `json:"unread"`
	Pinned     bool      `json:"pinned"`
	PinnedAt   time.Time `json:"pinned_at,omitzero"`
	LastText   string    `json:"last_text,omitempty"`
	LastFromMe bool      `json:"last_from_me"`
}

func (e *Engine) appendChatLocked(c ContactID, fromMe bool, text string, at time.Time, simulated bool) {
	if strings.TrimSpace(text) == "" {
		return
	}
	ch, ok := e.st.chats[c]
	if !ok {
		ch = Chat{Phone: "+" + string(c)}
	}
	ch.Messages = append(ch.Messages, ChatMessage{
		ID:        ulid.MustNew(ulid.Timestamp(at), ulid.DefaultEntropy()).String(),
		FromMe:    fromMe,
		Text:      text,
		At:        at,
		Simulated: simulated,
	})
	if over := len(ch.Messages) - e.settings.ChatLogLimit; over > 0 {
		ch.Messages = slices.Delete(ch.Messages, 0, over)
	}
	ch.UpdatedAt = at
	if !fromMe {
		ch.Unread++
	}
	e.st.chats[c] = ch
}

// Chats lists the inbox: pinned chats first (latest pin on top), then by
// last activity.
func (e *Engine) Chats() []ChatSummary {
	e.mu.Lock()
	out := make([]ChatSummary, 0, len(e.st.chats))
	for c, ch := range e.st.chats {
		s := ChatSummary{
			Contact:   c,
			Phone:     ch.Phone,
			UpdatedAt: ch.UpdatedAt,
			Unread:    ch.Unread,
			Pinned:    !ch.PinnedAt.IsZero(),
			PinnedAt:  ch.PinnedAt,
		}
		if n := len(ch.Messages); n > 0 {
			s.LastText = ch.Messages[n-1].Text
			s.LastFromMe = ch.Messages[n-1].FromMe
		}
		out = append(out, s)
	}
	e.mu.Unlock()

	slices.SortFunc(out, func(a, b ChatSummary) int {
		if a.Pinned != b.Pinned {
			if a.Pinned {
				return -1
			}
			return 1
		}
		if c := b.PinnedAt.Compare(a.PinnedAt); c != 0 {
			return c
		}
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Contact, b.Contact)
	})
	return out
}

func (e *Engine) ChatHistory(c ContactID) (Chat, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch, ok := e.st.chats[c]
	if !ok {
		return Chat{}, fmt.Errorf("chat %s: %w", c, ErrNotFound)
	}
	ch.Messages = slices.Clone(ch.Messages)
	return ch, nil
}

func (e *Engine) MarkChatRead(ctx context.Context, c ContactID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch, ok := e.st.chats[c]
	if !ok {
		return fmt.Errorf("chat %s: %w", c, ErrNotFound)
	}
	if ch.Unread == 0 {
		return nil
	}
	ch.Unread = 0
	e.st.chats[c] = ch
	return e.saveLocked(ctx, CollChats)
}

// TogglePin pins or unpins the chat and returns the new state.
func (e *Engine) TogglePin(ctx context.Context, c ContactID) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch, ok := e.st.chats[c]
	if !ok {
		return false, fmt.Errorf("chat %s: %w", c, ErrNotFound)
	}
	if ch.PinnedAt.IsZero() {
		ch.PinnedAt = e.now()
	} else {
		ch.PinnedAt = time.Time{}
	}
	e.st.chats[c] = ch
	return !ch.PinnedAt.IsZero(), e.saveLocked(ctx, CollChats)
}
