package campaign

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// echoToken is issued when the engine hands a message to the transport and
// consumed by the matching fromMe event.
type echoToken struct {
	ID      uuid.UUID
	Body    string
	Expires time.Time
}

type echoRegistry struct {
	pending map[ContactID][]echoToken
}

func newEchoRegistry() echoRegistry {
	return echoRegistry{pending: map[ContactID][]echoToken{}}
}

func normalizeBody(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func (r *echoRegistry) issue(c ContactID, body string, now time.Time, ttl time.Duration) uuid.UUID {
	t := echoToken{ID: uuid.New(), Body: normalizeBody(body), Expires: now.Add(ttl)}
	r.pending[c] = append(r.pending[c], t)
	return t.ID
}

func (r *echoRegistry) cancel(c ContactID, id uuid.UUID) {
	toks := r.pending[c]
	for i, t := range toks {
		if t.ID == id {
			r.set(c, append(toks[:i:i], toks[i+1:]...))
			return
		}
	}
}

// consumeExact removes the unexpired token whose body matches.
func (r *echoRegistry) consumeExact(c ContactID, body string, now time.Time) bool {
	body = normalizeBody(body)
	toks := r.pending[c]
	for i, t := range toks {
		if t.Body == body && now.Before(t.Expires) {
			r.set(c, append(toks[:i:i], toks[i+1:]...))
			return true
		}
	}
	return false
}

// consumeAny removes the oldest unexpired token. It backs the fallback for
// echoes whose text the transport altered.
func (r *echoRegistry) consumeAny(c ContactID, now time.Time) bool {
	toks := r.pending[c]
	for i, t := range toks {
		if now.Before(t.Expires) {
			r.set(c, append(toks[:i:i], toks[i+1:]...))
			return true
		}
	}
	return false
}

func (r *echoRegistry) clear(c ContactID) { delete(r.pending, c) }

func (r *echoRegistry) count() int {
	n := 0
	for _, toks := range r.pending {
		n += len(toks)
	}
	return n
}

// sweep drops expired tokens.
func (r *echoRegistry) sweep(now time.Time) {
	for c, toks := range r.pending {
		kept := toks[:0]
		for _, t := range toks {
			if now.Before(t.Expires) {
				kept = append(kept, t)
			}
		}
		r.set(c, kept)
	}
}

func (r *echoRegistry) set(c ContactID, toks []echoToken) {
	if len(toks) == 0 {
		delete(r.pending, c)
		return
	}
	r.pending[c] = toks
}
