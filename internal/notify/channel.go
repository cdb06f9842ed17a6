package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

var ErrNoChannel = errors.New("no notification channel for contact")

// Channel delivers one rendered notification to one contact address.
type Channel interface {
	Send(ctx context.Context, contact, subject, bodyHTML string) error
}

type ChannelFunc func(ctx context.Context, contact, subject, bodyHTML string) error

func (f ChannelFunc) Send(ctx context.Context, contact, subject, bodyHTML string) error {
	return f(ctx, contact, subject, bodyHTML)
}

// Router picks a transport from the scheme of the contact address ("mailto:ops@example.com",
// "ws:operator-1", "redis:ops"). Addresses without a scheme use the default scheme.
type Router struct {
	mu            sync.RWMutex
	routes        map[string]Channel
	defaultScheme string
}

func NewRouter(defaultScheme string) *Router {
	if defaultScheme == "" {
		defaultScheme = "mailto"
	}
	return &Router{routes: make(map[string]Channel), defaultScheme: strings.ToLower(defaultScheme)}
}

func (r *Router) Register(scheme string, ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[strings.ToLower(scheme)] = ch
}

func (r *Router) Schemes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.routes))
	for s := range r.routes {
		out = append(out, s)
	}
	return out
}

func (r *Router) Send(ctx context.Context, contact, subject, bodyHTML string) error {
	scheme, addr := SplitContact(contact, r.defaultScheme)
	r.mu.RLock()
	ch, ok := r.routes[scheme]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: scheme %q", ErrNoChannel, scheme)
	}
	return ch.Send(ctx, addr, subject, bodyHTML)
}

// SplitContact separates an optional "scheme:" prefix from a contact address.
func SplitContact(contact, defaultScheme string) (string, string) {
	contact = strings.TrimSpace(contact)
	i := strings.IndexByte(contact, ':')
	if i <= 0 {
		return defaultScheme, contact
	}
	scheme := contact[:i]
	for _, c := range scheme {
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '+' || c == '-' || c == '.') {
			return defaultScheme, contact
		}
	}
	return strings.ToLower(scheme), contact[i+1:]
}
