// Package domain resolves host names into addresses the dialer can connect to.
package domain

import (
	"context"
	"maps"
	"net"
	"slices"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

var ErrDomainNotFound = errors.New("domain not found")

type Lookuper interface {
	LookupHost(ctx context.Context, host string) (addrs []string, err error)
}

// mapLookuper is a static host table, like /etc/hosts.
type mapLookuper struct {
	mu  sync.RWMutex
	set map[string][]string
}

var _ Lookuper = (*mapLookuper)(nil)

func NewMapLookuper(set map[string][]string) *mapLookuper {
	clone := make(map[string][]string, len(set))
	for host, addrs := range set {
		clone[strings.ToLower(host)] = slices.Clone(addrs)
	}
	return &mapLookuper{set: clone}
}

func (m *mapLookuper) LookupHost(ctx context.Context, host string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	addrs, ok := m.set[strings.ToLower(host)]
	if !ok {
		return nil, ErrDomainNotFound
	}
	return slices.Clone(addrs), nil
}

func (m *mapLookuper) Set(host string, addrs []string) {
	if len(addrs) == 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.set[strings.ToLower(host)] = slices.Clone(addrs)
}

func (m *mapLookuper) Del(host string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.set, strings.ToLower(host))
}

func (m *mapLookuper) Hosts() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Sorted(maps.Keys(m.set))
}

// resolverLookuper asks the system resolver.
type resolverLookuper struct{ r *net.Resolver }

func NewResolverLookuper(r *net.Resolver) Lookuper {
	if r == nil {
		r = net.DefaultResolver
	}
	return &resolverLookuper{r: r}
}

func (l *resolverLookuper) LookupHost(ctx context.Context, host string) ([]string, error) {
	addrs, err := l.r.LookupHost(ctx, host)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			return nil, errors.Wrap(ErrDomainNotFound, host)
		}
		return nil, errors.Wrapf(err, "resolving %s", host)
	}
	return addrs, nil
}

type chainLookuper []Lookuper

// Chain asks each lookuper in order and returns the first answer.
// A lookuper that does not know the host is skipped.
func Chain(lookupers ...Lookuper) Lookuper {
	return chainLookuper(lookupers)
}

func (c chainLookuper) LookupHost(ctx context.Context, host string) ([]string, error) {
	for _, l := range c {
		addrs, err := l.LookupHost(ctx, host)
		if err == nil {
			return addrs, nil
		}
		if !errors.Is(err, ErrDomainNotFound) {
			return nil, err
		}
	}
	return nil, ErrDomainNotFound
}
