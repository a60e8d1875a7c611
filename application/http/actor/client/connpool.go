package client

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"courier/lib/ds/queue"
	"courier/transport"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

// connPool keeps conns per endpoint. A conn is either idle in its block,
// leased to exactly one exchange, or retired and gone from the pool.
type connPool struct {
	mu     sync.Mutex
	blocks map[Endpoint]*connBlock
	closed bool

	dialer  transport.ConnDialer
	newConn func(tc transport.Conn, endpoint Endpoint) *conn
	limiter *rate.Limiter

	maxIdle     int
	maxOpen     int
	idleTimeout time.Duration

	logger *slog.Logger
	clock  clock.Clock
}

type connBlock struct {
	// idle is a stack. The most recently used conn goes out first.
	idle []*conn
	// open counts conns of any state but retired, including ones being dialed.
	open   int
	leased int

	dialWaiters *queue.NaiveQueue[*connRequest]

	dials   uint64
	retired uint64
}

// connRequest waits for a conn, or for a slot to dial one.
type connRequest struct {
	ctx    context.Context
	result chan connResult
}

type connResult struct {
	conn *conn
	// slot lets the waiter dial a conn of its own.
	slot bool
	err  error
}

// PoolStats counts conns. Retired and Dials only ever grow.
type PoolStats struct {
	Idle    int
	Leased  int
	Retired uint64
	Dials   uint64
}

func newConnPool(
	dialer transport.ConnDialer,
	newConn func(tc transport.Conn, endpoint Endpoint) *conn,
	opts ConnOptions,
	idleTimeout time.Duration,
	logger *slog.Logger,
	clock clock.Clock,
) *connPool {
	pool := &connPool{
		blocks:      make(map[Endpoint]*connBlock),
		dialer:      dialer,
		newConn:     newConn,
		maxIdle:     opts.MaxIdlePerHost,
		maxOpen:     opts.MaxOpenPerHost,
		idleTimeout: idleTimeout,
		logger:      logger,
		clock:       clock,
	}

	if opts.DialRate > 0 {
		pool.limiter = rate.NewLimiter(rate.Limit(opts.DialRate), max(opts.DialBurst, 1))
	}

	return pool
}

func (pool *connPool) blockLocked(endpoint Endpoint) *connBlock {
	block, ok := pool.blocks[endpoint]
	if !ok {
		block = &connBlock{dialWaiters: queue.NewNaive[*connRequest](0)}
		pool.blocks[endpoint] = block
	}
	return block
}

// acquire leases a conn to endpoint.
// It reuses an idle conn, dials a new one, or waits for either to become possible.
func (pool *connPool) acquire(ctx context.Context, endpoint Endpoint) (*lease, error) {
	pool.mu.Lock()

	if pool.closed {
		pool.mu.Unlock()
		return nil, ErrClientClosed
	}

	block := pool.blockLocked(endpoint)

	for len(block.idle) > 0 {
		c := block.idle[len(block.idle)-1]
		block.idle = block.idle[:len(block.idle)-1]

		if reason, stale := pool.staleLocked(c); stale {
			pool.retireLocked(block, c, reason)
			continue
		}

		c.state = stateLeased
		block.leased++
		pool.mu.Unlock()

		pool.logger.Debug("reusing connection", slog.String("conn", c.id.String()), slog.String("endpoint", endpoint.String()))
		return newLease(pool, c), nil
	}

	if pool.maxOpen <= 0 || block.open < pool.maxOpen {
		block.open++
		pool.mu.Unlock()
		return pool.dial(ctx, endpoint)
	}

	req := &connRequest{ctx: ctx, result: make(chan connResult, 1)}
	block.dialWaiters.Enqueue(req)
	pool.mu.Unlock()

	select {
	case res := <-req.result:
		return pool.take(ctx, endpoint, res)
	case <-ctx.Done():
	}

	pool.mu.Lock()
	removed := block.dialWaiters.RemoveFunc(func(r *connRequest) bool { return r == req })
	pool.mu.Unlock()

	if removed == 0 {
		// Something was handed over just now. Give it back.
		res := <-req.result
		switch {
		case res.conn != nil:
			pool.release(res.conn, true)
		case res.slot:
			pool.mu.Lock()
			pool.freeSlotLocked(block)
			pool.mu.Unlock()
		}
	}

	return nil, ctx.Err()
}

func (pool *connPool) take(ctx context.Context, endpoint Endpoint, res connResult) (*lease, error) {
	switch {
	case res.err != nil:
		return nil, res.err
	case res.conn != nil:
		return newLease(pool, res.conn), nil
	default:
		return pool.dial(ctx, endpoint)
	}
}

// dial assumes a slot was already counted in open.
func (pool *connPool) dial(ctx context.Context, endpoint Endpoint) (*lease, error) {
	tc, err := pool.dialTransport(ctx, endpoint)

	pool.mu.Lock()
	defer pool.mu.Unlock()

	block := pool.blockLocked(endpoint)

	if err != nil {
		pool.freeSlotLocked(block)
		return nil, errors.Wrapf(err, "dialing %s", endpoint)
	}

	block.dials++

	c := pool.newConn(tc, endpoint)
	if pool.closed {
		pool.retireLocked(block, c, "pool closed")
		return nil, ErrClientClosed
	}

	c.state = stateLeased
	block.leased++

	pool.logger.Debug("dialed connection", slog.String("conn", c.id.String()), slog.String("endpoint", endpoint.String()))
	return newLease(pool, c), nil
}

func (pool *connPool) dialTransport(ctx context.Context, endpoint Endpoint) (transport.Conn, error) {
	if pool.limiter != nil {
		if err := pool.limiter.Wait(ctx); err != nil {
			// Wait fails early when the deadline is too close to ever get a token.
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, errors.Wrap(context.DeadlineExceeded, err.Error())
		}
	}

	return pool.dialer.Dial(ctx, endpoint)
}

// release puts a leased conn back, or retires it if it is not clean.
func (pool *connPool) release(c *conn, clean bool) {
	pool.mu.Lock()
	defer pool.mu.Unlock()

	block := pool.blockLocked(c.endpoint)
	block.leased--

	switch {
	case !clean:
		pool.retireLocked(block, c, "not reusable")
		return
	case pool.closed:
		pool.retireLocked(block, c, "pool closed")
		return
	}

	if req := nextWaiterLocked(block); req != nil {
		block.leased++
		req.result <- connResult{conn: c}
		return
	}

	if len(block.idle) >= pool.maxIdle {
		pool.retireLocked(block, c, "too many idle connections")
		return
	}

	c.state = stateIdle
	c.idleAt = pool.clock.Now()
	block.idle = append(block.idle, c)
}

// staleLocked tells whether an idle conn should not be used anymore.
func (pool *connPool) staleLocked(c *conn) (reason string, stale bool) {
	if pool.idleTimeout > 0 && pool.clock.Since(c.idleAt) >= pool.idleTimeout {
		return "idle timeout", true
	}
	if !c.alive() {
		return "closed by peer", true
	}
	return "", false
}

func (pool *connPool) retireLocked(block *connBlock, c *conn, reason string) {
	c.state = stateRetired
	c.stop()
	block.retired++

	pool.logger.Debug("retired connection",
		slog.String("conn", c.id.String()),
		slog.String("endpoint", c.endpoint.String()),
		slog.String("reason", reason),
	)

	pool.freeSlotLocked(block)
}

// freeSlotLocked hands a slot to the first waiter, or gives it up.
func (pool *connPool) freeSlotLocked(block *connBlock) {
	if req := nextWaiterLocked(block); req != nil {
		req.result <- connResult{slot: true}
		return
	}
	block.open--
}

func nextWaiterLocked(block *connBlock) *connRequest {
	for block.dialWaiters.Len() > 0 {
		req, _ := block.dialWaiters.Dequeue()
		if req.ctx.Err() != nil {
			// The waiter is about to give up and look for itself in the queue.
			req.result <- connResult{err: req.ctx.Err()}
			continue
		}
		return req
	}
	return nil
}

// close retires idle conns and fails waiters.
// Leased conns are retired as they come back.
func (pool *connPool) close() []*conn {
	pool.mu.Lock()
	defer pool.mu.Unlock()

	if pool.closed {
		return nil
	}
	pool.closed = true

	var stopped []*conn
	for _, block := range pool.blocks {
		for block.dialWaiters.Len() > 0 {
			req, _ := block.dialWaiters.Dequeue()
			req.result <- connResult{err: ErrClientClosed}
		}

		for _, c := range block.idle {
			pool.retireLocked(block, c, "pool closed")
			stopped = append(stopped, c)
		}
		block.idle = nil
	}

	return stopped
}

func (pool *connPool) stats() PoolStats {
	pool.mu.Lock()
	defer pool.mu.Unlock()

	var stats PoolStats
	for _, block := range pool.blocks {
		stats.add(block)
	}
	return stats
}

func (pool *connPool) statsFor(endpoint Endpoint) PoolStats {
	pool.mu.Lock()
	defer pool.mu.Unlock()

	var stats PoolStats
	if block, ok := pool.blocks[endpoint]; ok {
		stats.add(block)
	}
	return stats
}

func (s *PoolStats) add(block *connBlock) {
	s.Idle += len(block.idle)
	s.Leased += block.leased
	s.Retired += block.retired
	s.Dials += block.dials
}
