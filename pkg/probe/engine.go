package probe

import (
	"context"
	"errors"
	"net/netip"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ryandielhenn/rackmap/internal/telemetry"
)

const (
	DefaultReceiveWindow = 5 * time.Second
	DefaultCeiling       = 15 * time.Second

	// pollInterval bounds each blocking read so receivers notice the round
	// ending promptly.
	pollInterval = 250 * time.Millisecond

	readBufferLen = 1514
)

// Host is a discovery candidate.
type Host struct {
	Name string
	Addr netip.Addr
}

type EngineOptions struct {
	Logger *zap.Logger
	// Interfaces enumerates the interfaces to probe from. Defaults to
	// SystemInterfaces.
	Interfaces func() ([]Interface, error)
	// Open defaults to the platform raw socket.
	Open Opener
	// Allow restricts probing to the named interfaces when non-empty.
	Allow []string
	// ReceiveWindow is how long a receiver waits for the next matching reply.
	ReceiveWindow time.Duration
	// Ceiling caps a whole round.
	Ceiling time.Duration
}

// Engine finds which candidates answer ARP on the local layer-2 segments.
type Engine struct {
	logger     *zap.Logger
	interfaces func() ([]Interface, error)
	open       Opener
	allow      []string
	window     time.Duration
	ceiling    time.Duration
}

func NewEngine(opts EngineOptions) *Engine {
	e := &Engine{
		logger:     opts.Logger,
		interfaces: opts.Interfaces,
		open:       opts.Open,
		allow:      opts.Allow,
		window:     opts.ReceiveWindow,
		ceiling:    opts.Ceiling,
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.interfaces == nil {
		e.interfaces = SystemInterfaces
	}
	if e.open == nil {
		e.open = Open
	}
	if e.window <= 0 {
		e.window = DefaultReceiveWindow
	}
	if e.ceiling <= 0 {
		e.ceiling = DefaultCeiling
	}
	return e
}

// Discover probes every candidate from every interface and returns the sorted
// names of those that replied. Channel failures are logged per interface and
// leave the rest of the round running; only interface enumeration fails the
// call. The round ends when every receiver has gone quiet for the receive
// window or when the ceiling passes, whichever is first.
func (e *Engine) Discover(ctx context.Context, hosts []Host) ([]string, error) {
	logger := e.logger.With(zap.String("round", uuid.NewString()))
	start := time.Now()
	defer func() { telemetry.RoundDuration.Observe(time.Since(start).Seconds()) }()

	ifaces, err := e.interfaces()
	if err != nil {
		return nil, err
	}
	if len(e.allow) > 0 {
		ifaces = slices.DeleteFunc(ifaces, func(ifi Interface) bool {
			return !slices.Contains(e.allow, ifi.Name)
		})
	}
	logger.Info("starting discovery round",
		zap.Int("candidates", len(hosts)),
		zap.Int("interfaces", len(ifaces)),
		zap.Duration("receive_window", e.window),
		zap.Duration("ceiling", e.ceiling))

	ctx, cancel := context.WithTimeout(ctx, e.ceiling)
	defer cancel()

	sightings := make(chan netip.Addr, 64)
	var receivers, senders sync.WaitGroup
	for _, ifi := range ifaces {
		ready := make(chan bool, 1)
		receivers.Add(1)
		go func() {
			defer receivers.Done()
			e.receive(ctx, logger, ifi, ready, sightings)
		}()
		senders.Add(1)
		go func() {
			defer senders.Done()
			e.send(ctx, logger, ifi, ready, hosts)
		}()
	}
	finished := make(chan struct{})
	go func() {
		receivers.Wait()
		close(finished)
	}()

	seen := make(map[netip.Addr]bool)
collect:
	for {
		select {
		case addr := <-sightings:
			seen[addr] = true
		case <-finished:
			break collect
		case <-ctx.Done():
			logger.Info("discovery ceiling reached")
			break collect
		}
	}
	// Every goroutine of the round is gone before Discover returns; after a
	// cancel that takes at most one poll interval.
	cancel()
	senders.Wait()
	<-finished
drain:
	for {
		select {
		case addr := <-sightings:
			seen[addr] = true
		default:
			break drain
		}
	}

	var found []string
	for _, h := range hosts {
		if seen[h.Addr] {
			found = append(found, h.Name)
		}
	}
	slices.Sort(found)
	found = slices.Compact(found)
	telemetry.NeighborsFound.Set(float64(len(found)))
	logger.Info("discovery round complete",
		zap.Strings("neighbors", found),
		zap.Duration("elapsed", time.Since(start)))
	return found, nil
}

func (e *Engine) channelFailed(logger *zap.Logger, ifi Interface, op string, err error) {
	telemetry.ChannelErrors.WithLabelValues(ifi.Name, op).Inc()
	var cerr *ChannelError
	if !errors.As(err, &cerr) {
		cerr = &ChannelError{Interface: ifi.Name, Op: op, Err: err}
	}
	logger.Warn("channel failure",
		zap.String("interface", ifi.Name),
		zap.Error(cerr))
}

// receive opens its own channel, reports on ready whether that worked, then
// forwards responder addresses until the window passes without a reply.
func (e *Engine) receive(ctx context.Context, logger *zap.Logger, ifi Interface, ready chan<- bool, out chan<- netip.Addr) {
	ch, err := e.open(ifi)
	ready <- err == nil
	if err != nil {
		e.channelFailed(logger, ifi, "open", err)
		return
	}
	defer ch.Close()

	buf := make([]byte, readBufferLen)
	quietUntil := time.Now().Add(e.window)
	for ctx.Err() == nil {
		deadline := time.Now().Add(pollInterval)
		if quietUntil.Before(deadline) {
			deadline = quietUntil
		}
		n, err := ch.Receive(buf, deadline)
		if err != nil {
			if !isTimeout(err) {
				e.channelFailed(logger, ifi, "receive", err)
				return
			}
			if !time.Now().Before(quietUntil) {
				return
			}
			continue
		}
		addr, ok := ParseReply(buf[:n])
		if !ok {
			continue
		}
		telemetry.RepliesSeen.WithLabelValues(ifi.Name).Inc()
		quietUntil = time.Now().Add(e.window)
		select {
		case out <- addr:
		case <-ctx.Done():
			return
		}
	}
}

// send waits for the receiver on the same interface, then broadcasts one
// request per candidate.
func (e *Engine) send(ctx context.Context, logger *zap.Logger, ifi Interface, ready <-chan bool, hosts []Host) {
	select {
	case ok := <-ready:
		if !ok {
			return
		}
	case <-ctx.Done():
		return
	}

	ch, err := e.open(ifi)
	if err != nil {
		e.channelFailed(logger, ifi, "open", err)
		return
	}
	defer ch.Close()

	sender := ifi.IPv4()
	for _, h := range hosts {
		if ctx.Err() != nil {
			return
		}
		frame, err := BuildRequest(ifi.HardwareAddr, sender, h.Addr)
		if err != nil {
			logger.Debug("skipping candidate", zap.String("host", h.Name), zap.Error(err))
			continue
		}
		if err := ch.Send(frame); err != nil {
			e.channelFailed(logger, ifi, "send", err)
			return
		}
		telemetry.ProbesSent.WithLabelValues(ifi.Name).Inc()
	}
}
