package registry

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

// minLeaseTTL is the shortest lease etcd grants.
const minLeaseTTL = 5 * time.Second

func NewClient(endpoints []string, dialTimeout time.Duration) (*clientv3.Client, error) {
	return clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
}

type EtcdOptions struct {
	Client *clientv3.Client
	Prefix string
	Unit   string
	// LeaseTTL binds the membership key to a kept-alive lease, so the unit
	// drops out of Peers shortly after its process dies. Zero registers
	// the unit permanently.
	LeaseTTL time.Duration
	Logger   *zap.Logger
}

// Etcd is a directory stored in etcd under
//
//	<prefix>/members/<unit>
//	<prefix>/attrs/<unit>/<key>
//	<prefix>/status/<unit>
type Etcd struct {
	cli      *clientv3.Client
	prefix   string
	self     string
	leaseTTL time.Duration
	logger   *zap.Logger

	leaseID clientv3.LeaseID
}

func NewEtcd(opts EtcdOptions) (*Etcd, error) {
	if opts.LeaseTTL != 0 && opts.LeaseTTL < minLeaseTTL {
		return nil, errors.New("lease ttl must be at least 5 seconds")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Etcd{
		cli:      opts.Client,
		prefix:   strings.TrimSuffix(opts.Prefix, "/"),
		self:     opts.Unit,
		leaseTTL: opts.LeaseTTL,
		logger:   logger,
	}, nil
}

func (e *Etcd) membersPrefix() string           { return e.prefix + "/members/" }
func (e *Etcd) attrKey(unit, key string) string { return e.prefix + "/attrs/" + unit + "/" + key }
func (e *Etcd) statusKey(unit string) string    { return e.prefix + "/status/" + unit }

// Join registers Self, retrying with exponential backoff until ctx ends.
func (e *Etcd) Join(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0

	return backoff.RetryNotify(func() error {
		return e.join(ctx)
	}, backoff.WithContext(b, ctx), func(err error, next time.Duration) {
		e.logger.Warn("failed to join directory, retrying",
			zap.String("unit", e.self),
			zap.Duration("next", next),
			zap.Error(err))
	})
}

func (e *Etcd) join(ctx context.Context) error {
	key := e.membersPrefix() + e.self
	if e.leaseTTL == 0 {
		_, err := e.cli.Put(ctx, key, "")
		return errors.Wrap(err, "failed to register member")
	}

	lease, err := e.cli.Grant(ctx, int64(e.leaseTTL/time.Second))
	if err != nil {
		return errors.Wrap(err, "failed to grant lease")
	}
	kaCh, err := e.cli.KeepAlive(context.Background(), lease.ID)
	if err != nil {
		return errors.Wrap(err, "failed to keep lease alive")
	}
	go func() {
		for range kaCh {
		}
		e.logger.Debug("lease keep-alive stopped", zap.String("unit", e.self))
	}()
	e.leaseID = lease.ID

	_, err = e.cli.Put(ctx, key, "", clientv3.WithLease(lease.ID))
	return errors.Wrap(err, "failed to register member")
}

// Leave removes the membership key and revokes the lease, if any.
func (e *Etcd) Leave(ctx context.Context) error {
	if _, err := e.cli.Delete(ctx, e.membersPrefix()+e.self); err != nil {
		return errors.Wrap(err, "failed to remove member")
	}
	if e.leaseID != 0 {
		if _, err := e.cli.Revoke(ctx, e.leaseID); err != nil {
			return errors.Wrap(err, "failed to revoke lease")
		}
		e.leaseID = 0
	}
	return nil
}

func (e *Etcd) Self() string { return e.self }

func (e *Etcd) Peers(ctx context.Context) ([]string, error) {
	prefix := e.membersPrefix()
	resp, err := e.cli.Get(ctx, prefix, clientv3.WithPrefix(), clientv3.WithKeysOnly())
	if err != nil {
		return nil, errors.Wrap(err, "failed to list members")
	}
	var peers []string
	for _, kv := range resp.Kvs {
		unit := string(kv.Key[len(prefix):])
		if unit != e.self {
			peers = append(peers, unit)
		}
	}
	slices.Sort(peers)
	return peers, nil
}

func (e *Etcd) Get(ctx context.Context, peer, key string) (string, error) {
	return e.get(ctx, e.attrKey(peer, key), key+" of "+peer)
}

func (e *Etcd) get(ctx context.Context, key, what string) (string, error) {
	resp, err := e.cli.Get(ctx, key)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read %s", what)
	}
	if len(resp.Kvs) == 0 {
		return "", errors.Wrap(ErrNotFound, what)
	}
	return string(resp.Kvs[0].Value), nil
}

func (e *Etcd) Set(ctx context.Context, key, value string) error {
	_, err := e.cli.Put(ctx, e.attrKey(e.self, key), value)
	return errors.Wrapf(err, "failed to publish %s", key)
}

func (e *Etcd) SetStatus(ctx context.Context, status Status, message string) error {
	raw, err := encodeStatus(StatusEntry{Status: status, Message: message})
	if err != nil {
		return errors.Wrap(err, "failed to encode status")
	}
	_, err = e.cli.Put(ctx, e.statusKey(e.self), raw)
	return errors.Wrap(err, "failed to publish status")
}

func (e *Etcd) Status(ctx context.Context, unit string) (StatusEntry, error) {
	raw, err := e.get(ctx, e.statusKey(unit), "status of "+unit)
	if err != nil {
		return StatusEntry{}, err
	}
	s, err := decodeStatus(raw)
	return s, errors.Wrapf(err, "failed to parse status of %s", unit)
}
