// Package registry publishes nodes in etcd and follows the set of
// registered peers. Each node owns one key, prefix+id, holding its
// address and bound to a lease that expires when the node stops.
package registry

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

var errWatchClosed = errors.New("registry: watch channel closed")

func NewClient(endpoints []string, dialTimeout time.Duration) (*clientv3.Client, error) {
	return clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
}

// RegisterNode writes prefix+id -> addr under a lease of ttl seconds and
// keeps the lease alive until the returned cancel func is called. etcd
// hiccups during startup are retried with exponential backoff.
func RegisterNode(ctx context.Context, cli *clientv3.Client, log *zap.Logger, prefix, id, addr string, ttl int64) (clientv3.LeaseID, context.CancelFunc, error) {
	var leaseID clientv3.LeaseID
	register := func() error {
		lease, err := cli.Grant(ctx, ttl)
		if err != nil {
			return err
		}
		if _, err := cli.Put(ctx, prefix+id, addr, clientv3.WithLease(lease.ID)); err != nil {
			return err
		}
		leaseID = lease.ID
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 30 * time.Second
	notify := func(err error, wait time.Duration) {
		log.Warn("etcd registration failed, retrying", zap.Error(err), zap.Duration("wait", wait))
	}
	if err := backoff.RetryNotify(register, backoff.WithContext(b, ctx), notify); err != nil {
		return 0, nil, fmt.Errorf("registry: register %s: %w", id, err)
	}

	kaCtx, cancel := context.WithCancel(ctx)
	ch, err := cli.KeepAlive(kaCtx, leaseID)
	if err != nil {
		cancel()
		return 0, nil, fmt.Errorf("registry: keepalive %s: %w", id, err)
	}
	go func() {
		// drain responses; the channel closes when kaCtx ends or the lease is lost
		for range ch {
		}
		log.Debug("etcd keepalive stopped", zap.String("id", id))
	}()

	return leaseID, cancel, nil
}

// GetPeers returns the registered id -> addr map and the revision it was
// read at.
func GetPeers(ctx context.Context, cli *clientv3.Client, prefix string) (map[string]string, int64, error) {
	resp, err := cli.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, 0, fmt.Errorf("registry: get peers: %w", err)
	}
	return peersFromKVs(prefix, resp.Kvs), resp.Header.Revision, nil
}

// WatchPeers loads the current peer set, calls onChange with it, and then
// calls onChange with a fresh copy after every change until ctx ends.
// When the watch fails (for example after compaction) the peer set is
// listed again and the watch resumes from the new revision.
func WatchPeers(ctx context.Context, cli *clientv3.Client, log *zap.Logger, prefix string, onChange func(peers map[string]string)) error {
	peers, rev, err := GetPeers(ctx, cli, prefix)
	if err != nil {
		return err
	}
	onChange(maps.Clone(peers))

	go func() {
		for {
			err := followPeers(ctx, cli, prefix, rev, peers, onChange)
			if ctx.Err() != nil {
				return
			}
			log.Warn("etcd watch interrupted, relisting peers", zap.Error(err))

			fresh, next, err := relistPeers(ctx, cli, log, prefix)
			if err != nil {
				log.Info("peer watch stopped", zap.Error(err))
				return
			}
			if replacePeers(peers, fresh) {
				onChange(maps.Clone(peers))
			}
			rev = next
		}
	}()
	return nil
}

// followPeers folds watch events after rev into peers until the watch
// fails or its channel closes.
func followPeers(ctx context.Context, cli *clientv3.Client, prefix string, rev int64, peers map[string]string, onChange func(map[string]string)) error {
	wch := cli.Watch(ctx, prefix, clientv3.WithPrefix(), clientv3.WithRev(rev+1))
	for resp := range wch {
		if err := resp.Err(); err != nil {
			return err
		}
		if applyEvents(peers, prefix, resp.Events) {
			onChange(maps.Clone(peers))
		}
	}
	return errWatchClosed
}

// relistPeers retries GetPeers until it succeeds or ctx ends.
func relistPeers(ctx context.Context, cli *clientv3.Client, log *zap.Logger, prefix string) (map[string]string, int64, error) {
	var (
		peers map[string]string
		rev   int64
	)
	list := func() error {
		var err error
		peers, rev, err = GetPeers(ctx, cli, prefix)
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 0 // until ctx ends
	notify := func(err error, wait time.Duration) {
		log.Warn("etcd relist failed, retrying", zap.Error(err), zap.Duration("wait", wait))
	}
	if err := backoff.RetryNotify(list, backoff.WithContext(b, ctx), notify); err != nil {
		return nil, 0, err
	}
	return peers, rev, nil
}

// replacePeers overwrites dst with src and reports whether they differed.
func replacePeers(dst, src map[string]string) bool {
	if maps.Equal(dst, src) {
		return false
	}
	clear(dst)
	maps.Copy(dst, src)
	return true
}

func peersFromKVs(prefix string, kvs []*mvccpb.KeyValue) map[string]string {
	out := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		out[strings.TrimPrefix(string(kv.Key), prefix)] = string(kv.Value)
	}
	return out
}

// applyEvents folds watch events into peers and reports whether anything changed.
func applyEvents(peers map[string]string, prefix string, events []*clientv3.Event) bool {
	changed := false
	for _, ev := range events {
		id := strings.TrimPrefix(string(ev.Kv.Key), prefix)
		switch ev.Type {
		case mvccpb.PUT:
			if peers[id] != string(ev.Kv.Value) {
				peers[id] = string(ev.Kv.Value)
				changed = true
			}
		case mvccpb.DELETE:
			if _, ok := peers[id]; ok {
				delete(peers, id)
				changed = true
			}
		}
	}
	return changed
}
