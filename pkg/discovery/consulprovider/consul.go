// Package consulprovider provides a discovery provider that reads the
// routing rules from a Consul KV key, so that every gateway instance
// shares the same rule set.
package consulprovider

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Semior001/hroxy/pkg/discovery"
	"github.com/Semior001/hroxy/pkg/discovery/fileprovider"
	"github.com/cappuccinotm/slogx"
	"github.com/cenkalti/backoff/v4"
	consulapi "github.com/hashicorp/consul/api"
)

// Consul watches a KV key which holds the YAML rules config.
type Consul struct {
	Client *consulapi.Client
	Key    string

	// WaitTime is the maximum duration of a single blocking query.
	WaitTime time.Duration

	// RetryInterval is the initial delay between failed queries,
	// the delay grows exponentially up to a minute.
	RetryInterval time.Duration
}

// Name returns the name of the provider.
func (c *Consul) Name() string {
	return fmt.Sprintf("consul:%s", c.Key)
}

// Events emits an event on the first successful query and then
// each time the modify index of the key changes.
func (c *Consul) Events(ctx context.Context) <-chan string {
	res := make(chan string, 1)

	go func() {
		defer close(res)

		bo := backoff.NewExponentialBackOff()
		bo.MaxElapsedTime = 0 // retry until the context is done
		bo.MaxInterval = time.Minute
		if c.RetryInterval > 0 {
			bo.InitialInterval = c.RetryInterval
		}

		var lastIndex uint64
		for {
			q := (&consulapi.QueryOptions{WaitIndex: lastIndex, WaitTime: c.WaitTime}).WithContext(ctx)
			_, meta, err := c.Client.KV().Get(c.Key, q)
			if err != nil {
				if ctx.Err() != nil {
					return
				}

				wait := bo.NextBackOff()
				slog.WarnContext(ctx, "failed to query consul, retrying",
					slog.String("key", c.Key),
					slog.Duration("retry_in", wait),
					slogx.Error(err))

				select {
				case <-ctx.Done():
					return
				case <-time.After(wait):
				}
				continue
			}

			bo.Reset()

			switch {
			case meta.LastIndex < lastIndex:
				// index went backwards, e.g. after a snapshot restore
				lastIndex = 0
				continue
			case meta.LastIndex == lastIndex:
				continue
			}

			slog.DebugContext(ctx, "consul key changed",
				slog.String("key", c.Key),
				slog.Uint64("last_index", lastIndex),
				slog.Uint64("index", meta.LastIndex))

			lastIndex = meta.LastIndex

			select {
			case res <- c.Name():
			case <-ctx.Done():
				return
			}
		}
	}()

	return res
}

// Rules fetches the key and parses the rules from its value.
func (c *Consul) Rules(ctx context.Context) ([]discovery.Rule, error) {
	pair, _, err := c.Client.KV().Get(c.Key, (&consulapi.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("get key %s: %w", c.Key, err)
	}

	if pair == nil {
		return nil, fmt.Errorf("key %s not found", c.Key)
	}

	rules, err := fileprovider.Parse(bytes.NewReader(pair.Value))
	if err != nil {
		return nil, fmt.Errorf("parse key %s: %w", c.Key, err)
	}

	return rules, nil
}
