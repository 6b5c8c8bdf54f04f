package etcd

import (
	"context"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"

	"taskforge/pkg/coordination"
)

// Coordinator implements coordination.Coordinator on an etcd concurrency
// session. The session keeps its lease alive; losing it forfeits any
// leadership held through it.
type Coordinator struct {
	client  *clientv3.Client
	session *concurrency.Session
}

// NewCoordinator connects to etcd and opens a session with the given TTL.
func NewCoordinator(endpoints []string, ttl int) (*Coordinator, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}

	sess, err := concurrency.NewSession(cli, concurrency.WithTTL(ttl))
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("failed to create concurrency session: %w", err)
	}

	return &Coordinator{client: cli, session: sess}, nil
}

func (c *Coordinator) Close() error {
	if c.session != nil {
		c.session.Close()
	}
	return c.client.Close()
}

func (c *Coordinator) NewElection(name string) coordination.Election {
	e := concurrency.NewElection(c.session, "/elections/"+name)
	return &Election{election: e}
}

// Election wraps the etcd concurrency election.
type Election struct {
	election *concurrency.Election
}

func (e *Election) Campaign(ctx context.Context, value string) error {
	return e.election.Campaign(ctx, value)
}

func (e *Election) Resign(ctx context.Context) error {
	return e.election.Resign(ctx)
}

func (e *Election) Leader(ctx context.Context) (string, error) {
	resp, err := e.election.Leader(ctx)
	if err != nil {
		return "", err
	}
	if len(resp.Kvs) == 0 {
		return "", concurrency.ErrElectionNoLeader
	}
	return string(resp.Kvs[0].Value), nil
}
