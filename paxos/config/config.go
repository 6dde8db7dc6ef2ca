// Package config exposes the variables, loaded through a .yaml file, that shape a simulated cluster.
package config

import (
	"errors"
	"fmt"
	"io/ioutil"
	"time"

	"gopkg.in/yaml.v2"

	"go-paxos-sim/paxos/quorum"
)

// Conf is a type describing the meta variables used by the different parts of the simulation.
type Conf struct {
	Nodes     int      `yaml:"nodes"`      // Nodes is the cluster size N. Every node plays proposer, acceptor and learner.
	Quorum    int      `yaml:"quorum"`     // Quorum is the number of answers needed to proceed. It's computed at execution time, but can be provided explicitly.
	Clients   int      `yaml:"clients"`    // Clients is the number of clients receiving leader announcements.
	ClientIDs []uint64 `yaml:"client_ids"` // ClientIDs are the ids of the clients, defaults to 0..Clients-1. When set, Clients is ignored.

	ChannelCapacity int           `yaml:"channel_capacity"` // ChannelCapacity bounds every node and client mailbox.
	SendTimeout     time.Duration `yaml:"send_timeout"`     // SendTimeout is how long a sender waits on a full mailbox before giving up.

	RetryMax      int           `yaml:"retry_max"`       // RetryMax is how many fresh ballots a proposer issues for a rejected request.
	RetryBaseWait time.Duration `yaml:"retry_base_wait"` // RetryBaseWait is the backoff before the first retry.
	RetryMaxWait  time.Duration `yaml:"retry_max_wait"`  // RetryMaxWait caps the backoff between retries.

	LedgerType    string `yaml:"ledger_type"`    // LedgerType selects where learnt values go: memory, sqlite or redis.
	DBPath        string `yaml:"db_path"`        // DBPath locates the sqlite database file.
	RedisAddr     string `yaml:"redis_addr"`     // RedisAddr is the host:port of the redis server.
	RedisPassword string `yaml:"redis_password"` // RedisPassword is optional.
	RedisDB       int    `yaml:"redis_db"`       // RedisDB selects the redis database.
	RedisPrefix   string `yaml:"redis_prefix"`   // RedisPrefix namespaces the redis keys of the ledger.

	ListenAddr string `yaml:"listen_addr"` // ListenAddr is where the inspector web server listens.
}

// Ledger types recognised by LedgerType.
const (
	LedgerMemory = "memory"
	LedgerSQLite = "sqlite"
	LedgerRedis  = "redis"
)

// Default returns a configuration with every field filled in: three nodes, one client, in-memory ledger.
func Default() Conf {
	c := Conf{Nodes: 3, Clients: 1}
	c.FillEmptyFields()
	return c
}

// LoadConfigFile loads the config '.yaml' file onto the callee Conf object.
func (c *Conf) LoadConfigFile(fn string) error {
	yamlFile, err := ioutil.ReadFile(fn)
	if err != nil {
		return fmt.Errorf("reading config %s: %w", fn, err)
	}
	if err = yaml.Unmarshal(yamlFile, c); err != nil {
		return fmt.Errorf("unmarshalling config %s: %w", fn, err)
	}
	return nil
}

// FillEmptyFields fills in those fields that were left empty in the .yaml file or those which need a run-time computation.
func (c *Conf) FillEmptyFields() {
	if c.Nodes == 0 {
		c.Nodes = 3
	}

	if c.Quorum == 0 {
		c.Quorum = quorum.Threshold(c.Nodes)
	}

	if len(c.ClientIDs) == 0 {
		if c.Clients == 0 {
			c.Clients = 1
		}
		for i := 0; i < c.Clients; i++ {
			c.ClientIDs = append(c.ClientIDs, uint64(i))
		}
	}
	c.Clients = len(c.ClientIDs)

	if c.ChannelCapacity == 0 {
		c.ChannelCapacity = 100
	}

	if c.SendTimeout == 0 {
		c.SendTimeout = 2 * time.Second
	}

	if c.RetryMax == 0 {
		c.RetryMax = 3
	}

	if c.RetryBaseWait == 0 {
		c.RetryBaseWait = 20 * time.Millisecond
	}

	if c.RetryMaxWait == 0 {
		c.RetryMaxWait = 500 * time.Millisecond
	}

	if c.LedgerType == "" {
		c.LedgerType = LedgerMemory
	}

	if c.DBPath == "" {
		c.DBPath = "ledger.db"
	}

	if c.RedisAddr == "" {
		c.RedisAddr = "localhost:6379"
	}

	if c.RedisPrefix == "" {
		c.RedisPrefix = "paxos"
	}

	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
}

// Validate checks that the configuration describes a cluster that can make progress safely.
func (c *Conf) Validate() error {
	if c.Nodes < 1 {
		return errors.New("config: at least one node is needed")
	}
	// two quorums must intersect, otherwise two values could be chosen for the same round
	if c.Quorum <= c.Nodes/2 || c.Quorum > c.Nodes {
		return fmt.Errorf("config: quorum %d is not a majority of %d nodes", c.Quorum, c.Nodes)
	}
	// a broadcast from every node lands in every mailbox at once
	if c.ChannelCapacity < c.Nodes {
		return fmt.Errorf("config: channel capacity %d is smaller than the %d nodes", c.ChannelCapacity, c.Nodes)
	}
	if c.RetryBaseWait > c.RetryMaxWait {
		return fmt.Errorf("config: retry_base_wait %s exceeds retry_max_wait %s", c.RetryBaseWait, c.RetryMaxWait)
	}
	seen := make(map[uint64]bool, len(c.ClientIDs))
	for _, id := range c.ClientIDs {
		if seen[id] {
			return fmt.Errorf("config: duplicate client id %d", id)
		}
		seen[id] = true
	}
	switch c.LedgerType {
	case LedgerMemory, LedgerSQLite, LedgerRedis:
	default:
		return fmt.Errorf("config: unknown ledger type %q", c.LedgerType)
	}
	return nil
}
