package ledger

import (
	"fmt"
	"log"
	"strconv"

	"github.com/go-redis/redis/v7"
)

// RedisOptions locates the redis server and namespaces the ledger keys.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// Redis stores the ledger in two keys:
//
//	<prefix>:learnt  hash round -> value
//	<prefix>:rounds  list of rounds in insertion order
type Redis struct {
	client    *redis.Client
	learntKey string
	roundsKey string
}

// appendScript inserts the value and records the round order atomically.
// It returns {1, v} on insertion, {0, learnt} when the round already had a value.
var appendScript = redis.NewScript(`
if redis.call('HSETNX', KEYS[1], ARGV[1], ARGV[2]) == 1 then
	redis.call('RPUSH', KEYS[2], ARGV[1])
	return {1, ARGV[2]}
end
return {0, redis.call('HGET', KEYS[1], ARGV[1])}
`)

// NewRedis connects to the server described by @opts and checks that it answers.
func NewRedis(opts RedisOptions) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if _, err := client.Ping().Result(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis server %s did not PONG back to our PING: %w", opts.Addr, err)
	}
	prefix := opts.Prefix
	if prefix == "" {
		prefix = "paxos"
	}
	log.Printf("[LEDGER] -> Using redis server %s, keys prefixed with '%s'.", opts.Addr, prefix)
	return &Redis{
		client:    client,
		learntKey: prefix + ":learnt",
		roundsKey: prefix + ":rounds",
	}, nil
}

func (r *Redis) TryAppend(round uint64, v string) (bool, error) {
	field := strconv.FormatUint(round, 10)
	res, err := appendScript.Run(r.client, []string{r.learntKey, r.roundsKey}, field, v).Result()
	if err != nil {
		return false, fmt.Errorf("appending round %d: %w", round, err)
	}

	reply, ok := res.([]interface{})
	if !ok || len(reply) != 2 {
		return false, fmt.Errorf("appending round %d: unexpected reply %v", round, res)
	}
	inserted, _ := reply[0].(int64)
	learnt, _ := reply[1].(string)
	if inserted == 1 {
		return true, nil
	}
	if learnt == v {
		return false, nil
	}
	return false, conflict(round, learnt, v)
}

func (r *Redis) Get(round uint64) (string, bool, error) {
	v, err := r.client.HGet(r.learntKey, strconv.FormatUint(round, 10)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (r *Redis) Entries() ([]Entry, error) {
	rounds, err := r.client.LRange(r.roundsKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(rounds))
	if len(rounds) == 0 {
		return entries, nil
	}

	values, err := r.client.HMGet(r.learntKey, rounds...).Result()
	if err != nil {
		return nil, err
	}
	for i, field := range rounds {
		round, err := strconv.ParseUint(field, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed round %q in %s: %w", field, r.roundsKey, err)
		}
		v, _ := values[i].(string)
		entries = append(entries, Entry{Round: round, Learnt: v})
	}
	return entries, nil
}

// Drop deletes both ledger keys.
func (r *Redis) Drop() error {
	pipe := r.client.TxPipeline()
	pipe.Del(r.learntKey)
	pipe.Del(r.roundsKey)
	_, err := pipe.Exec()
	return err
}

func (r *Redis) Close() error {
	return r.client.Close()
}
