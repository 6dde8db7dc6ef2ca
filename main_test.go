package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-paxos-sim/paxos/config"
	"go-paxos-sim/paxos/ledger"
)

var demoLedger = []ledger.Entry{
	{Round: 0, Learnt: "values"},
	{Round: 1, Learnt: "wabbit"},
	{Round: 2, Learnt: "wabb2it"},
	{Round: 3, Learnt: "wabitual"},
}

func TestRunDemo(t *testing.T) {
	conf := config.Default()
	conf.ClientIDs = []uint64{0, stableClientID}
	c := startCluster(t, conf)

	require.NoError(t, runDemo(context.Background(), c))
	entries, err := c.Ledger()
	require.NoError(t, err)
	assert.Equal(t, demoLedger, entries)
}

func TestRunCommand(t *testing.T) {
	dir := t.TempDir()
	fn := filepath.Join(dir, "config.yaml")
	contents := "nodes: 5\nclient_ids: [0, 10]\nledger_type: sqlite\ndb_path: " + filepath.Join(dir, "ledger.db") + "\n"
	require.NoError(t, os.WriteFile(fn, []byte(contents), 0o600))

	cmd := getRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetArgs([]string{"run", "--quiet", "--config", fn})
	require.NoError(t, cmd.Execute())

	var entries []ledger.Entry
	require.NoError(t, json.Unmarshal(out.Bytes(), &entries))
	assert.Equal(t, demoLedger, entries)
}

func TestRunCommandMissingConfig(t *testing.T) {
	cmd := getRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"run", "--quiet", "--config", filepath.Join(t.TempDir(), "nope.yaml")})
	assert.Error(t, cmd.Execute())
}
