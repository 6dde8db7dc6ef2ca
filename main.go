package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"go-paxos-sim/paxos"
	"go-paxos-sim/paxos/config"
	"go-paxos-sim/paxos/ledger"
	"go-paxos-sim/paxos/messages"
)

const defaultConfigPath = "./config.yaml"

// stableClientID is the client that talks to the stable leader once the first value is learnt.
const stableClientID = 10

// demoTimeout bounds every wait for a leader announcement during the demo.
const demoTimeout = 10 * time.Second

var (
	configPath string
	quiet      bool
	trace      bool
)

func main() {
	rootCommand := getRootCommand()
	if err := rootCommand.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func getRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "paxos-sim",
		Short: "Single process simulation of the Paxos consensus algorithm",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if quiet {
				log.SetOutput(io.Discard)
			}
		},
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path of the .yaml configuration file")
	cmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "do not log the protocol traffic")
	cmd.PersistentFlags().BoolVar(&trace, "trace", false, "log every message taken out of a node mailbox")
	cmd.AddCommand(runCommand())
	cmd.AddCommand(serveCommand())
	return cmd
}

// Example invocation - ./paxos-sim run -c config.yaml
func runCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the demo sequence and print the ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newCluster(cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			c.Start()
			demoErr := runDemo(cmd.Context(), c)

			ctx, cancel := context.WithTimeout(context.Background(), demoTimeout)
			defer cancel()
			if err := c.Terminate(ctx); err != nil {
				log.Printf("[MAIN] -> Some node stopped with an error: %v", err)
			}
			if demoErr != nil {
				return demoErr
			}
			return printLedger(cmd.OutOrStdout(), c)
		},
	}
}

// Example invocation - ./paxos-sim serve -c config.yaml
func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the demo sequence, then serve the inspector until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newCluster(cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			c.Start()
			if err := runDemo(cmd.Context(), c); err != nil {
				log.Printf("[MAIN] -> Demo did not complete: %v", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			server := &http.Server{
				Addr:    c.Conf().ListenAddr,
				Handler: newRouter(c),
			}
			serveErr := make(chan error, 1)
			go func() {
				log.Printf("[MAIN] -> Inspector listening on %s.", server.Addr)
				serveErr <- server.ListenAndServe()
			}()

			select {
			case <-ctx.Done():
			case err := <-serveErr:
				if !errors.Is(err, http.ErrServerClosed) {
					log.Printf("[MAIN] -> Inspector stopped: %v", err)
				}
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
			if err := c.Terminate(shutdownCtx); err != nil {
				log.Printf("[MAIN] -> Some node stopped with an error: %v", err)
			}
			return printLedger(cmd.OutOrStdout(), c)
		},
	}
}

// loadConf reads the configuration file. The default path is optional, an explicit one is not.
func loadConf(cmd *cobra.Command) (config.Conf, error) {
	var conf config.Conf
	if err := conf.LoadConfigFile(configPath); err != nil {
		if cmd.Flags().Changed("config") || !errors.Is(err, os.ErrNotExist) {
			return conf, err
		}
		log.Printf("[MAIN] -> No %s found, using defaults.", configPath)
	}
	conf.FillEmptyFields()
	return conf, conf.Validate()
}

func newCluster(cmd *cobra.Command) (*paxos.Cluster, error) {
	conf, err := loadConf(cmd)
	if err != nil {
		return nil, err
	}
	store, err := ledger.Open(conf)
	if err != nil {
		return nil, err
	}
	c, err := paxos.NewCluster(conf, store)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	if trace {
		c.Observe(func(to messages.NodeID, m messages.Message) {
			log.Printf("[TRACE] -> node %d <- %s", to, m)
		})
	}
	return c, nil
}

// runDemo drives the fixed sequence: a full ballot for "values" on node 0, then three values sent to the
// stable leader by a second client. Every step waits for all the clients to hear about the leader.
func runDemo(ctx context.Context, c *paxos.Cluster) error {
	first := c.Client(0)
	if err := first.Consensus(0, "values"); err != nil {
		return err
	}
	leader, err := awaitLeader(ctx, c)
	if err != nil {
		return err
	}
	log.Printf("[MAIN] -> Stable leader is node %d.", leader)

	stable, ok := c.ClientByID(stableClientID)
	if !ok {
		stable = c.Client(len(c.Clients()) - 1)
	}
	for _, v := range []string{"wabbit", "wabb2it", "wabitual"} {
		if err := stable.SendToStableLeader(leader, v); err != nil {
			return err
		}
		if leader, err = awaitLeader(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

// awaitLeader waits for the next announcement on every client and returns the leader heard by the first one.
func awaitLeader(ctx context.Context, c *paxos.Cluster) (messages.NodeID, error) {
	ctx, cancel := context.WithTimeout(ctx, demoTimeout)
	defer cancel()

	leaders := make([]messages.NodeID, len(c.Clients()))
	g, ctx := errgroup.WithContext(ctx)
	for i, cl := range c.Clients() {
		i, cl := i, cl
		g.Go(func() error {
			l, err := cl.AwaitStableLeader(ctx)
			if err != nil {
				return fmt.Errorf("client %d: %w", cl.ID(), err)
			}
			leaders[i] = l
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return leaders[0], nil
}

func printLedger(w io.Writer, c *paxos.Cluster) error {
	entries, err := c.Ledger()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, paxos.ToJson(entries))
	return err
}
