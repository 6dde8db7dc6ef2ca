package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"go-paxos-sim/paxos"
	"go-paxos-sim/paxos/messages"
)

// consensusTimeout is how long POST /consensus waits for the leader announcement.
const consensusTimeout = 5 * time.Second

// inspector serves a read mostly view of a running cluster.
type inspector struct {
	cluster *paxos.Cluster
	started time.Time
}

// newRouter returns the gin engine serving the inspector routes for @c.
func newRouter(c *paxos.Cluster) *gin.Engine {
	i := &inspector{cluster: c, started: time.Now()}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), enableCors())

	// META ROUTES
	r.GET("/", welcomeHandler)
	r.GET("/info", i.infoHandler)
	r.GET("/status", i.statusHandler)

	// LEDGER ROUTES
	r.GET("/ledger", i.getLedgerHandler)
	r.GET("/ledger/:round", i.getLearntValueHandler)

	// CLIENT ROUTES
	r.POST("/consensus", i.consensusHandler)

	r.NoRoute(welcomeHandler)
	return r
}

// enableCors allows requests from anywhere.
func enableCors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Next()
	}
}

// welcomeHandler is the handler of GET requests to the root route "/" or to any other non existing route.
func welcomeHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "GoLang simulation of the Paxos Algorithm."})
}

// infoHandler handles GET requests to route /info and describes the simulated cluster.
func (i *inspector) infoHandler(c *gin.Context) {
	conf := i.cluster.Conf()
	c.JSON(http.StatusOK, gin.H{
		"message":     fmt.Sprintf("golang@simulation@%d", conf.Nodes),
		"nodes":       conf.Nodes,
		"quorum":      conf.Quorum,
		"client_ids":  conf.ClientIDs,
		"ledger_type": conf.LedgerType,
		"uptime":      time.Since(i.started).Round(time.Second).String(),
	})
}

type nodeStatus struct {
	ID       messages.NodeID   `json:"id"`
	Status   string            `json:"status"`
	Error    string            `json:"error,omitempty"`
	Received map[string]uint64 `json:"received"`
}

// statusHandler handles GET requests to route /status and reports, per node, whether it is running and what it received.
func (i *inspector) statusHandler(c *gin.Context) {
	var out []nodeStatus
	for _, n := range i.cluster.Nodes() {
		s := nodeStatus{ID: n.ID(), Status: "stopped", Received: make(map[string]uint64)}
		if n.Running() {
			s.Status = "running"
		}
		if err := n.Err(); err != nil {
			s.Status = "crashed"
			s.Error = err.Error()
		}
		for k := messages.Kind(0); k < messages.KindCount; k++ {
			if count := n.Received(k); count > 0 {
				s.Received[k.String()] = count
			}
		}
		out = append(out, s)
	}
	c.JSON(http.StatusOK, out)
}

// getLedgerHandler handles GET requests on /ledger and returns every learnt value in order.
func (i *inspector) getLedgerHandler(c *gin.Context) {
	entries, err := i.cluster.Ledger()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, entries)
}

// getLearntValueHandler handles GET requests on /ledger/:round.
// A round with nothing learnt yet has an empty learnt value.
func (i *inspector) getLearntValueHandler(c *gin.Context) {
	round, err := strconv.ParseUint(c.Param("round"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "round must be a non negative integer"})
		return
	}
	v, _, err := i.cluster.Lookup(round)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"round": round, "learnt": v})
}

type consensusRequest struct {
	Client uint64          `json:"client"`
	Target messages.NodeID `json:"target"`
	Value  string          `json:"value" binding:"required"`
	Stable bool            `json:"stable"`
}

// consensusHandler handles POST requests on /consensus.
// The request is sent on behalf of the given client, and the handler waits for the leader announcement that follows.
func (i *inspector) consensusHandler(c *gin.Context) {
	req := consensusRequest{}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to unmarshal request"})
		return
	}
	cl, ok := i.cluster.ClientByID(req.Client)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("unknown client %d", req.Client)})
		return
	}

	if n := cl.Discard(); n > 0 {
		log.Printf("[INSPECTOR] -> Dropped %d stale messages of client %d.", n, cl.ID())
	}

	send := cl.Consensus
	if req.Stable {
		send = cl.SendToStableLeader
	}
	if err := send(req.Target, req.Value); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, paxos.ErrUnknownNode) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), consensusTimeout)
	defer cancel()
	leader, err := cl.AwaitStableLeader(ctx)
	if err != nil {
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "learnt", "leader": leader})
}
