package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"figgie/internal/api"
	"figgie/internal/bots"
	"figgie/internal/config"
	"figgie/internal/game"
	"figgie/internal/logging"
	"figgie/internal/metrics"
	"figgie/internal/pfn"
	"figgie/internal/store"
)

type playCommand struct {
	configPath string
	rounds     int
	learning   bool
	seed       int64
	dbPath     string
	pfnDir     string
	addr       string
	seats      []string
}

func newPlayCmd() *cobra.Command {
	p := &playCommand{}
	cmd := &cobra.Command{
		Use:   "play",
		Short: "Run a session",
		Long: "Run a session of Figgie rounds. Seats not taken by --seat are filled " +
			"with bots; human seats trade through the HTTP API.",
		Args: cobra.NoArgs,
		RunE: p.run,
	}
	f := cmd.Flags()
	f.StringVarP(&p.configPath, "config", "c", "", "Path of a TOML configuration file")
	f.IntVar(&p.rounds, "rounds", 0, "Number of rounds to play")
	f.BoolVar(&p.learning, "learning", false, "Learning mode: long rounds and open hands")
	f.Int64Var(&p.seed, "seed", 0, "Seed for decks, deals and bots")
	f.StringVar(&p.dbPath, "db", "", "SQLite file recording sessions")
	f.StringVar(&p.pfnDir, "pfn", "", "Directory receiving one PFN file per round")
	f.StringVar(&p.addr, "addr", "", "Listen address of the HTTP API")
	f.StringSliceVar(&p.seats, "seat", nil, "Player id of a human seat (repeatable)")
	return cmd
}

// load reads the configuration and applies the flags that were set
func (p *playCommand) load(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(p.configPath)
	if err != nil {
		return config.Config{}, err
	}
	f := cmd.Flags()
	if f.Changed("rounds") {
		cfg.Game.MaxRounds = p.rounds
	}
	if f.Changed("learning") {
		cfg.Game.LearningMode = p.learning
	}
	if f.Changed("seed") {
		cfg.Game.Seed = p.seed
	}
	if f.Changed("db") {
		cfg.Store.Path = p.dbPath
	}
	if f.Changed("pfn") {
		cfg.PFN.Dir = p.pfnDir
	}
	if f.Changed("addr") {
		cfg.API.Addr = p.addr
	}
	if f.Changed("seat") {
		cfg.API.Seats = p.seats
	}
	return cfg, cfg.Validate()
}

func (p *playCommand) run(cmd *cobra.Command, args []string) error {
	cfg, err := p.load(cmd)
	if err != nil {
		return err
	}

	log, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer log.Sync()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	seed := cfg.Game.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
		cfg.Game.Seed = seed
	}

	var (
		agents []game.Agent
		humans []*api.HumanAgent
	)
	for _, id := range cfg.API.Seats {
		h := api.NewHumanAgent(id)
		humans = append(humans, h)
		agents = append(agents, h)
	}
	lineup := bots.Ecosystem(cfg.Game.Players-len(humans), cfg.Bots, rand.New(rand.NewSource(seed)), log.Named("bots"))
	agents = append(agents, lineup.Agents()...)

	opts := []game.Option{game.WithLogger(log), game.WithMetrics(m)}
	var st *store.Store
	if cfg.Store.Path != "" {
		if st, err = store.New(cfg.Store.Path); err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer st.Close()
		opts = append(opts, game.WithSink(st))
	}
	if cfg.PFN.Dir != "" {
		sink, err := pfn.NewSink(cfg.PFN.Dir, cfg.PFN.Title, cfg.PFN.Variant)
		if err != nil {
			return err
		}
		opts = append(opts, game.WithSink(sink))
	}

	session, err := game.NewSession(cfg.Game, agents, opts...)
	if err != nil {
		return err
	}

	var srv *api.Server
	if cfg.API.Addr != "" {
		tokens := api.NewSeatTokens(cfg.API.TokenCost)
		for _, h := range humans {
			token, err := tokens.Issue(h.ID())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seat %s token: %s\n", h.ID(), token)
		}
		srvOpts := []api.Option{api.WithLogger(log), api.WithGatherer(reg)}
		if st != nil {
			srvOpts = append(srvOpts, api.WithStore(st))
		}
		srv = api.NewServer(cfg.API, session, humans, tokens, srvOpts...)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)
	serverCtx, stopServer := context.WithCancel(gctx)
	defer stopServer()

	var report game.SessionReport
	g.Go(func() error {
		defer stopServer()
		var runErr error
		report, runErr = session.Run(gctx)
		if runErr != nil && ctx.Err() != nil {
			// interrupted by a signal; the partial report still stands
			log.Info("session interrupted", zap.Error(runErr))
			return nil
		}
		return runErr
	})
	if srv != nil {
		g.Go(func() error {
			return srv.ListenAndServe(serverCtx)
		})
	}

	err = g.Wait()
	printReport(cmd.OutOrStdout(), report)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func printReport(w io.Writer, r game.SessionReport) {
	fmt.Fprintf(w, "session %s: %d rounds\n", r.ID, len(r.Rounds))
	for _, rr := range r.Rounds {
		var winners []string
		for _, p := range rr.Payouts {
			if p.Winner {
				winners = append(winners, p.Player)
			}
		}
		fmt.Fprintf(w, "  round %d: goal %s, %d trades, winners %v\n", rr.Number, rr.GoalSuit, len(rr.Trades), winners)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tPLAYER\tBALANCE\tP&L")
	for _, rk := range r.Rankings {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%+d\n", rk.Rank, rk.Player, rk.Balance, rk.Balance-r.StartingBalance)
	}
	tw.Flush()
}
