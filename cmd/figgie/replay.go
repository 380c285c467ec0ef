package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"figgie/internal/cards"
	"figgie/internal/game"
	"figgie/internal/orderbook"
	"figgie/internal/pfn"
	"figgie/internal/settlement"
)

var (
	ErrWinnersDiffer = errors.New("replayed winners differ from the recorded result")
	ErrGoalMismatch  = errors.New("goal suit does not match the deck distribution")
)

func newReplayCmd() *cobra.Command {
	def := game.NewDefaultConfig()
	var (
		pot   int64
		bonus int64
	)
	cmd := &cobra.Command{
		Use:   "replay FILE...",
		Short: "Replay PFN round files",
		Long: "Apply each file's trades to its deal, settle the final hands and check " +
			"the winners against the recorded result",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, path := range args {
				if err := replayFile(cmd.OutOrStdout(), path, pot, bonus); err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&pot, "pot", def.RoundPot(), "Pot the round was played for")
	cmd.Flags().Int64Var(&bonus, "bonus", def.BonusPerCard, "Bonus per goal-suit card")
	return cmd
}

func replayFile(w io.Writer, path string, pot, bonus int64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	doc, err := pfn.Decode(f)
	f.Close()
	if err != nil {
		return err
	}

	hands, err := doc.Hands()
	if err != nil {
		return err
	}
	goal, err := cards.ParseSuit(doc.DeckSetup.GoalSuit)
	if err != nil {
		return err
	}
	dist, err := cards.HandFromMap(doc.DeckSetup.Distribution)
	if err != nil {
		return err
	}
	deck, err := cards.NewDeckFromDistribution(dist)
	if err != nil {
		return err
	}
	if deck.GoalSuit() != goal {
		return fmt.Errorf("%w: file says %s, %s is the 12-card suit", ErrGoalMismatch, goal, deck.LongSuit())
	}

	// the deal table carries no seat order; names sort into one
	players := make([]string, 0, len(hands))
	cash := make(map[string]int64, len(hands))
	for p := range hands {
		players = append(players, p)
		cash[p] = 0
	}
	slices.Sort(players)

	// trades apply in acceptance order
	logged := slices.Clone(doc.Trades)
	slices.SortStableFunc(logged, func(a, b pfn.Trade) int { return a.TradeIndex - b.TradeIndex })
	trades := make([]orderbook.Trade, 0, len(logged))
	for _, t := range logged {
		suit, err := cards.ParseSuit(t.Suit)
		if err != nil {
			return fmt.Errorf("trade %d: %w", t.TradeIndex, err)
		}
		trades = append(trades, orderbook.Trade{
			Seq:      uint64(t.TradeIndex),
			Suit:     suit,
			Price:    int64(t.Price),
			BuyerID:  t.Buyer,
			SellerID: t.Seller,
		})
	}

	net, final, err := game.Replay(cash, hands, trades)
	if err != nil {
		return err
	}
	res, err := settlement.Settle(settlement.Input{
		Players:      players,
		Hands:        final,
		Goal:         goal,
		Pot:          pot,
		BonusPerCard: bonus,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "%s round %d: %d trades, goal %s\n",
		doc.FiggieGame.GameID, doc.FiggieGame.Round, len(trades), goal)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PLAYER\tDEALT\tFINAL\tTRADING\tPAYOUT\tWINNER")
	for _, p := range res.Payouts {
		winner := ""
		if p.Winner {
			winner = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%+d\t%d\t%s\n",
			p.Player, hands[p.Player], final[p.Player], net[p.Player], p.Total, winner)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	recorded := slices.Clone(doc.Result.Winners)
	slices.Sort(recorded)
	replayed := slices.Clone(res.Winners)
	slices.Sort(replayed)
	if !slices.Equal(recorded, replayed) {
		return fmt.Errorf("%w: recorded %v, replayed %v", ErrWinnersDiffer, recorded, replayed)
	}
	return nil
}
