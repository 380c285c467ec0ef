package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"figgie/internal/cards"
	"figgie/internal/game"
	"figgie/internal/settlement"
)

func newSettleCmd() *cobra.Command {
	def := game.NewDefaultConfig()
	var (
		goal  string
		pot   int64
		bonus int64
	)
	cmd := &cobra.Command{
		Use:   "settle --goal SUIT PLAYER=S,C,H,D...",
		Short: "Settle a set of final hands",
		Long: "Compute payouts for final hands given in seat order. Each hand lists its " +
			"spades, clubs, hearts and diamonds counts, e.g. alice=3,2,4,1",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := cards.ParseSuit(goal)
			if err != nil {
				return err
			}
			in := settlement.Input{
				Hands:        make(map[string]cards.Hand, len(args)),
				Goal:         g,
				Pot:          pot,
				BonusPerCard: bonus,
			}
			for _, arg := range args {
				player, hand, err := parseHandArg(arg)
				if err != nil {
					return err
				}
				if _, dup := in.Hands[player]; dup {
					return fmt.Errorf("player %s listed twice", player)
				}
				in.Players = append(in.Players, player)
				in.Hands[player] = hand
			}
			res, err := settlement.Settle(in)
			if err != nil {
				return err
			}
			return printPayouts(cmd.OutOrStdout(), g, res)
		},
	}
	cmd.Flags().StringVarP(&goal, "goal", "g", "", "Goal suit")
	cmd.Flags().Int64Var(&pot, "pot", def.RoundPot(), "Pot to distribute")
	cmd.Flags().Int64Var(&bonus, "bonus", def.BonusPerCard, "Bonus per goal-suit card")
	cmd.MarkFlagRequired("goal")
	return cmd
}

// parseHandArg reads "name=S,C,H,D"
func parseHandArg(arg string) (string, cards.Hand, error) {
	player, counts, ok := strings.Cut(arg, "=")
	if !ok || player == "" {
		return "", cards.Hand{}, fmt.Errorf("hand %q: want PLAYER=S,C,H,D", arg)
	}
	parts := strings.Split(counts, ",")
	if len(parts) != cards.NumSuits {
		return "", cards.Hand{}, fmt.Errorf("hand %q: want %d counts", arg, cards.NumSuits)
	}
	var h cards.Hand
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 {
			return "", cards.Hand{}, fmt.Errorf("hand %q: bad count %q", arg, p)
		}
		h[cards.Suits[i]] = n
	}
	return player, h, nil
}

func printPayouts(w io.Writer, goal cards.Suit, res settlement.Result) error {
	fmt.Fprintf(w, "goal suit %s, majority %d cards, bonuses %d, majority pot %d\n",
		goal, res.MajorityCount, res.BonusTotal, res.MajorityPot)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PLAYER\tGOAL CARDS\tBONUS\tSHARE\tTOTAL\tWINNER")
	for _, p := range res.Payouts {
		winner := ""
		if p.Winner {
			winner = "*"
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%s\n", p.Player, p.GoalCards, p.Bonus, p.MajorityShare, p.Total, winner)
	}
	return tw.Flush()
}
