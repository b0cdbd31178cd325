package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/DoyleJ11/clicker-client/internal/apperr"
	"github.com/DoyleJ11/clicker-client/internal/game"
	"github.com/DoyleJ11/clicker-client/internal/session"
)

func newLeaderboardCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "leaderboard",
		Short: "Print the top players",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.Game().LoadLeaderboard(cmd.Context(), limit); err != nil {
				return fmt.Errorf("leaderboard: %s", apperr.Message(err))
			}
			printLeaderboard(cmd.OutOrStdout(), s.Game().View())
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "l", 10, "number of entries")
	return cmd
}

func newPlayCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "play",
		Short: "Resume the saved session and play from stdin",
		Long: `Commands, one per line:
  click [n]     click n times (default 1)
  buy <id>      buy one unit of an item
  state         print points and rates
  items         print the shop
  top           print the leaderboard
  quit`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			ok, err := s.Restore(cmd.Context())
			if err != nil {
				return fmt.Errorf("resume: %s", apperr.Message(err))
			}
			if !ok {
				return errNotLoggedIn
			}
			stop := s.Game().StartPassiveSync(cmd.Context(), a.cfg.PassiveSyncInterval)
			defer stop()

			return repl(cmd.Context(), s, a.cfg.LeaderboardLimit, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

func repl(ctx context.Context, s *session.Session, limit int, in io.Reader, out io.Writer) error {
	g := s.Game()
	sc := bufio.NewScanner(in)
	fmt.Fprint(out, "> ")
	for sc.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			fmt.Fprint(out, "> ")
			continue
		}

		switch fields[0] {
		case "click":
			n := 1
			if len(fields) > 1 {
				if v, err := strconv.Atoi(fields[1]); err == nil && v > 0 {
					n = v
				}
			}
			for i := 0; i < n; i++ {
				if err := g.Click(ctx); err != nil {
					fmt.Fprintln(out, "click failed:", apperr.Message(err))
					break
				}
			}
		case "buy":
			if len(fields) < 2 {
				fmt.Fprintln(out, "usage: buy <id>")
				break
			}
			id, err := strconv.ParseInt(fields[1], 10, 64)
			if err != nil {
				fmt.Fprintln(out, "item id must be a number")
				break
			}
			if v := g.View(); len(v.Items) > 0 && !game.CanAfford(v, id) {
				fmt.Fprintln(out, "not enough points")
				break
			}
			if _, err := g.BuyItem(ctx, id); err != nil {
				fmt.Fprintln(out, "purchase failed:", apperr.Message(err))
			}
		case "state":
			printState(out, g.View())
		case "items":
			printItems(out, g.View())
		case "top":
			if err := g.LoadLeaderboard(ctx, limit); err != nil {
				fmt.Fprintln(out, "leaderboard:", apperr.Message(err))
				break
			}
			printLeaderboard(out, g.View())
		case "quit", "exit":
			return nil
		default:
			fmt.Fprintf(out, "unknown command %q\n", fields[0])
		}

		if v := g.View(); v.Error != "" {
			fmt.Fprintln(out, "error:", v.Error)
			g.ClearError()
		}
		fmt.Fprint(out, "> ")
	}
	return sc.Err()
}

func printState(w io.Writer, v game.Snapshot) {
	fmt.Fprintf(w, "points %s (lifetime %s), %d clicks, %s/click, %s/sec [%s]\n",
		game.FormatPoints(v.Points),
		game.FormatPoints(v.LifetimePoints),
		v.Clicks,
		game.FormatPoints(v.PointsPerClick),
		game.FormatPoints(v.PointsPerSecond),
		v.ConnectionStatus,
	)
}

func printItems(w io.Writer, v game.Snapshot) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tCOST\tOWNED\t+CLICK\t+SEC\t")
	affordable := make(map[int64]bool)
	for _, it := range game.AvailableItems(v) {
		affordable[it.ID] = true
	}
	for _, it := range v.Items {
		mark := ""
		if affordable[it.ID] {
			mark = "*"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s%s\t%d\t%d\t%d\t\n",
			it.ID, it.Name, game.FormatPoints(it.CurrentCost), mark, v.UserItems[it.ID], it.PointsPerClick, it.PointsPerSecond)
	}
	_ = tw.Flush()
}

func printLeaderboard(w io.Writer, v game.Snapshot) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tPLAYER\tSCORE\t")
	for i, e := range v.Leaderboard {
		fmt.Fprintf(tw, "%d\t%s\t%s\t\n", i+1, e.Nickname, game.FormatPoints(e.Score))
	}
	_ = tw.Flush()
}
