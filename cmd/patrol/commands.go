package main

import (
	"fmt"
	"net/url"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/patrol/internal/admin/api"
	"github.com/goodtune/patrol/internal/presence"
	"github.com/goodtune/patrol/internal/storage"
	"github.com/spf13/cobra"
)

var (
	totalMonth string

	leaderboardScope   string
	leaderboardMonth   string
	leaderboardChannel string
	leaderboardLimit   int

	adjustMonth string

	resetConfirm bool
)

var guildsCmd = &cobra.Command{
	Use:   "guilds",
	Short: "List tracked guilds",
	Args:  cobra.NoArgs,
	RunE:  runGuilds,
}

var activeCmd = &cobra.Command{
	Use:   "active GUILD",
	Short: "Show users currently being timed",
	Args:  cobra.ExactArgs(1),
	RunE:  runActive,
}

var totalCmd = &cobra.Command{
	Use:   "total GUILD USER",
	Short: "Show a user's total time",
	Example: `  patrol total 1234 5678
  patrol total 1234 5678 --month 2024-03`,
	Args: cobra.ExactArgs(2),
	RunE: runTotal,
}

var leaderboardCmd = &cobra.Command{
	Use:   "leaderboard GUILD",
	Short: "Show the ranked leaderboard",
	Example: `  patrol leaderboard 1234
  patrol leaderboard 1234 --scope month --month 2024-03 --limit 5
  patrol leaderboard 1234 --scope channel --channel 9999`,
	Args: cobra.ExactArgs(1),
	RunE: runLeaderboard,
}

var adjustCmd = &cobra.Command{
	Use:   "adjust GUILD USER DELTA",
	Short: "Add or remove time from a user's totals",
	Long: `Add DELTA to a user's all-time total and to one month's total. DELTA is a
duration such as 1h30m or -45m, or a number of milliseconds. Totals never go
below zero.`,
	Example: `  patrol adjust 1234 5678 -- -30m
  patrol adjust 1234 5678 2h --month 2024-02`,
	Args: cobra.ExactArgs(3),
	RunE: runAdjust,
}

var pauseCmd = &cobra.Command{
	Use:   "pause GUILD [USER]",
	Short: "Pause accrual for a guild or a single user",
	Long:  `Pause accrual for a guild or a single user. Refused while the target has an open session.`,
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPause(cmd, args, "pause")
	},
}

var unpauseCmd = &cobra.Command{
	Use:   "unpause GUILD [USER]",
	Short: "Resume accrual for a guild or a single user",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPause(cmd, args, "unpause")
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset GUILD [USER]",
	Short: "Zero all-time totals for a guild or a single user",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runReset,
}

func init() {
	totalCmd.Flags().StringVar(&totalMonth, "month", "", "Month to report (YYYY-MM); all-time when empty")

	leaderboardCmd.Flags().StringVar(&leaderboardScope, "scope", "all", "Leaderboard scope: all, month or channel")
	leaderboardCmd.Flags().StringVar(&leaderboardMonth, "month", "", "Month for --scope month (YYYY-MM); defaults to the current month")
	leaderboardCmd.Flags().StringVar(&leaderboardChannel, "channel", "", "Channel for --scope channel")
	leaderboardCmd.Flags().IntVar(&leaderboardLimit, "limit", presence.DefaultLeaderboardLimit, "Number of entries")

	adjustCmd.Flags().StringVar(&adjustMonth, "month", "", "Month to adjust (YYYY-MM); defaults to the current month")

	resetCmd.Flags().BoolVar(&resetConfirm, "yes", false, "Confirm the reset")

	for _, cmd := range []*cobra.Command{guildsCmd, activeCmd, totalCmd, leaderboardCmd, adjustCmd, pauseCmd, unpauseCmd, resetCmd} {
		addClientFlags(cmd)
		rootCmd.AddCommand(cmd)
	}
}

func runGuilds(cmd *cobra.Command, args []string) error {
	var resp api.GuildsResponse
	if err := newAPIClient().get(cmd.Context(), "/api/guilds", nil, &resp); err != nil {
		return err
	}

	cyan := color.New(color.FgCyan, color.Bold)
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	_, _ = cyan.Fprintln(tw, "GUILD\tCATEGORY\tACTIVE")
	for _, guild := range resp.Guilds {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%d\n", guild.GuildID, guild.CategoryID, guild.Active)
	}
	return tw.Flush()
}

func runActive(cmd *cobra.Command, args []string) error {
	var resp api.ActiveResponse
	if err := newAPIClient().get(cmd.Context(), guildPath(args[0], "active"), nil, &resp); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if resp.Count == 0 {
		_, _ = fmt.Fprintln(out, "Nobody is being timed.")
		return nil
	}

	cyan := color.New(color.FgCyan, color.Bold)
	yellow := color.New(color.FgYellow)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = cyan.Fprintln(tw, "USER\tCHANNEL\tELAPSED\tSTARTED")
	for _, user := range resp.Users {
		elapsed := user.Elapsed.Round(time.Second).String()
		if user.Paused {
			elapsed = yellow.Sprint(elapsed + " (paused)")
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", user.UserID, user.ChannelID, elapsed, user.StartedAt.UTC().Format(time.RFC3339))
	}
	return tw.Flush()
}

func runTotal(cmd *cobra.Command, args []string) error {
	client := newAPIClient()
	guildID, userID := args[0], args[1]

	var resp api.TotalResponse
	label := "all time"
	if totalMonth != "" {
		year, month, err := parseMonth(totalMonth)
		if err != nil {
			return err
		}
		path := userPath(guildID, userID, "months", strconv.Itoa(year), strconv.Itoa(month))
		if err := client.get(cmd.Context(), path, nil, &resp); err != nil {
			return err
		}
		label = storage.MonthKey(year, month)
	} else if err := client.get(cmd.Context(), userPath(guildID, userID, "total"), nil, &resp); err != nil {
		return err
	}

	green := color.New(color.FgGreen, color.Bold)
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s (%s): %s\n", userID, label, green.Sprint(formatMs(resp.TotalMs)))
	return nil
}

func runLeaderboard(cmd *cobra.Command, args []string) error {
	query := url.Values{}
	query.Set("scope", leaderboardScope)
	query.Set("limit", strconv.Itoa(leaderboardLimit))

	switch presence.ScopeKind(leaderboardScope) {
	case presence.ScopeMonth:
		year, month := time.Now().UTC().Year(), int(time.Now().UTC().Month())
		if leaderboardMonth != "" {
			var err error
			if year, month, err = parseMonth(leaderboardMonth); err != nil {
				return err
			}
		}
		query.Set("year", strconv.Itoa(year))
		query.Set("month", strconv.Itoa(month))
	case presence.ScopeChannel:
		if leaderboardChannel == "" {
			return fmt.Errorf("--channel is required with --scope channel")
		}
		query.Set("channel", leaderboardChannel)
	}

	var resp api.LeaderboardResponse
	if err := newAPIClient().get(cmd.Context(), guildPath(args[0], "leaderboard"), query, &resp); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(resp.Entries) == 0 {
		_, _ = fmt.Fprintln(out, "No time recorded yet.")
		return nil
	}

	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = cyan.Fprintln(tw, "#\tUSER\tTOTAL\tLIVE")
	for _, entry := range resp.Entries {
		live := ""
		if entry.Active {
			live = green.Sprint("+" + formatMs(entry.LiveMs))
		}
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", entry.Rank, entry.UserID, formatMs(entry.TotalMs), live)
	}
	return tw.Flush()
}

func runAdjust(cmd *cobra.Command, args []string) error {
	guildID, userID := args[0], args[1]

	delta, err := parseDelta(args[2])
	if err != nil {
		return err
	}

	req := api.AdjustRequest{DeltaMs: delta}
	if adjustMonth != "" {
		if req.Year, req.Month, err = parseMonth(adjustMonth); err != nil {
			return err
		}
	}

	if err := newAPIClient().post(cmd.Context(), userPath(guildID, userID, "adjust"), req, nil); err != nil {
		return err
	}

	_, _ = color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "✅ Adjusted %s by %dms\n", userID, delta)
	return nil
}

func runPause(cmd *cobra.Command, args []string, action string) error {
	path := guildPath(args[0], action)
	target := "guild " + args[0]
	if len(args) == 2 {
		path = userPath(args[0], args[1], action)
		target = "user " + args[1]
	}

	var resp api.PauseResponse
	if err := newAPIClient().post(cmd.Context(), path, nil, &resp); err != nil {
		return err
	}

	_, _ = color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "✅ %sd %s\n", capitalize(action), target)
	return nil
}

func runReset(cmd *cobra.Command, args []string) error {
	path := guildPath(args[0], "reset")
	target := "every user in guild " + args[0]
	if len(args) == 2 {
		path = userPath(args[0], args[1], "reset")
		target = "user " + args[1]
	}

	if !resetConfirm {
		return fmt.Errorf("refusing to reset all-time totals of %s without --yes", target)
	}

	if err := newAPIClient().post(cmd.Context(), path, nil, nil); err != nil {
		return err
	}

	_, _ = color.New(color.FgRed, color.Bold).Fprintf(cmd.OutOrStdout(), "Reset all-time totals of %s\n", target)
	return nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}
