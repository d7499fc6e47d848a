package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	"github.com/and161185/placesync/internal/client/credentials"
	"github.com/and161185/placesync/internal/client/syncer"
	"github.com/and161185/placesync/internal/convert"
	"github.com/and161185/placesync/internal/errs"
	"github.com/and161185/placesync/internal/model"
	"github.com/and161185/placesync/internal/protocol"
)

const keyArgs = "<region-type> <code>"

func (a *app) markCmd() *cobra.Command {
	var name, status, visited, departed, notes string
	var transit bool
	cmd := &cobra.Command{
		Use:     "mark " + keyArgs,
		Short:   "Mark a region visited or on the bucket list",
		Example: "  placesync mark country FR --visited 2024-06-01\n  placesync mark us_state CA --status bucket",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := parseKey(args)
			if err != nil {
				return err
			}
			st, err := parseStatus(status)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			s, err := a.store(ctx)
			if err != nil {
				return err
			}

			// unset flags keep what the active record already says
			in := model.PlaceInput{RegionType: key.Type, RegionCode: key.Code, RegionName: key.Code, Status: st, VisitType: model.VisitFull}
			cur, err := s.FindActiveByKey(ctx, key)
			switch {
			case err == nil:
				in.RegionName, in.VisitType = cur.RegionName, cur.VisitType
				in.VisitedDate, in.DepartureDate, in.Notes = cur.VisitedDate, cur.DepartureDate, cur.Notes
			case !errors.Is(err, errs.ErrNotFound):
				return err
			}
			f := cmd.Flags()
			if f.Changed("name") {
				in.RegionName = name
			}
			if f.Changed("transit") {
				in.VisitType = model.VisitFull
				if transit {
					in.VisitType = model.VisitTransit
				}
			}
			if f.Changed("visited") {
				if in.VisitedDate, err = optDate(visited); err != nil {
					return err
				}
			}
			if f.Changed("departed") {
				if in.DepartureDate, err = optDate(departed); err != nil {
					return err
				}
			}
			if f.Changed("notes") {
				in.Notes = optString(notes, notes != "")
			}

			rec, err := s.UpsertByKey(ctx, in)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%s %s v%d (%s)\n", rec.Key(), rec.Status, rec.SyncVersion, rec.ID)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&name, "name", "", "display name (default: the code)")
	f.StringVarP(&status, "status", "s", "visited", "visited|bucket")
	f.BoolVar(&transit, "transit", false, "transit or layover only")
	f.StringVar(&visited, "visited", "", "visit date YYYY-MM-DD (empty clears)")
	f.StringVar(&departed, "departed", "", "departure date YYYY-MM-DD (empty clears)")
	f.StringVar(&notes, "notes", "", "free-form notes (empty clears)")
	return cmd
}

func (a *app) removeCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "remove " + keyArgs,
		Aliases: []string{"rm"},
		Short:   "Remove a region from the list",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := parseKey(args)
			if err != nil {
				return err
			}
			s, err := a.store(cmd.Context())
			if err != nil {
				return err
			}
			rec, err := s.SoftDeleteByKey(cmd.Context(), key)
			if errors.Is(err, errs.ErrNotFound) {
				return fmt.Errorf("%s is not on the list", key)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%s removed v%d\n", rec.Key(), rec.SyncVersion)
			return nil
		},
	}
}

func (a *app) listCmd() *cobra.Command {
	var typ, status string
	var asJSON bool
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List marked regions",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var (
				rt  model.RegionType
				st  model.PlaceStatus
				err error
			)
			if typ != "" {
				if rt, err = parseRegionType(typ); err != nil {
					return err
				}
			}
			if status != "" {
				if st, err = parseStatus(status); err != nil {
					return err
				}
			}
			s, err := a.store(cmd.Context())
			if err != nil {
				return err
			}
			all, err := s.ListActive(cmd.Context())
			if err != nil {
				return err
			}
			recs := all[:0]
			for _, r := range all {
				if (rt == model.RegionUnknown || r.RegionType == rt) && (st == "" || r.Status == st) {
					recs = append(recs, r)
				}
			}
			if asJSON {
				return a.printJSON(convert.ToEnvelopes(recs))
			}
			return a.printTable(recs)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&typ, "type", "t", "", "only this region type")
	f.StringVarP(&status, "status", "s", "", "only visited|bucket")
	f.BoolVar(&asJSON, "json", false, "print wire envelopes")
	return cmd
}

func (a *app) printTable(recs []model.PlaceRecord) error {
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TYPE\tCODE\tNAME\tSTATUS\tVISITED\tSYNCED")
	for _, r := range recs {
		status := string(r.Status)
		if r.Status == model.StatusVisited && r.VisitType == model.VisitTransit {
			status = "transit"
		}
		date := "-"
		if r.VisitedDate != nil {
			date = r.VisitedDate.Format(time.DateOnly)
		}
		synced := "yes"
		if !r.IsSynced {
			synced = "pending"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", r.RegionType, r.RegionCode, r.RegionName, status, date, synced)
	}
	return tw.Flush()
}

func (a *app) pendingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "Show local changes not yet acknowledged by the service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			s, err := a.store(ctx)
			if err != nil {
				return err
			}
			n, err := s.PendingCount(ctx)
			if err != nil {
				return err
			}
			recs, err := s.ListUnsynced(ctx, n)
			if err != nil {
				return err
			}
			for _, r := range recs {
				op := "set"
				if r.IsDeleted {
					op = "delete"
				}
				fmt.Fprintf(a.out, "%-6s %s v%d %s\n", op, r.Key(), r.SyncVersion, protocol.FormatTime(r.LastModifiedAt))
			}
			fmt.Fprintf(a.out, "%d pending\n", n)
			return nil
		},
	}
}

func (a *app) report(res syncer.Result) {
	if !res.OK() {
		fmt.Fprintf(a.out, "sync %s: %v\n", res.Outcome, res.Err)
		return
	}
	fmt.Fprintf(a.out, "synced: pushed %d, pulled %d, applied %d, conflicts %d, cursor %s\n",
		res.Pushed, res.Pulled, res.Applied, res.Conflicts, protocol.FormatTime(res.ServerTime))
}

func (a *app) syncCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync cycle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			c, err := a.client(ctx)
			if err != nil {
				return err
			}
			for {
				res := c.RunCycle(ctx)
				a.report(res)
				if !res.OK() {
					return res.Err
				}
				if !all || res.Pushed < a.batch {
					return nil
				}
			}
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "repeat until every pending change is pushed")
	return cmd
}

func (a *app) watchCmd() *cobra.Command {
	sched := syncer.DefaultSchedule
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Sync periodically until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			c, err := a.client(ctx)
			if err != nil {
				return err
			}
			err = c.Run(ctx, sched, a.report)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	f := cmd.Flags()
	f.DurationVar(&sched.Interval, "interval", sched.Interval, "pause between cycles")
	f.DurationVar(&sched.MinBackoff, "min-backoff", sched.MinBackoff, "first retry delay after a network failure")
	f.DurationVar(&sched.MaxBackoff, "max-backoff", sched.MaxBackoff, "retry delay cap")
	return cmd
}

// statusView merges local and service bookkeeping.
type statusView struct {
	DeviceID   string                   `json:"device_id"`
	LastSyncAt *string                  `json:"last_sync_at"`
	Pending    int                      `json:"pending"`
	Service    *protocol.StatusResponse `json:"service,omitempty"`
	ServiceErr string                   `json:"service_error,omitempty"`
}

func (a *app) statusCmd() *cobra.Command {
	var local bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show sync state of this device and the account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			s, err := a.store(ctx)
			if err != nil {
				return err
			}
			var v statusView
			if v.DeviceID, err = s.DeviceID(ctx); err != nil {
				return err
			}
			cur, err := s.Cursor(ctx)
			if err != nil {
				return err
			}
			v.LastSyncAt = convert.FormatCursor(cur)
			if v.Pending, err = s.PendingCount(ctx); err != nil {
				return err
			}
			if !local {
				tr, err := a.transport()
				if err != nil {
					return err
				}
				st, err := syncer.WithAuthRetry(ctx, a.creds(), tr.Status)
				if err != nil {
					v.ServiceErr = err.Error()
				} else {
					v.Service = &st
				}
			}
			return a.printJSON(v)
		},
	}
	cmd.Flags().BoolVar(&local, "local", false, "do not contact the service")
	return cmd
}

func (a *app) statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarize visited regions per type",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.store(cmd.Context())
			if err != nil {
				return err
			}
			recs, err := s.ListActive(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TYPE\tVISITED\tTRANSIT\tBUCKET\tOF")
			for _, row := range computeStats(recs) {
				of := "-"
				if row.Total > 0 {
					of = fmt.Sprintf("%d (%.1f%%)", row.Total, row.Percent)
				}
				fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\n", row.Type.Info().DisplayName, row.Visited, row.Transit, row.Bucket, of)
			}
			return tw.Flush()
		},
	}
}

func (a *app) regionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "regions",
		Short: "List known region types",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TAG\tNAME\tCOUNTRY\tTOTAL")
			for _, rt := range model.RegionTypes() {
				info := rt.Info()
				total := "-"
				if info.Total > 0 {
					total = fmt.Sprint(info.Total)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", info.Tag, info.DisplayName, orDash(info.ParentCountry), total)
			}
			return tw.Flush()
		},
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// tokenExpiry reads exp from a JWT without verifying it; the service does that.
func tokenExpiry(tok string, now time.Time) time.Time {
	var claims jwt.RegisteredClaims
	_, _, err := jwt.NewParser().ParseUnverified(tok, &claims)
	if err == nil && claims.ExpiresAt != nil {
		return claims.ExpiresAt.Time
	}
	return now.Add(24 * time.Hour)
}

func (a *app) tokenCmd() *cobra.Command {
	var expires time.Duration
	cmd := &cobra.Command{
		Use:   "token <bearer-token>",
		Short: "Store the bearer credential used for sync",
		Long:  "Store the bearer credential used for sync. The expiry is read from the token's exp claim unless --expires is given.",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			tok := strings.TrimSpace(args[0])
			if tok == "" {
				return errors.New("empty token")
			}
			now := time.Now()
			exp := tokenExpiry(tok, now)
			if expires > 0 {
				exp = now.Add(expires)
			}
			if err := credentials.SaveToken(a.tokenFile, tok, exp); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "token saved to %s (expires %s)\n", a.tokenFile, exp.UTC().Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().DurationVar(&expires, "expires", 0, "override token lifetime")
	return cmd
}
