package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/abelbrown/waitwiki/internal/app"
	"github.com/abelbrown/waitwiki/internal/cache"
	"github.com/abelbrown/waitwiki/internal/config"
	"github.com/abelbrown/waitwiki/internal/coord"
	"github.com/abelbrown/waitwiki/internal/health"
	"github.com/abelbrown/waitwiki/internal/logging"
	"github.com/abelbrown/waitwiki/internal/store"
)

// persisted is everything the engine writes, decoded.
type persisted struct {
	Cache       []cache.Entry   `json:"-"`
	ByCategory  map[string]int  `json:"by_category"`
	Performance app.Performance `json:"performance"`
	Usage       coord.UserStats `json:"usage"`
	Failures    []health.Entry  `json:"failures"`
	Keys        []store.KeyInfo `json:"keys"`
}

func newStatsCmd(flags *rootFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show persisted counters and cache contents",
		RunE: func(cmd *cobra.Command, args []string) error {
			logging.InitWriter(cmd.ErrOrStderr(), flags.logLevel)

			st, err := store.Open(config.DBPath())
			if err != nil {
				return err
			}
			defer st.Close()

			p, err := loadPersisted(cmd.Context(), st)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(p)
			}
			printStats(cmd.OutOrStdout(), p)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func loadPersisted(ctx context.Context, st *store.Store) (*persisted, error) {
	values, err := st.Get(ctx, app.Keys()...)
	if err != nil {
		return nil, err
	}
	keys, err := st.Keys(ctx)
	if err != nil {
		return nil, err
	}

	p := &persisted{ByCategory: make(map[string]int), Keys: keys}
	decode := func(key string, v any) {
		data, ok := values[key]
		if !ok {
			return
		}
		if err := json.Unmarshal(data, v); err != nil {
			logging.Warn("Skipping unreadable value", "key", key, "error", err)
		}
	}
	decode(app.KeyCache, &p.Cache)
	decode(app.KeyPerformance, &p.Performance)
	decode(app.KeyUserStats, &p.Usage)
	decode(app.KeyFailedAPIs, &p.Failures)

	for _, e := range p.Cache {
		p.ByCategory[string(e.Item.Category)]++
	}
	return p, nil
}

func printStats(w io.Writer, p *persisted) {
	perf := p.Performance
	fmt.Fprintf(w, "Cached cards:          %d\n", len(p.Cache))
	cats := make([]string, 0, len(p.ByCategory))
	for c := range p.ByCategory {
		cats = append(cats, c)
	}
	sort.Strings(cats)
	for _, c := range cats {
		fmt.Fprintf(w, "  %-20s %d\n", c, p.ByCategory[c])
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "API calls:             %d (%d ok, %d failed)\n", perf.APICalls, perf.Successes, perf.Failures)
	fmt.Fprintf(w, "Cards fetched:         %d\n", perf.ItemsFetched)
	fmt.Fprintf(w, "Avg response:          %dms\n", perf.AverageResponseMs)
	fmt.Fprintf(w, "Cache hits / misses:   %d / %d\n", perf.CacheHits, perf.CacheMisses)
	if !perf.LastReset.IsZero() {
		fmt.Fprintf(w, "Counting since:        %s\n", perf.LastReset.Local().Format(time.DateTime))
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Cards displayed:       %d\n", p.Usage.Displays)
	for _, c := range p.Usage.Favorites() {
		fmt.Fprintf(w, "  %-20s %d\n", c, p.Usage.Categories[c])
	}

	if len(p.Failures) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Failing sources:")
		for _, f := range p.Failures {
			fmt.Fprintf(w, "  %-20s %d failures, last %s  %s\n", f.Category, f.Failures, f.LastFailure.Local().Format(time.DateTime), f.LastError)
		}
	}

	if len(p.Keys) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Store:")
		for _, k := range p.Keys {
			fmt.Fprintf(w, "  %-32s %6d bytes  %s\n", k.Key, k.Size, k.Updated.Local().Format(time.DateTime))
		}
	}
}
