// Command imagesrvctl is a small administrative CLI over the relational
// store (property get/set, permission version bump, per-source stats),
// grounded on the pack's github.com/spf13/cobra usage for multi-command
// tools. Unlike the in-process derivative cache, the store is the one
// piece of state genuinely shared across web and task-worker processes,
// so this is where an offline CLI can act without racing a live server.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/quru/imageserver/internal/config"
	"github.com/quru/imageserver/internal/store"
)

func main() {
	root := &cobra.Command{
		Use:   "imagesrvctl",
		Short: "administer the image server's relational store",
	}
	root.AddCommand(propertyGetCmd(), propertySetCmd(), permVersionCmd(), sourceStatsCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openStore() (*store.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return store.Open(cfg.DatabasePath)
}

func propertyGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "property-get KEY",
		Short: "print a stored property value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()
			v, ok, err := st.GetProperty(context.Background(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("property %q not set", args[0])
			}
			fmt.Println(v)
			return nil
		},
	}
}

func propertySetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "property-set KEY VALUE",
		Short: "set a stored property value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()
			return st.SetProperty(context.Background(), args[0], args[1])
		},
	}
}

func permVersionCmd() *cobra.Command {
	var bump bool
	cmd := &cobra.Command{
		Use:   "perm-version",
		Short: "print (or bump) the permission version counter",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()
			var v int64
			if bump {
				v, err = st.BumpPermissionVersion(context.Background())
			} else {
				v, err = st.PermissionVersion(context.Background())
			}
			if err != nil {
				return err
			}
			fmt.Println(v)
			return nil
		},
	}
	cmd.Flags().BoolVar(&bump, "bump", false, "increment the counter instead of just reading it")
	return cmd
}

func sourceStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "source-stats SOURCE_ID",
		Short: "print recorded view/download totals for one source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("source id: %w", err)
			}
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()
			totals, err := st.SourceStats(context.Background(), id)
			if err != nil {
				return err
			}
			fmt.Printf("views=%d downloads=%d bytes_out=%d cache_hits=%d\n",
				totals.Views, totals.Downloads, totals.BytesOut, totals.CacheHits)
			return nil
		},
	}
}
