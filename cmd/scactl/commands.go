package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/briangreenhill/cropadvisor/internal/assetcache"
	"github.com/briangreenhill/cropadvisor/internal/manifest"
)

func newInstallCmd(opts *rootOptions) *cobra.Command {
	var noActivate bool
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Fetch every manifest asset from the origin and commit the cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer s.close() //nolint:errcheck

			if err := s.mgr.Install(ctx); err != nil {
				return err
			}
			if !noActivate {
				if err := s.mgr.Activate(ctx); err != nil {
					return err
				}
			}
			return printJSON(cmd.OutOrStdout(), s.mgr.Status())
		},
	}
	cmd.Flags().BoolVar(&noActivate, "no-activate", false, "leave the cache installed without activating it")
	return cmd
}

type statusOutput struct {
	assetcache.Status
	Keys   []string `json:"keys"`
	Caches []string `json:"caches"`
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the cache state held in the store without touching the network",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer s.close() //nolint:errcheck

			if _, err := s.mgr.Restore(ctx); err != nil {
				return err
			}
			keys, err := s.mgr.Store().Keys(ctx, s.mgr.CacheID())
			if err != nil {
				return err
			}
			caches, err := s.mgr.Store().Caches(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), statusOutput{Status: s.mgr.Status(), Keys: keys, Caches: caches})
		},
	}
}

func newRetireCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "retire <cache-id>",
		Short: "Drop a cache identifier from the store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer s.close() //nolint:errcheck

			if err := s.mgr.Retire(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "retired %s\n", args[0])
			return nil
		},
	}
}

func newEvictCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "evict <path>",
		Short: "Remove one asset from the current cache so the next install refetches it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer s.close() //nolint:errcheck

			key, err := assetcache.KeyForPath(args[0])
			if err != nil {
				return err
			}
			if err := s.mgr.Store().Delete(ctx, s.mgr.CacheID(), key); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "evicted %s from %s\n", key, s.mgr.CacheID())
			return nil
		},
	}
}

func newManifestCmd(opts *rootOptions) *cobra.Command {
	var check bool
	cmd := &cobra.Command{
		Use:   "manifest",
		Short: "Print the effective manifest as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.config()
			if err != nil {
				return err
			}
			mf, err := manifest.Load(cfg.ManifestPath)
			if err != nil {
				return err
			}
			if check {
				if err := mf.RequireScripts(); err != nil {
					return err
				}
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(mf); err != nil {
				return err
			}
			return enc.Close()
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "fail unless every component script is listed")
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
