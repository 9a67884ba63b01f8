package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openbtps/btps-go/resolver"
	"github.com/openbtps/btps-go/wire"
)

var resolveSelector string

var resolveCmd = &cobra.Command{
	Use:   "resolve [identity]",
	Short: "Resolve an account$domain identity's host and published key",
	Long: `Resolve performs the two-stage BTPS DNS TXT lookup: first the _btps
host record, then the selector-scoped identity key record, and prints both
as JSON.`,
	Args: cobra.ExactArgs(1),
	RunE: runResolve,
}

func init() {
	rootCmd.AddCommand(resolveCmd)
	resolveCmd.Flags().StringVar(&resolveSelector, "selector", "", "key selector (default: the host record's published selector)")
}

type resolveOutput struct {
	Identity string             `json:"identity"`
	Host     *resolver.HostRecord `json:"host"`
	Key      *resolver.KeyRecord  `json:"key,omitempty"`
}

func runResolve(cmd *cobra.Command, args []string) error {
	id, err := wire.ParseIdentity(args[0])
	if err != nil {
		return fmt.Errorf("invalid identity: %w", err)
	}

	res := resolver.New(cfg.Resolver.ToResolverConfig())
	ctx := context.Background()

	host, err := res.ResolveHost(ctx, id)
	if err != nil {
		return fmt.Errorf("resolve host: %w", err)
	}

	selector := resolveSelector
	if selector == "" {
		selector = host.Selector
	}
	key, err := res.ResolveIdentityKey(ctx, id, selector)
	if err != nil {
		return fmt.Errorf("resolve identity key: %w", err)
	}

	out := resolveOutput{Identity: id.String(), Host: host, Key: key}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
