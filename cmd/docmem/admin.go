package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/scrypster/docmem/internal/sweep"
	"github.com/scrypster/docmem/pkg/types"
)

var (
	tenantID  string
	userID    string
	policyID  string
	asOf      string
	allScopes bool

	namespace string
	docPath   string
	bindingID string
)

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var retentionCmd = &cobra.Command{
	Use:   "retention",
	Short: "Delete events, audit records and snapshots past their retention",
	Long: `Apply the retention rules of a policy to one (tenant, user) scope, or with
--all to every scope found in storage (compacting bound documents as well).`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		when := time.Time{}
		if asOf != "" {
			t, err := time.Parse(time.RFC3339, asOf)
			if err != nil {
				return fmt.Errorf("--as-of must be RFC 3339: %w", err)
			}
			when = t
		}
		if !allScopes && (tenantID == "" || userID == "") {
			return fmt.Errorf("--tenant and --user are required unless --all is set")
		}

		a, err := openApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		if allScopes {
			svc, err := sweep.NewService(a.coord, sweep.Config{PolicyID: policyID, Compact: true}, logger, a.scopes...)
			if err != nil {
				return err
			}
			res, err := svc.SweepNow(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		}

		res, err := a.coord.ApplyRetention(cmd.Context(), tenantID, userID, policyID, when)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

var forgetCmd = &cobra.Command{
	Use:   "forget",
	Short: "Erase everything stored for one user",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.coord.ForgetUser(cmd.Context(), tenantID, userID)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

var compactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Trim one document to its binding's compaction rules",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		key := types.DocumentKey{TenantID: tenantID, UserID: userID, Namespace: namespace, Path: docPath}
		res, err := a.coord.Compact(cmd.Context(), key, policyID, bindingID)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

func scopeFlags(cmd *cobra.Command, required bool) {
	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant id")
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	if required {
		_ = cmd.MarkFlagRequired("tenant")
		_ = cmd.MarkFlagRequired("user")
	}
}

func init() {
	scopeFlags(retentionCmd, false)
	retentionCmd.Flags().StringVar(&policyID, "policy", "default", "policy whose retention rules apply")
	retentionCmd.Flags().StringVar(&asOf, "as-of", "", "reference time in RFC 3339, single scope only (default: now)")
	retentionCmd.Flags().BoolVar(&allScopes, "all", false, "sweep every scope found in storage")

	scopeFlags(forgetCmd, true)

	scopeFlags(compactCmd, true)
	compactCmd.Flags().StringVar(&policyID, "policy", "default", "policy id")
	compactCmd.Flags().StringVar(&bindingID, "binding", "", "binding id")
	compactCmd.Flags().StringVar(&namespace, "namespace", "", "document namespace")
	compactCmd.Flags().StringVar(&docPath, "path", "", "document path")
	for _, name := range []string{"binding", "namespace", "path"} {
		_ = compactCmd.MarkFlagRequired(name)
	}

	rootCmd.AddCommand(retentionCmd, forgetCmd, compactCmd)
}
