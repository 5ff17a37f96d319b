package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"msgrelay/crypto"
	"msgrelay/discovery"
	"msgrelay/storage"
)

func usersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "users",
		Short: "List registered users with their key fingerprints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, dir, logger, err := setup()
			if err != nil {
				return err
			}
			store, err := openStore(cfg, dir)
			if err != nil {
				return err
			}
			defer func() {
				if err := store.Close(); err != nil {
					logger.Error().Err(err).Msg("database close error")
				}
			}()

			return printUsers(cmd.OutOrStdout(), store)
		},
	}
}

func printUsers(out io.Writer, store *storage.Store) error {
	summaries, err := store.ListUsers()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CLIENT ID\tNAME\tLAST SEEN\tFINGERPRINT")
	for _, summary := range summaries {
		user, err := store.GetUserByID(summary.ClientID)
		if err != nil {
			return fmt.Errorf("load user %s: %w", summary.ClientID, err)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			user.ClientID,
			user.Name,
			time.Unix(user.LastSeen, 0).UTC().Format(time.RFC3339),
			crypto.FormatFingerprint(crypto.Fingerprint(user.PublicKey)),
		)
	}
	return w.Flush()
}

func purgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Remove messages whose content never finished arriving",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, dir, logger, err := setup()
			if err != nil {
				return err
			}
			store, err := openStore(cfg, dir)
			if err != nil {
				return err
			}
			defer func() {
				if err := store.Close(); err != nil {
					logger.Error().Err(err).Msg("database close error")
				}
			}()

			removed, err := store.PurgeIncompleteMessages()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d incomplete messages\n", removed)
			return nil
		},
	}
}

func discoverCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Browse the local network for advertised relays",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, _, _, err := setup(); err != nil {
				return err
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			relays, err := discovery.Browse(ctx, discovery.Config{ScanTimeout: timeout})
			if err != nil {
				return err
			}
			return printRelays(cmd.OutOrStdout(), relays)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", discovery.DefaultScanTimeout, "scan window")
	return cmd
}

func printRelays(out io.Writer, relays []discovery.Relay) error {
	if len(relays) == 0 {
		_, err := fmt.Fprintln(out, "no relays found")
		return err
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RELAY ID\tINSTANCE\tVERSION\tPORT\tADDRESSES")
	for _, relay := range relays {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n",
			relay.RelayID,
			relay.InstanceName,
			relay.Version,
			relay.Port,
			strings.Join(relay.Addresses, ","),
		)
	}
	return w.Flush()
}
