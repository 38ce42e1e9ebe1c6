package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"fleur-q/internal/security"
)

func (a *app) keysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage the daemon signing keys",
	}
	cmd.AddCommand(a.keysGenerateCmd())
	return cmd
}

func (a *app) keysGenerateCmd() *cobra.Command {
	var dir string
	var force bool
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Create the ed25519 key pair that signs ledger records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dir == "" {
				dir = a.cfg.Server.KeysDir
			}
			var (
				keys    security.KeyPair
				created bool
				err     error
			)
			if force {
				if keys, err = security.GenerateKeyPair(); err != nil {
					return err
				}
				if err = keys.Save(dir); err != nil {
					return err
				}
				created = true
			} else if keys, created, err = security.Ensure(dir); err != nil {
				return err
			}

			state := "Loaded existing"
			if created {
				state = "Generated"
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s keys in %s\n", successStyle.Render(state), dir)
			fmt.Fprintf(out, "public key: %s\n", valueStyle.Render(keys.PublicHex()))
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "key directory (default server.keys_dir)")
	cmd.Flags().BoolVar(&force, "force", false, "replace existing keys")
	return cmd
}
