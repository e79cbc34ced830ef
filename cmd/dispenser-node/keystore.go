package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"dispenser.dev/node/guard"
	"dispenser.dev/node/node"
)

func (c *cli) keystoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keystore",
		Short: "Manage the dispenser guard keystore",
	}
	cmd.AddCommand(c.keystoreSealCmd())
	cmd.AddCommand(c.keystoreRewrapCmd())
	cmd.AddCommand(c.keystorePubkeyCmd())
	return cmd
}

// kek returns the flag value, falling back to guard_kek from the config
// layers (DISPENSER_GUARD_KEK).
func (c *cli) kek(flag string) ([]byte, error) {
	if flag == "" {
		cfg, err := node.LoadConfig(c.v, c.configPath)
		if err != nil {
			return nil, err
		}
		flag = cfg.GuardKEK
	}
	if flag == "" {
		return nil, errors.New("a KEK is required (--kek or DISPENSER_GUARD_KEK)")
	}
	return guard.ParseKEK(flag)
}

type keystoreOutput struct {
	Path     string `json:"path"`
	Pubkey   string `json:"pubkey"`
	KeyIDHex string `json:"key_id_hex"`
}

func (c *cli) keystoreSealCmd() *cobra.Command {
	var out, kekHex, seedHex string
	cmd := &cobra.Command{
		Use:   "seal",
		Short: "Wrap a guard key under a KEK (a fresh key unless --seed is given)",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			kek, err := c.kek(kekHex)
			if err != nil {
				return exitCode(2, err)
			}
			var key ed25519.PrivateKey
			if seedHex != "" {
				seed, err := hex.DecodeString(seedHex)
				if err != nil || len(seed) != ed25519.SeedSize {
					return exitCode(2, fmt.Errorf("seed must be %d hex-encoded bytes", ed25519.SeedSize))
				}
				key = ed25519.NewKeyFromSeed(seed)
			} else {
				if _, key, err = ed25519.GenerateKey(rand.Reader); err != nil {
					return err
				}
			}
			ks, err := guard.Seal(kek, key)
			if err != nil {
				return err
			}
			if err := guard.WriteKeystore(out, ks); err != nil {
				return err
			}
			return printJSON(c.stdout, keystoreOutput{Path: out, Pubkey: ks.Pubkey, KeyIDHex: ks.KeyIDHex})
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "keystore file to write")
	cmd.Flags().StringVar(&kekHex, "kek", "", "32-byte KEK (hex)")
	cmd.Flags().StringVar(&seedHex, "seed", "", "existing 32-byte ed25519 seed (hex)")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

func (c *cli) keystoreRewrapCmd() *cobra.Command {
	var in, out, oldHex, newHex string
	cmd := &cobra.Command{
		Use:   "rewrap",
		Short: "Move a keystore to a new KEK",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			oldKEK, err := c.kek(oldHex)
			if err != nil {
				return exitCode(2, err)
			}
			newKEK, err := guard.ParseKEK(newHex)
			if err != nil {
				return exitCode(2, fmt.Errorf("new kek: %w", err))
			}
			ks, err := guard.ReadKeystore(in)
			if err != nil {
				return err
			}
			moved, err := ks.Rewrap(oldKEK, newKEK)
			if err != nil {
				return err
			}
			if out == "" {
				out = in
			}
			if err := guard.WriteKeystore(out, moved); err != nil {
				return err
			}
			return printJSON(c.stdout, keystoreOutput{Path: out, Pubkey: moved.Pubkey, KeyIDHex: moved.KeyIDHex})
		},
	}
	cmd.Flags().StringVar(&in, "in", "", "keystore file")
	cmd.Flags().StringVar(&out, "out", "", "output file (default: overwrite --in)")
	cmd.Flags().StringVar(&oldHex, "kek", "", "current KEK (hex)")
	cmd.Flags().StringVar(&newHex, "new-kek", "", "new KEK (hex)")
	_ = cmd.MarkFlagRequired("in")
	_ = cmd.MarkFlagRequired("new-kek")
	return cmd
}

func (c *cli) keystorePubkeyCmd() *cobra.Command {
	var in string
	cmd := &cobra.Command{
		Use:   "pubkey",
		Short: "Print the guard pubkey recorded in a keystore",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			ks, err := guard.ReadKeystore(in)
			if err != nil {
				return err
			}
			return printJSON(c.stdout, keystoreOutput{Path: in, Pubkey: ks.Pubkey, KeyIDHex: ks.KeyIDHex})
		},
	}
	cmd.Flags().StringVar(&in, "in", "", "keystore file")
	_ = cmd.MarkFlagRequired("in")
	return cmd
}
