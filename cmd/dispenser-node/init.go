package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"dispenser.dev/node/dispenser"
	"dispenser.dev/node/merkle"
	"dispenser.dev/node/node"
)

type initOptions struct {
	allocations string
	rootHex     string
	treeSize    uint64
	guard       string
	mint        string
	treasury    string
	maxTransfer uint64
	fund        uint64
}

func (o initOptions) dispenserConfig() (dispenser.Config, error) {
	var c dispenser.Config
	switch {
	case o.allocations != "" && o.rootHex != "":
		return c, errors.New("pass either --allocations or --root, not both")
	case o.allocations != "":
		infos, err := readAllocations(o.allocations)
		if err != nil {
			return c, err
		}
		c.MerkleRoot = buildTree(infos).Root()
	case o.rootHex != "":
		h, err := merkle.ParseHash(o.rootHex)
		if err != nil {
			return c, err
		}
		c.MerkleRoot = merkle.Root{Hash: h, Size: o.treeSize}
	default:
		return c, errors.New("one of --allocations or --root is required")
	}
	var err error
	if o.guard != "" {
		if c.DispenserGuard, err = dispenser.ParsePubkey(o.guard); err != nil {
			return c, fmt.Errorf("guard: %w", err)
		}
	}
	if c.Mint, err = dispenser.ParsePubkey(o.mint); err != nil {
		return c, fmt.Errorf("mint: %w", err)
	}
	if c.Treasury, err = dispenser.ParsePubkey(o.treasury); err != nil {
		return c, fmt.Errorf("treasury: %w", err)
	}
	c.MaxTransfer = o.maxTransfer
	return c, nil
}

type initOutput struct {
	DispenserID    string `json:"dispenser_id"`
	MerkleRoot     string `json:"merkle_root"`
	TreeSize       uint64 `json:"tree_size"`
	DispenserGuard string `json:"dispenser_guard"`
	Mint           string `json:"mint"`
	Treasury       string `json:"treasury"`
	MaxTransfer    uint64 `json:"max_transfer"`
	TreasuryFunds  uint64 `json:"treasury_balance"`
}

func (c *cli) initCmd() *cobra.Command {
	var o initOptions
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the dispenser config and fund the treasury",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.runInit(cmd.Context(), o)
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.allocations, "allocations", "", "allocation file to build the tree from")
	f.StringVar(&o.rootHex, "root", "", "merkle root (hex) of a prebuilt tree")
	f.Uint64Var(&o.treeSize, "tree-size", 0, "leaf count of the prebuilt tree")
	f.StringVar(&o.guard, "guard", "", "dispenser guard pubkey (base58)")
	f.StringVar(&o.mint, "mint", "", "token mint (base58)")
	f.StringVar(&o.treasury, "treasury", "", "treasury token account (base58)")
	f.Uint64Var(&o.maxTransfer, "max-transfer", 0, "largest amount a single claim may move")
	f.Uint64Var(&o.fund, "fund", 0, "tokens to credit to the treasury")
	_ = cmd.MarkFlagRequired("mint")
	_ = cmd.MarkFlagRequired("treasury")
	return cmd
}

func (c *cli) runInit(ctx context.Context, o initOptions) error {
	cfg, err := c.config()
	if err != nil {
		return err
	}
	if cfg.Ledger == node.LedgerMemory {
		return exitCode(2, errors.New("init needs a persistent ledger, not memory"))
	}
	dc, err := o.dispenserConfig()
	if err != nil {
		return exitCode(2, err)
	}
	logger, err := node.NewLogger(c.stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return exitCode(2, err)
	}
	stores, err := node.OpenStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer stores.Close()

	if err := node.InitDeployment(ctx, stores.Backend, dc, o.fund); err != nil {
		return err
	}
	acct, err := stores.Backend.Account(ctx, dc.Treasury)
	if err != nil {
		return err
	}
	logger.Info("dispenser initialized", "root", dc.MerkleRoot.String(), "treasury", dc.Treasury.String())
	return printJSON(c.stdout, initOutput{
		DispenserID:    cfg.DispenserID,
		MerkleRoot:     hex.EncodeToString(dc.MerkleRoot.Hash[:]),
		TreeSize:       dc.MerkleRoot.Size,
		DispenserGuard: dc.DispenserGuard.String(),
		Mint:           dc.Mint.String(),
		Treasury:       dc.Treasury.String(),
		MaxTransfer:    dc.MaxTransfer,
		TreasuryFunds:  acct.Balance,
	})
}
