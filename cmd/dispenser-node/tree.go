package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"dispenser.dev/node/dispenser"
	"dispenser.dev/node/merkle"
)

type allocationFile struct {
	Allocations []allocation `yaml:"allocations"`
}

type allocation struct {
	Ecosystem string `yaml:"ecosystem"`
	ChainID   string `yaml:"chain_id"`
	Address   string `yaml:"address"`
	Amount    uint64 `yaml:"amount"`
}

// readAllocations parses an allocation file into leaves, in file order.
// Two entries with the same leaf would share one receipt, so they are
// rejected.
func readAllocations(path string) ([]dispenser.ClaimInfo, error) {
	raw, err := os.ReadFile(path) // #nosec G304 -- operator-provided
	if err != nil {
		return nil, err
	}
	var f allocationFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("allocations %s: %w", path, err)
	}
	if len(f.Allocations) == 0 {
		return nil, errors.New("allocation file has no entries")
	}
	out := make([]dispenser.ClaimInfo, 0, len(f.Allocations))
	seen := make(map[string]int, len(f.Allocations))
	for i, a := range f.Allocations {
		eco := dispenser.Ecosystem(strings.ToLower(strings.TrimSpace(a.Ecosystem)))
		id, err := dispenser.ParseIdentity(eco, a.ChainID, a.Address)
		if err != nil {
			return nil, fmt.Errorf("allocation %d: %w", i, err)
		}
		if a.Amount == 0 {
			return nil, fmt.Errorf("allocation %d: amount must be positive", i)
		}
		info := dispenser.ClaimInfo{Identity: id, Amount: a.Amount}
		key := string(info.Encode())
		if j, dup := seen[key]; dup {
			return nil, fmt.Errorf("allocation %d duplicates allocation %d", i, j)
		}
		seen[key] = i
		out = append(out, info)
	}
	return out, nil
}

func buildTree(infos []dispenser.ClaimInfo) *merkle.Tree {
	leaves := make([][]byte, len(infos))
	for i, info := range infos {
		leaves[i] = info.Encode()
	}
	return merkle.NewTree(leaves)
}

type treeLeaf struct {
	Index     uint64   `json:"index"`
	Ecosystem string   `json:"ecosystem"`
	Identity  string   `json:"identity"`
	Amount    uint64   `json:"amount"`
	Leaf      string   `json:"leaf"`
	LeafHash  string   `json:"leaf_hash"`
	Proof     []string `json:"proof"`
}

type treeOutput struct {
	Root   string     `json:"root"`
	Size   uint64     `json:"size"`
	Leaves []treeLeaf `json:"leaves,omitempty"`
}

func (c *cli) treeCmd() *cobra.Command {
	var path string
	var rootOnly bool
	cmd := &cobra.Command{
		Use:   "tree",
		Short: "Build the allocation tree and print its root and inclusion proofs",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			infos, err := readAllocations(path)
			if err != nil {
				return exitCode(2, err)
			}
			tree := buildTree(infos)
			root := tree.Root()
			out := treeOutput{Root: hex.EncodeToString(root.Hash[:]), Size: root.Size}
			if !rootOnly {
				for i, info := range infos {
					p, err := tree.Path(uint64(i))
					if err != nil {
						return err
					}
					leaf := info.Encode()
					slot := dispenser.DeriveSlot(leaf)
					proof := make([]string, len(p.Hashes))
					for j, h := range p.Hashes {
						proof[j] = hex.EncodeToString(h[:])
					}
					out.Leaves = append(out.Leaves, treeLeaf{
						Index:     p.Index,
						Ecosystem: string(info.Identity.Ecosystem()),
						Identity:  info.Identity.String(),
						Amount:    info.Amount,
						Leaf:      hex.EncodeToString(leaf),
						LeafHash:  hex.EncodeToString(slot[:]),
						Proof:     proof,
					})
				}
			}
			return printJSON(c.stdout, out)
		},
	}
	cmd.Flags().StringVar(&path, "allocations", "", "allocation file (yaml)")
	cmd.Flags().BoolVar(&rootOnly, "root-only", false, "print only the root and size")
	_ = cmd.MarkFlagRequired("allocations")
	return cmd
}
