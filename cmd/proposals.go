package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/kozaktomas/face-ballot/internal/config"
	"github.com/kozaktomas/face-ballot/internal/voting"
)

var proposalsCmd = &cobra.Command{
	Use:   "proposals",
	Short: "List and manage ballot proposals",
}

var proposalsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List proposals with their vote counts",
	Args:  cobra.NoArgs,
	RunE:  runProposalsList,
}

var proposalsAddCmd = &cobra.Command{
	Use:   "add <description>",
	Short: "Add a proposal (the signer must be the contract admin)",
	Args:  cobra.ExactArgs(1),
	RunE:  runProposalsAdd,
}

var proposalsImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Add proposals from a YAML file, skipping ones already on the ledger",
	Long: `Add proposals listed in a YAML file.

The file holds a single "proposals" list:

  proposals:
    - Build a park on Main Street
    - Extend library opening hours

Descriptions already on the ledger are skipped; the comparison ignores case,
diacritics and whitespace. Each proposal is a separate transaction and is
confirmed before the next one is sent.

Examples:
  face-ballot proposals import ballot.yaml
  face-ballot proposals import ballot.yaml --dry-run`,
	Args: cobra.ExactArgs(1),
	RunE: runProposalsImport,
}

func init() {
	rootCmd.AddCommand(proposalsCmd)
	proposalsCmd.AddCommand(proposalsListCmd, proposalsAddCmd, proposalsImportCmd)

	proposalsListCmd.Flags().Bool("json", false, "Output as JSON")
	proposalsImportCmd.Flags().Bool("dry-run", false, "Show what would be added without sending transactions")
}

// ProposalFile is the YAML import format.
type ProposalFile struct {
	Proposals []string `yaml:"proposals"`
}

func runProposalsList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	o, closeFn, err := openOrchestrator(ctx, config.Load())
	if err != nil {
		return err
	}
	defer closeFn()

	proposals, err := o.Proposals(ctx)
	if err != nil {
		return err
	}

	if mustGetBool(cmd, "json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(proposals)
	}

	if len(proposals) == 0 {
		fmt.Println("No proposals yet.")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tVOTES\tDESCRIPTION")
	fmt.Fprintln(w, "--\t-----\t-----------")
	for _, p := range proposals {
		fmt.Fprintf(w, "%d\t%d\t%s\n", p.ID, p.VoteCount, p.Description)
	}
	w.Flush()
	fmt.Printf("\nTotal: %d proposals\n", len(proposals))
	return nil
}

func runProposalsAdd(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	o, closeFn, err := openOrchestrator(ctx, config.Load())
	if err != nil {
		return err
	}
	defer closeFn()

	result, err := o.AddProposal(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Println(result.Message)
	fmt.Printf("  Transaction: %s\n", result.TransactionID)
	fmt.Printf("  Gas used:    %s\n", result.CostUsed)
	return nil
}

// loadProposalFile reads and normalizes an import file.
func loadProposalFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var file ProposalFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if len(file.Proposals) == 0 {
		return nil, fmt.Errorf("%s contains no proposals", path)
	}

	out := make([]string, 0, len(file.Proposals))
	for i, raw := range file.Proposals {
		desc, err := voting.NormalizeDescription(raw)
		if err != nil {
			return nil, fmt.Errorf("proposal %d: %w", i+1, err)
		}
		out = append(out, desc)
	}
	return out, nil
}

// pendingProposals drops descriptions that already exist or repeat within the file.
func pendingProposals(existing []voting.Proposal, candidates []string) []string {
	seen := make(map[string]struct{}, len(existing)+len(candidates))
	for _, p := range existing {
		seen[voting.DescriptionKey(p.Description)] = struct{}{}
	}
	var out []string
	for _, c := range candidates {
		key := voting.DescriptionKey(c)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}
	return out
}

func runProposalsImport(cmd *cobra.Command, args []string) error {
	candidates, err := loadProposalFile(args[0])
	if err != nil {
		return err
	}

	ctx := context.Background()
	o, closeFn, err := openOrchestrator(ctx, config.Load())
	if err != nil {
		return err
	}
	defer closeFn()

	existing, err := o.Proposals(ctx)
	if err != nil {
		return err
	}
	todo := pendingProposals(existing, candidates)
	fmt.Printf("Proposals to add: %d (skipping %d already present)\n\n", len(todo), len(candidates)-len(todo))
	if len(todo) == 0 {
		return nil
	}

	if mustGetBool(cmd, "dry-run") {
		for _, d := range todo {
			fmt.Printf("  + %s\n", d)
		}
		return nil
	}

	bar := progressbar.NewOptions(len(todo),
		progressbar.OptionSetDescription("Adding proposals"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("tx"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)

	var added int
	var failures []error
	for _, d := range todo {
		if _, err := o.AddProposal(ctx, d); err != nil {
			failures = append(failures, fmt.Errorf("%q: %w", d, err))
			// Without admin rights every remaining transaction fails the same way.
			if errors.Is(err, voting.ErrAdminOnly) {
				break
			}
		} else {
			added++
		}
		bar.Add(1)
	}
	bar.Finish()

	fmt.Printf("\n\nAdded %d proposals\n", added)
	if len(failures) > 0 {
		for _, f := range failures {
			fmt.Printf("  Error: %v\n", f)
		}
		return fmt.Errorf("%d proposals failed", len(failures))
	}
	return nil
}
