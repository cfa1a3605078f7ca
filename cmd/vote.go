package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-ballot/internal/config"
	"github.com/kozaktomas/face-ballot/internal/voting"
)

var voteCmd = &cobra.Command{
	Use:   "vote",
	Short: "Cast a vote from a face photo",
	Long: `Cast a vote for a proposal using the face in a photo.

Examples:
  face-ballot vote --image selfie.jpg --proposal 0`,
	Args: cobra.NoArgs,
	RunE: runVote,
}

func init() {
	rootCmd.AddCommand(voteCmd)

	voteCmd.Flags().String("image", "", "Path to a photo containing one face")
	voteCmd.Flags().Int64("proposal", -1, "Proposal ID to vote for")
	voteCmd.MarkFlagRequired("image")
	voteCmd.MarkFlagRequired("proposal")
}

func runVote(cmd *cobra.Command, args []string) error {
	image, err := os.ReadFile(mustGetString(cmd, "image"))
	if err != nil {
		return fmt.Errorf("reading image: %w", err)
	}

	ctx := context.Background()
	o, closeFn, err := openOrchestrator(ctx, config.Load())
	if err != nil {
		return err
	}
	defer closeFn()

	if err := o.Init(ctx); err != nil {
		return err
	}

	result, err := o.ProcessVote(ctx, image, mustGetInt64(cmd, "proposal"))
	if err != nil {
		return fmt.Errorf("vote rejected (%s): %w", voting.Code(err), err)
	}

	fmt.Println("Vote recorded")
	fmt.Printf("  Face:        %s\n", result.FaceIdentifier)
	fmt.Printf("  Transaction: %s\n", result.TransactionID)
	fmt.Printf("  Block:       %d\n", result.BlockNumber)
	fmt.Printf("  Gas used:    %s\n", result.CostUsed)
	return nil
}
