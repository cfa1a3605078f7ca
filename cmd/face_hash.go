package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-ballot/internal/config"
	"github.com/kozaktomas/face-ballot/internal/database"
	"github.com/kozaktomas/face-ballot/internal/voting"
)

var faceHashCmd = &cobra.Command{
	Use:   "face-hash",
	Short: "Print the voter identifier derived from a face photo",
	Long: `Extract the face descriptor from a photo and print the identifier the
contract stores for it. Nothing is sent to the ledger.

When DATABASE_URL is set, the nearest recorded voters are listed as well.

Examples:
  face-ballot face-hash --image selfie.jpg
  face-ballot face-hash --image selfie.jpg --nearest 5 --max-distance 0.8
  face-ballot face-hash --image selfie.jpg --json`,
	Args: cobra.NoArgs,
	RunE: runFaceHash,
}

func init() {
	rootCmd.AddCommand(faceHashCmd)

	faceHashCmd.Flags().String("image", "", "Path to a photo containing one face")
	faceHashCmd.Flags().Int("nearest", 3, "Number of recorded voters to compare against (0 to skip)")
	faceHashCmd.Flags().Float64("max-distance", 0, "Only list recorded voters within this distance (default: FACE_MATCH_THRESHOLD)")
	faceHashCmd.Flags().Bool("json", false, "Output as JSON")
	faceHashCmd.MarkFlagRequired("image")
}

// NearbyVoter is a recorded vote close to the inspected face.
type NearbyVoter struct {
	FaceHash   string  `json:"faceHash"`
	ProposalID uint64  `json:"proposalId"`
	TxHash     string  `json:"txHash"`
	Distance   float64 `json:"distance"`
}

// FaceHashOutput is the JSON output of face-hash.
type FaceHashOutput struct {
	FaceIdentifier string        `json:"faceIdentifier"`
	Dimensions     int           `json:"dimensions"`
	Nearby         []NearbyVoter `json:"nearby,omitempty"`
}

func runFaceHash(cmd *cobra.Command, args []string) error {
	image, err := os.ReadFile(mustGetString(cmd, "image"))
	if err != nil {
		return fmt.Errorf("reading image: %w", err)
	}

	ctx := context.Background()
	cfg := config.Load()
	embedder, err := newEmbedder(cfg)
	if err != nil {
		return err
	}
	// No ledger: Describe only extracts.
	o := voting.New(embedder, nil, nil, voting.Options{MatchThreshold: cfg.Face.MatchThreshold})
	defer o.Close()

	if err := o.Init(ctx); err != nil {
		return err
	}
	d, id, err := o.Describe(ctx, image)
	if err != nil {
		return err
	}

	out := FaceHashOutput{FaceIdentifier: string(id), Dimensions: len(d)}

	if n := mustGetInt(cmd, "nearest"); n > 0 && cfg.Database.URL != "" {
		pool, err := connectReceiptStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer pool.Close()

		receipts, err := database.GetReceiptReader(ctx)
		if err != nil {
			return err
		}
		maxDistance := mustGetFloat64(cmd, "max-distance")
		if maxDistance <= 0 {
			maxDistance = cfg.Face.MatchThreshold
		}
		matches, distances, err := receipts.FindNearest(ctx, d, n, maxDistance)
		if err != nil {
			return fmt.Errorf("searching receipts: %w", err)
		}
		for i, m := range matches {
			out.Nearby = append(out.Nearby, NearbyVoter{
				FaceHash:   m.FaceHash,
				ProposalID: m.ProposalID,
				TxHash:     m.TxHash,
				Distance:   distances[i],
			})
		}
	}

	if mustGetBool(cmd, "json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	fmt.Printf("Face identifier: %s\n", out.FaceIdentifier)
	fmt.Printf("Descriptor:      %d dimensions\n", out.Dimensions)
	if len(out.Nearby) > 0 {
		fmt.Println("\nNearest recorded voters:")
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "FACE\tPROPOSAL\tDISTANCE\tTX")
		for _, v := range out.Nearby {
			fmt.Fprintf(w, "%s\t%d\t%.4f\t%s\n", v.FaceHash[:10], v.ProposalID, v.Distance, v.TxHash)
		}
		w.Flush()
	}
	return nil
}
