package cmd

import (
	"log"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/PrincetonUniversity/introgression/config"
	"github.com/PrincetonUniversity/introgression/internal/introgress"
)

var includeAllSites bool

// predictCmd represents the predict command
var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Predict introgressed blocks for every strain and chromosome",
	Long: `Predict introgressed blocks for every strain and chromosome.

For each (strain, chromosome) alignment, "introgress predict" codes the
predicted strain against the reference sequences, trains a hidden Markov
model initialized from the configured priors with Baum-Welch, and decodes
the trained model into contiguous blocks per ancestry state. It writes:

1. The HMM parameters before and after training, one row per unit
2. One blocks file per state with the predicted segments
3. Per-site posterior probabilities for every state (gzip)
4. Optionally, the genomic positions the model considered (gzip)`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.New()
		if err != nil {
			log.Fatalf("%v", err)
		}

		predictor, err := introgress.NewPredictor(cfg)
		if err != nil {
			log.Fatalf("%v", err)
		}
		predictor.OnlyPolySites = !includeAllSites

		if err := predictor.Run(); err != nil {
			log.Fatalf("%v", err)
		}
	},
}

func init() {
	RootCmd.AddCommand(predictCmd)

	predictCmd.Flags().StringP("threshold", "t", "", "posterior probability cutoff, or 'viterbi' for path decoding")
	predictCmd.Flags().String("blocks", "", "path template for per-state block files, requires {state}")
	predictCmd.Flags().String("hmm-initial", "", "path for the pre-training HMM parameter file")
	predictCmd.Flags().String("hmm-trained", "", "path for the post-training HMM parameter file")
	predictCmd.Flags().String("positions", "", "path for the gzip positions file (optional)")
	predictCmd.Flags().String("probabilities", "", "path for the gzip posterior probabilities file")
	predictCmd.Flags().String("alignment", "", "path template for alignment inputs, requires {prefix}, {strain} and {chrom}")
	predictCmd.Flags().IntP("parallel", "p", 0, "number of (strain, chromosome) units computed concurrently")
	predictCmd.Flags().BoolVar(&includeAllSites, "all-sites", false, "keep non-polymorphic sites instead of filtering them out")

	viper.BindPFlag("analysis_params.threshold", predictCmd.Flags().Lookup("threshold"))
	viper.BindPFlag("paths.analysis.block_files", predictCmd.Flags().Lookup("blocks"))
	viper.BindPFlag("paths.analysis.hmm_initial", predictCmd.Flags().Lookup("hmm-initial"))
	viper.BindPFlag("paths.analysis.hmm_trained", predictCmd.Flags().Lookup("hmm-trained"))
	viper.BindPFlag("paths.analysis.positions", predictCmd.Flags().Lookup("positions"))
	viper.BindPFlag("paths.analysis.probabilities", predictCmd.Flags().Lookup("probabilities"))
	viper.BindPFlag("paths.analysis.alignment", predictCmd.Flags().Lookup("alignment"))
	viper.BindPFlag("max_parallel", predictCmd.Flags().Lookup("parallel"))
}
