package cmd

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/PrincetonUniversity/introgression/internal/introgress"
)

// idCmd represents the id command
var idCmd = &cobra.Command{
	Use:   "id [fasta]",
	Short: "Report sequence identity of each sequence in a FASTA file against the first",
	Long: `Report sequence identity of each sequence in a FASTA file against the first.

Only unambiguous nucleotides (ACGT, either case) in both sequences count as
comparable sites. Useful for sanity-checking an alignment before running
predict on it`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		headers, seqs, err := introgress.ReadFASTA(args[0])
		if err != nil {
			log.Fatalf("%v", err)
		}
		if len(seqs) < 2 {
			log.Fatalf("%s: need at least two sequences to compare", args[0])
		}

		for i := 1; i < len(seqs); i++ {
			matches, sites := introgress.SeqID(seqs[0], seqs[i])
			identity := 0.0
			if sites > 0 {
				identity = float64(matches) / float64(sites)
			}
			fmt.Printf("%s\t%s\t%d\t%d\t%.5f\n",
				headers[0], headers[i], matches, sites, identity)
		}
	},
}

func init() {
	RootCmd.AddCommand(idCmd)
}
