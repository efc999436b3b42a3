package commitments

import (
	"github.com/spf13/cobra"
)

// BuildCommitmentsCmd builds the commitments CLI.
func BuildCommitmentsCmd() *cobra.Command {
	cmd := cobra.Command{
		Use:   "commitments",
		Short: "Validate solver commitments against onchain evidence",
		Long:  ``,
	}

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newHashCmd())
	cmd.AddCommand(newSignCmd())

	return &cmd
}
