package commitments

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newHashCmd() *cobra.Command {
	var commitmentPath string

	cmd := &cobra.Command{
		Use:   "hash",
		Short: "Print the canonical hash and identifier of a commitment",
		RunE: func(cmd *cobra.Command, args []string) error {
			commitment, err := loadCommitment(commitmentPath)
			if err != nil {
				return err
			}

			hash, err := commitment.HashStruct()
			if err != nil {
				return err
			}
			id, err := commitment.CommitmentID()
			if err != nil {
				return err
			}

			fmt.Println("hash:", hash.Hex())
			fmt.Println("id:  ", id.Hex())

			return nil
		},
	}

	cmd.Flags().StringVar(&commitmentPath, "commitment", "", "Path to the commitment JSON file")
	cmd.MarkFlagRequired("commitment") //nolint:errcheck

	return cmd
}
