package commitments

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/relayprotocol/commitments"
)

func newSignCmd() *cobra.Command {
	var commitmentPath string

	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Sign a commitment with a raw private key",
		Long:  `Configure a private key in a .env file (using the PRIVATE_KEY var) and sign a commitment with it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			commitment, err := loadCommitment(commitmentPath)
			if err != nil {
				return err
			}

			pk, err := loadPrivateKey()
			if err != nil {
				return err
			}

			signer := commitments.NewPrivateKeySigner(pk)
			signature, err := commitments.SignCommitment(commitment, signer)
			if err != nil {
				return err
			}

			fmt.Println(signature.ToHex())

			return nil
		},
	}

	cmd.Flags().StringVar(&commitmentPath, "commitment", "", "Path to the commitment JSON file")
	cmd.MarkFlagRequired("commitment") //nolint:errcheck

	return cmd
}
