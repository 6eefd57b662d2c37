package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/uhyunpark/custodex/pkg/crypto"
)

var keygenJSON bool

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a secp256k1 key for signing requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := crypto.GenerateKey()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if keygenJSON {
			return json.NewEncoder(out).Encode(map[string]string{
				"address":    s.Address().Hex(),
				"privateKey": s.PrivateKeyHex(),
				"publicKey":  s.PublicKeyHex(),
			})
		}
		fmt.Fprintf(out, "Address:     %s\n", s.Address().Hex())
		fmt.Fprintf(out, "Private Key: %s (KEEP SECRET!)\n", s.PrivateKeyHex())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(keygenCmd)
	keygenCmd.Flags().BoolVar(&keygenJSON, "json", false, "print as JSON")
}
