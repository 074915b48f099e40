// Command pepcore is the operator tool for the cryptographic core: key generation,
// pseudonym derivation, and check-digit handling for short pseudonyms.
package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/pep-security/pepcore/curve"
	"github.com/pep-security/pepcore/mod97"
	"github.com/pep-security/pepcore/rsk"
	"github.com/pep-security/pepcore/rskpep"
)

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	root := &cobra.Command{
		Use:           "pepcore",
		Short:         "PEP cryptographic core tooling",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(keygenCmd(), pseudonymCmd(), checkDigitsCmd(), masterKeyCmd())

	if err := root.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

// keygenCmd generates the hex-encoded secrets a translating server's configuration
// needs: factor secrets, a master key share, and optionally a blinding secret.
func keygenCmd() *cobra.Command {
	var withBlinding bool
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate translation secrets for one server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			secret := func() (string, error) {
				var b [rsk.KeyFactorSecretBytes]byte
				if _, err := rand.Read(b[:]); err != nil {
					return "", err
				}
				return hex.EncodeToString(b[:]), nil
			}
			share := func() (string, error) {
				s, err := curve.RandomScalar(rand.Reader)
				if err != nil {
					return "", err
				}
				return s.Text(), nil
			}

			out := cmd.OutOrStdout()
			for _, entry := range []struct {
				key string
				gen func() (string, error)
			}{
				{"PseudonymsRekeyLocal", secret},
				{"PseudonymsReshuffleLocal", secret},
				{"MasterPrivateKeySharePseudonyms", share},
				{"DataRekeyLocal", secret},
				{"MasterPrivateKeyShareData", share},
			} {
				value, err := entry.gen()
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s: %s\n", entry.key, value)
			}
			if withBlinding {
				value, err := secret()
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "DataBlinding: %s\n", value)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&withBlinding, "blinding", false, "also generate a data blinding secret (access manager only)")
	return cmd
}

// pseudonymCmd derives a polymorphic pseudonym for a subject identifier.
func pseudonymCmd() *cobra.Command {
	var masterHex string
	cmd := &cobra.Command{
		Use:   "pseudonym <identifier>",
		Short: "Derive a polymorphic pseudonym for a subject identifier",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			masterPK, err := curve.PointFromText(masterHex)
			if err != nil {
				return fmt.Errorf("parsing master public key: %w", err)
			}
			if masterPK.IsIdentity() {
				return curve.ErrIdentityPoint
			}
			pp, err := rskpep.NewPolymorphicPseudonym(masterPK, args[0], rand.Reader)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), pp.Text())
			return nil
		},
	}
	cmd.Flags().StringVar(&masterHex, "master-public-key", "", "hex-encoded master public key")
	markRequired(cmd.Flags(), "master-public-key")
	return cmd
}

// checkDigitsCmd computes or verifies Mod97 check digits for short pseudonyms.
func checkDigitsCmd() *cobra.Command {
	var verify bool
	cmd := &cobra.Command{
		Use:   "checkdigits <short-pseudonym>",
		Short: "Compute or verify Mod97 check digits",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if verify {
				if !mod97.Verify(args[0]) {
					return fmt.Errorf("check digits of %q do not verify", args[0])
				}
				fmt.Fprintln(cmd.OutOrStdout(), "ok")
				return nil
			}
			digits, err := mod97.ComputeCheckDigits(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s-%s\n", args[0], digits)
			return nil
		},
	}
	cmd.Flags().BoolVar(&verify, "verify", false, "verify trailing check digits instead of computing them")
	return cmd
}

// masterKeyCmd multiplies the servers' master key shares into the master private key
// and prints only the corresponding master public key. Run only inside the key
// ceremony.
func masterKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "masterkey <share-hex>...",
		Short: "Combine master key shares into the master public key",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			master := curve.OneScalar()
			for _, arg := range args {
				share, err := curve.ScalarFromText(arg)
				if err != nil {
					return fmt.Errorf("parsing share: %w", err)
				}
				master = master.Mul(share)
			}
			fmt.Fprintln(cmd.OutOrStdout(), curve.BaseMult(master).Text())
			return nil
		},
	}
}

func markRequired(flags *pflag.FlagSet, name string) {
	if err := cobra.MarkFlagRequired(flags, name); err != nil {
		panic(err)
	}
}
