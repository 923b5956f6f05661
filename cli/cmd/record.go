package cmd

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"southwinds.dev/citadel"
	"southwinds.dev/citadel/internal/crypto"
	"southwinds.dev/citadel/internal/memcell"
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Manage vault records",
}

var recordPutCmd = &cobra.Command{
	Use:   "put <vault> <path>",
	Short: "Store a secret as a record",
	Long: `Store a secret under the record id derived from <path>. The value is read
from --value, --file, or stdin. Writing to an existing record supersedes it
unless the unique-id policy is enabled.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		value, err := readSecretInput(cmd)
		if err != nil {
			return err
		}
		resp := manager.Handle(citadel.WriteRecordRequest{
			Vault: args[0],
			ID:    citadel.DeriveRecordID([]byte(args[1])),
			Data:  value,
		})
		if resp.Err != nil {
			return resp.Err
		}
		fmt.Printf("stored record %s at revision %d\n", args[1], resp.Revision)
		return nil
	},
}

var recordGetCmd = &cobra.Command{
	Use:   "get <vault> <path>",
	Short: "Read a record's secret",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp := manager.Handle(citadel.ReadRecordRequest{
			Vault: args[0],
			ID:    citadel.DeriveRecordID([]byte(args[1])),
		})
		if resp.Err != nil {
			return resp.Err
		}
		defer memcell.Wipe(resp.Data)

		outPath, _ := cmd.Flags().GetString("out")
		if outPath != "" {
			return os.WriteFile(outPath, resp.Data, 0600)
		}
		_, err := os.Stdout.Write(resp.Data)
		return err
	},
}

var recordRevokeCmd = &cobra.Command{
	Use:   "revoke <vault> <path>",
	Short: "Destroy a record's key material",
	Long: `Destroy the key material of every revision of the record, making it
permanently unreadable. The ciphertext remains until garbage collection.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp := manager.Handle(citadel.RevokeRecordRequest{
			Vault: args[0],
			ID:    citadel.DeriveRecordID([]byte(args[1])),
		})
		if resp.Err != nil {
			return resp.Err
		}
		fmt.Printf("revoked record %s\n", args[1])
		return nil
	},
}

var recordListCmd = &cobra.Command{
	Use:   "list <vault>",
	Short: "List records in a vault",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp := manager.Handle(citadel.ListRecordsRequest{Vault: args[0]})
		if resp.Err != nil {
			return resp.Err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		defer w.Flush()
		fmt.Fprintln(w, "ID\tSTATE\tREVISION\tSIZE")
		for _, info := range resp.Records {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\n", info.ID, info.State, info.Revision, info.Size)
		}
		return nil
	},
}

var recordCheckCmd = &cobra.Command{
	Use:   "check <vault> <path>",
	Short: "Check whether a record exists",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp := manager.Handle(citadel.CheckRecordRequest{
			Vault: args[0],
			ID:    citadel.DeriveRecordID([]byte(args[1])),
		})
		if resp.Err != nil {
			return resp.Err
		}
		if resp.Exists {
			fmt.Println("exists")
			return nil
		}
		fmt.Println("not found")
		return nil
	},
}

var recordExportCmd = &cobra.Command{
	Use:   "export <vault> <path>",
	Short: "Export a record encrypted under a passphrase",
	Long: `Read a record and write it to --out as a standalone passphrase-encrypted
file, suitable for transferring a single secret without a snapshot.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		outPath, _ := cmd.Flags().GetString("out")
		if outPath == "" {
			return fmt.Errorf("--out is required")
		}
		pass, err := resolvePassphrase()
		if err != nil {
			return err
		}
		defer memcell.Wipe(pass)

		resp := manager.Handle(citadel.ReadRecordRequest{
			Vault: args[0],
			ID:    citadel.DeriveRecordID([]byte(args[1])),
		})
		if resp.Err != nil {
			return resp.Err
		}
		defer memcell.Wipe(resp.Data)

		sealed, err := crypto.EncryptWithPassphrase(resp.Data, string(pass))
		if err != nil {
			return err
		}
		if err = os.WriteFile(outPath, sealed, 0600); err != nil {
			return fmt.Errorf("failed to write export: %w", err)
		}
		fmt.Printf("exported record %s to %s\n", args[1], outPath)
		return nil
	},
}

var recordImportCmd = &cobra.Command{
	Use:   "import <vault> <path> <file>",
	Short: "Import a passphrase-encrypted record export",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		pass, err := resolvePassphrase()
		if err != nil {
			return err
		}
		defer memcell.Wipe(pass)

		sealed, err := os.ReadFile(args[2])
		if err != nil {
			return fmt.Errorf("failed to read export: %w", err)
		}
		value, err := crypto.DecryptWithPassphrase(sealed, string(pass))
		if err != nil {
			return err
		}
		resp := manager.Handle(citadel.WriteRecordRequest{
			Vault: args[0],
			ID:    citadel.DeriveRecordID([]byte(args[1])),
			Data:  value,
		})
		if resp.Err != nil {
			return resp.Err
		}
		fmt.Printf("imported record %s at revision %d\n", args[1], resp.Revision)
		return nil
	},
}

var gcCmd = &cobra.Command{
	Use:   "gc <vault>",
	Short: "Garbage collect revoked records",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp := manager.Handle(citadel.GarbageCollectRequest{Vault: args[0]})
		if resp.Err != nil {
			return resp.Err
		}
		fmt.Printf("removed %d revoked revisions\n", resp.Removed)
		return nil
	},
}

func init() {
	recordPutCmd.Flags().String("value", "", "secret value (prefer --file or stdin)")
	recordPutCmd.Flags().String("file", "", "read the secret from a file")
	recordGetCmd.Flags().String("out", "", "write the secret to a file instead of stdout")
	recordExportCmd.Flags().String("out", "", "output file for the encrypted export")

	recordCmd.AddCommand(recordPutCmd, recordGetCmd, recordRevokeCmd,
		recordListCmd, recordCheckCmd, recordExportCmd, recordImportCmd)
	rootCmd.AddCommand(recordCmd, gcCmd)
}

// readSecretInput reads the secret value for a put from the flag, a file, or
// stdin.
func readSecretInput(cmd *cobra.Command) ([]byte, error) {
	if v, _ := cmd.Flags().GetString("value"); v != "" {
		return []byte(v), nil
	}
	if f, _ := cmd.Flags().GetString("file"); f != "" {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read secret file: %w", err)
		}
		return data, nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return nil, fmt.Errorf("failed to read secret from stdin: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("no secret provided (use --value, --file, or stdin)")
	}
	return data, nil
}
