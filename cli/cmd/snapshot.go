package cmd

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"southwinds.dev/citadel"
	"southwinds.dev/citadel/internal/memcell"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Save, load and manage encrypted snapshots",
}

var snapshotSaveCmd = &cobra.Command{
	Use:   "save [name]",
	Short: "Save the full state as an encrypted snapshot",
	Long: `Save the full state as an encrypted snapshot. Without a name a unique one
is generated from the current time plus a random suffix.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var name string
		if len(args) == 1 {
			name = args[0]
		} else {
			var err error
			if name, err = defaultSnapshotName(); err != nil {
				return err
			}
		}

		pass, err := resolvePassphrase()
		if err != nil {
			return err
		}
		defer memcell.Wipe(pass)

		resp := manager.Handle(citadel.SaveSnapshotRequest{Name: name, Passphrase: pass})
		if resp.Err != nil {
			return resp.Err
		}
		fmt.Printf("saved snapshot %s\n", name)
		return nil
	},
}

// defaultSnapshotName builds a unique snapshot name from the current UTC time
// and a random suffix, so repeated unnamed saves never overwrite each other.
func defaultSnapshotName() (string, error) {
	var suffix [4]byte
	if _, err := rand.Read(suffix[:]); err != nil {
		return "", fmt.Errorf("failed to generate snapshot name: %w", err)
	}
	return fmt.Sprintf("snapshot-%s-%s",
		time.Now().UTC().Format("20060102-150405"),
		hex.EncodeToString(suffix[:])), nil
}

var snapshotLoadCmd = &cobra.Command{
	Use:   "load <name>",
	Short: "Replace the full state from a snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pass, err := resolvePassphrase()
		if err != nil {
			return err
		}
		defer memcell.Wipe(pass)

		resp := manager.Handle(citadel.LoadSnapshotRequest{Name: args[0], Passphrase: pass})
		if resp.Err != nil {
			return resp.Err
		}
		fmt.Printf("loaded snapshot %s\n", args[0])
		return nil
	},
}

var snapshotListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored snapshots",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		infos, err := manager.ListSnapshots()
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		defer w.Flush()
		fmt.Fprintln(w, "NAME\tSIZE\tMODIFIED\tCHECKSUM")
		for _, info := range infos {
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\n",
				info.Name, info.Size, info.ModifiedAt.Format(time.RFC3339), info.Checksum)
		}
		return nil
	},
}

var snapshotDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a stored snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := manager.DeleteSnapshot(args[0]); err != nil {
			return err
		}
		fmt.Printf("deleted snapshot %s\n", args[0])
		return nil
	},
}

func init() {
	snapshotCmd.AddCommand(snapshotSaveCmd, snapshotLoadCmd, snapshotListCmd, snapshotDeleteCmd)
	rootCmd.AddCommand(snapshotCmd)
}
