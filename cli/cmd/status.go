package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"southwinds.dev/citadel"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show engine status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		defer w.Flush()

		fmt.Fprintf(w, "session\t%s\n", cliContext.SessionID)
		fmt.Fprintf(w, "user\t%s\n", cliContext.UserID)
		fmt.Fprintf(w, "host\t%s\n", cliContext.Hostname)
		fmt.Fprintf(w, "backend\t%s\n", viper.GetString("store.type"))
		fmt.Fprintf(w, "memory protection\t%s\n", manager.ProtectionLevel())
		fmt.Fprintf(w, "store entries\t%d\n", manager.Store().Len())

		paths := manager.VaultPaths()
		fmt.Fprintf(w, "vaults\t%d\n", len(paths))
		for _, path := range paths {
			resp := manager.Handle(citadel.ListRecordsRequest{Vault: path})
			if resp.Err != nil {
				return resp.Err
			}
			fmt.Fprintf(w, "  %s\t%d records\n", path, len(resp.Records))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
