package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"southwinds.dev/citadel"
	"southwinds.dev/citadel/internal/memcell"
)

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Manage the shared key-value store",
	Long: `The store holds non-versioned entries encrypted like records but without
revoke semantics. Writes replace, deletes remove.`,
}

var storePutCmd = &cobra.Command{
	Use:   "put <key>",
	Short: "Store a value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		value, err := readSecretInput(cmd)
		if err != nil {
			return err
		}
		resp := manager.Handle(citadel.WriteStoreRequest{Key: args[0], Data: value})
		if resp.Err != nil {
			return resp.Err
		}
		fmt.Printf("stored %s\n", args[0])
		return nil
	},
}

var storeGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Read a value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp := manager.Handle(citadel.ReadStoreRequest{Key: args[0]})
		if resp.Err != nil {
			return resp.Err
		}
		defer memcell.Wipe(resp.Data)
		_, err := os.Stdout.Write(resp.Data)
		return err
	},
}

var storeDelCmd = &cobra.Command{
	Use:   "del <key>",
	Short: "Delete an entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp := manager.Handle(citadel.DeleteStoreRequest{Key: args[0]})
		if resp.Err != nil {
			return resp.Err
		}
		fmt.Printf("deleted %s\n", args[0])
		return nil
	},
}

var storeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List store keys",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, key := range manager.Store().Keys() {
			fmt.Println(key)
		}
		return nil
	},
}

func init() {
	storePutCmd.Flags().String("value", "", "value (prefer --file or stdin)")
	storePutCmd.Flags().String("file", "", "read the value from a file")

	storeCmd.AddCommand(storePutCmd, storeGetCmd, storeDelCmd, storeListCmd)
	rootCmd.AddCommand(storeCmd)
}
