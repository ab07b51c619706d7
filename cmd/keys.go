package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.olrik.dev/mediakey/internal/keys"
)

func NewKeysCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "keys",
		Short: "List the key commands the relay accepts",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			printKeys(os.Stdout)
		},
	}
}

func printKeys(w io.Writer) {
	fmt.Fprintf(w, "%5s  %s\n", "CODE", "NAME")
	for _, c := range keys.All() {
		fmt.Fprintf(w, "%5d  %s\n", int(c), c)
	}
}
