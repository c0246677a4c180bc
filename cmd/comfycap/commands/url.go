package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.design/x/clipboard"
)

var errNotRunning = errors.New("capture server is not running")

var urlCmd = &cobra.Command{
	Use:   "url",
	Short: "Print the capture URL of the running daemon",
	Long: `Ask the running daemon for the capture server URL. Fails when the capture
server is stopped.`,
	Example: `  # Print the URL
  comfycap url

  # Copy it to the clipboard as well
  comfycap url --copy`,
	Args: cobra.NoArgs,
	RunE: runURL,
}

func init() {
	rootCmd.AddCommand(urlCmd)
	urlCmd.Flags().Bool("copy", false, "copy the URL to the clipboard")
}

func runURL(cmd *cobra.Command, args []string) error {
	status, err := fetchStatus(cmd.Context(), newClient(appCfg.APIPort))
	if err != nil {
		return err
	}
	if !status.Running {
		return errNotRunning
	}

	fmt.Println(status.URL)

	if copyURL, _ := cmd.Flags().GetBool("copy"); copyURL {
		if err := clipboard.Init(); err != nil {
			return fmt.Errorf("clipboard unavailable: %w", err)
		}
		clipboard.Write(clipboard.FmtText, []byte(status.URL))
		fmt.Fprintln(os.Stderr, "Copied to clipboard")
	}
	return nil
}
