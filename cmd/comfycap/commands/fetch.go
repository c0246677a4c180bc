package commands

import (
	"fmt"
	"os"

	"github.com/comfycap/comfycap/internal/imaging"
	"github.com/spf13/cobra"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download one capture from the running daemon",
	Long:  `GET the capture URL of the running daemon and save the PNG.`,
	Example: `  comfycap fetch --out shot.png`,
	Args:    cobra.NoArgs,
	RunE:    runFetch,
}

func init() {
	rootCmd.AddCommand(fetchCmd)
	fetchCmd.Flags().StringP("out", "o", "capture.png", "write the PNG to this file")
}

func runFetch(cmd *cobra.Command, args []string) error {
	out, _ := cmd.Flags().GetString("out")

	client := newClient(appCfg.APIPort)
	status, err := fetchStatus(cmd.Context(), client)
	if err != nil {
		return err
	}
	if !status.Running {
		return errNotRunning
	}

	resp, err := client.R().
		SetContext(cmd.Context()).
		Get(status.URL)
	if err != nil {
		return fmt.Errorf("GET %s: %w", status.URL, err)
	}
	if !resp.IsSuccessState() {
		return fmt.Errorf("GET %s: %s", status.URL, resp.Status)
	}
	if ct := resp.GetContentType(); ct != imaging.ContentTypePNG {
		return fmt.Errorf("GET %s: unexpected content type %q", status.URL, ct)
	}

	data, err := resp.ToBytes()
	if err != nil {
		return err
	}
	if err := os.WriteFile(out, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", out, err)
	}
	fmt.Printf("Saved %d bytes to %s\n", len(data), out)
	return nil
}
