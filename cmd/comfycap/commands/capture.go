package commands

import (
	"fmt"
	"os"
	"runtime"

	"github.com/comfycap/comfycap/internal/capture"
	"github.com/comfycap/comfycap/internal/imaging"
	"github.com/comfycap/comfycap/internal/logger"
	"github.com/spf13/cobra"
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Capture the window once",
	Long: `Capture the client area of the target window once, in this process, and
write it as PNG. No server is involved.`,
	Example: `  # Save a capture of the configured window
  comfycap capture --out shot.png

  # Print a base64 PNG of a specific window to stdout
  comfycap capture --hwnd 0x000A0B2C --base64`,
	Args: cobra.NoArgs,
	RunE: runCapture,
}

func init() {
	rootCmd.AddCommand(captureCmd)

	addWindowFlags(captureCmd)
	captureCmd.Flags().StringP("out", "o", "", "write the PNG to this file")
	captureCmd.Flags().Bool("base64", false, "print the PNG as base64 to stdout")
	captureCmd.Flags().Float64("scale", 0, "display scale factor (default from config)")
	captureCmd.Flags().Int("max-width", 0, "downscale to at most this width (0 keeps full size)")
}

func runCapture(cmd *cobra.Command, args []string) error {
	out, _ := cmd.Flags().GetString("out")
	asBase64, _ := cmd.Flags().GetBool("base64")
	scale, _ := cmd.Flags().GetFloat64("scale")
	maxWidth, _ := cmd.Flags().GetInt("max-width")
	if out == "" && !asBase64 {
		return fmt.Errorf("nothing to do: pass --out and/or --base64")
	}
	if scale == 0 {
		scale = appCfg.ScaleFactor
	}

	locator, err := resolveLocator(cmd, appCfg)
	if err != nil {
		return err
	}

	wc, err := capture.NewWindowCapturer()
	if err != nil {
		return err
	}

	runtime.LockOSThread()
	hwnd, err := locator.Resolve()
	var res *capture.Result
	if err == nil {
		res, err = wc.Capture(hwnd, scale)
	}
	runtime.UnlockOSThread()
	if err != nil {
		return fmt.Errorf("capture %s: %w", locator, err)
	}

	img := imaging.Preview(res.Image, maxWidth)
	logger.WithComponent("capture").Debug().
		Int("width", img.Bounds().Dx()).
		Int("height", img.Bounds().Dy()).
		Msg("Captured window")

	if out != "" {
		data, err := imaging.EncodePNG(img)
		if err != nil {
			return err
		}
		if err := os.WriteFile(out, data, 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", out, err)
		}
		fmt.Fprintf(os.Stderr, "Wrote %dx%d capture to %s\n", img.Bounds().Dx(), img.Bounds().Dy(), out)
	}
	if asBase64 {
		encoded, err := imaging.EncodeBase64PNG(img)
		if err != nil {
			return err
		}
		fmt.Println(encoded)
	}
	return nil
}
