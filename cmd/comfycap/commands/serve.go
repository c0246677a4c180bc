package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/comfycap/comfycap/internal/api"
	"github.com/comfycap/comfycap/internal/capture"
	"github.com/comfycap/comfycap/internal/config"
	"github.com/comfycap/comfycap/internal/logger"
	"github.com/comfycap/comfycap/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the control API and, optionally, the capture server",
	Long: `Run the ComfyCap daemon.

The control API listens on 127.0.0.1:<api_port>. The capture server is
started immediately when auto_start is set, otherwise on POST
/api/server/start.`,
	Example: `  # Serve the window titled "ComfyUI", starting capture right away
  comfycap serve --title ComfyUI --auto-start

  # Capture a specific window handle at 150% on port 9731
  comfycap serve --hwnd 0x000A0B2C --capture-port 9731 --scale 1.5 --auto-start

  # Start with debug logging
  comfycap serve --log-level debug`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	addWindowFlags(serveCmd)
	serveCmd.Flags().Int("capture-port", 0, "capture server port (default is 12666, 0 in config picks a free port)")
	serveCmd.Flags().Float64("scale", 0, "display scale factor applied to the client area (default is 1.0)")
	serveCmd.Flags().Bool("auto-start", false, "start the capture server immediately")

	viper.BindPFlag("capture_port", serveCmd.Flags().Lookup("capture-port"))
	viper.BindPFlag("scale_factor", serveCmd.Flags().Lookup("scale"))
	viper.BindPFlag("auto_start", serveCmd.Flags().Lookup("auto-start"))
}

func runServe(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("serve")
	cfg := appCfg

	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to initialize config manager: %w", err)
	}

	locator, err := resolveLocator(cmd, cfg)
	if err != nil {
		return err
	}

	wc, err := capture.NewWindowCapturer()
	if err != nil {
		return fmt.Errorf("failed to initialize capturer: %w", err)
	}
	capturer := capture.Serialize(wc)

	capSrv := server.New(server.NewState(), capturer, server.NewBus())
	apiSrv := api.NewServer(capSrv, capturer, locator, configMgr).
		WithDefaults(func() *config.Config {
			c := *cfg
			return &c
		})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return apiSrv.Run(ctx, cfg.APIPort)
	})

	if cfg.AutoStart {
		if err := capSrv.Start(cfg.CapturePort, locator, cfg.ScaleFactor); err != nil {
			stop()
			g.Wait()
			return fmt.Errorf("failed to start capture server: %w", err)
		}
	}

	log.Info().
		Int("api_port", cfg.APIPort).
		Str("window", locator.String()).
		Bool("capturing", capSrv.IsRunning()).
		Msg("ComfyCap is running, press Ctrl+C to stop")
	if url := capSrv.URL(); url != "" {
		fmt.Println(url)
	}

	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("Shutting down gracefully...")
		capSrv.Stop()
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
