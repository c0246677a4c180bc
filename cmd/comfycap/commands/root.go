package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/comfycap/comfycap/internal/config"
	"github.com/comfycap/comfycap/internal/logger"
	"github.com/comfycap/comfycap/internal/window"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string

	// appCfg is the effective configuration, set before any command runs.
	appCfg *config.Config

	rootCmd = &cobra.Command{
		Use:   "comfycap",
		Short: "ComfyCap - serve a window's client area as PNG over loopback HTTP",
		Long: `ComfyCap captures the client area of one window, hiding the window's own
surface while it grabs the pixels underneath, and serves the result as a PNG
at http://127.0.0.1:<port>/capture_screen.

A control API on a second loopback port starts and stops the capture
listener, reports its URL and streams lifecycle events.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			appCfg = cfg
			logger.Init(cfg.LogLevel, cfg.LogPretty)
			return nil
		},
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/comfycap/config.yaml)")
	rootCmd.PersistentFlags().Int("api-port", 0, "control API port (default is 12665)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")

	// Bind flags to viper
	viper.BindPFlag("api_port", rootCmd.PersistentFlags().Lookup("api-port"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func initConfig() {
	viper.SetEnvPrefix("comfycap")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}

// loadConfig reads the config file and applies flag and environment
// overrides on top of it. Overrides are not persisted.
func loadConfig() (*config.Config, error) {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg := configMgr.Get()

	if port := viper.GetInt("api_port"); port > 0 {
		cfg.APIPort = port
	}
	if viper.IsSet("capture_port") {
		cfg.CapturePort = viper.GetInt("capture_port")
	}
	if scale := viper.GetFloat64("scale_factor"); scale != 0 {
		cfg.ScaleFactor = scale
	}
	if viper.IsSet("auto_start") {
		cfg.AutoStart = viper.GetBool("auto_start")
	}
	if title := viper.GetString("window_title"); title != "" {
		cfg.WindowTitle = title
	}
	if level := viper.GetString("log_level"); level != "" {
		cfg.LogLevel = level
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// addWindowFlags registers --hwnd and --title on cmd.
func addWindowFlags(cmd *cobra.Command) {
	cmd.Flags().String("hwnd", "", "window handle to capture (decimal or 0x hex)")
	cmd.Flags().String("title", "", "exact title of the window to capture (default from config)")
}

// resolveLocator builds the window locator from --hwnd, --title and the
// configured window_title, in that order of precedence.
func resolveLocator(cmd *cobra.Command, cfg *config.Config) (window.Locator, error) {
	handle, _ := cmd.Flags().GetString("hwnd")
	title, _ := cmd.Flags().GetString("title")
	if title == "" {
		title = cfg.WindowTitle
	}
	return window.New(handle, title)
}
