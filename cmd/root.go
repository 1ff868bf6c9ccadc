package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tuna/fishroom/internal/config"
)

// Version is set at build time via -ldflags "-X github.com/tuna/fishroom/cmd.Version=v1.0.0"
var Version = "dev"

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "fishroom",
	Short: "Fishroom — message bridge for IM protocols",
	Long:  "Fishroom bridges chat rooms across IRC, XMPP, Telegram, Matrix, Gitter, WeChat and Discord, with a web interface and an HTTP message API on top of a Redis bus.",
	Run: func(cmd *cobra.Command, args []string) {
		runServe()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.fishroom/config.json5 or $FISHROOM_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(apiclientCmd())
	rootCmd.AddCommand(dumpCmd())
	rootCmd.AddCommand(loadCmd())
	rootCmd.AddCommand(archiveCmd())
	rootCmd.AddCommand(tailCmd())
	rootCmd.AddCommand(doctorCmd())
	rootCmd.AddCommand(versionCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("fishroom %s\n", Version)
		},
	}
}

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if v := os.Getenv("FISHROOM_CONFIG"); v != "" {
		return v
	}
	return config.DefaultPath
}

// Execute runs the root cobra command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
