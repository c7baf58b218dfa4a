package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// Version info (set by build)
	Version   = "dev"
	GitCommit = "unknown"

	cfgFile    string
	baseURL    string
	outputJSON bool
	assumeYes  bool
)

var rootCmd = &cobra.Command{
	Use:   "rasadm",
	Short: "Command-line client for the rasweb SCSI emulator front end",
	Long: `rasadm drives a rasweb server over its HTTP API.

It lists and attaches emulated SCSI devices, manages the image directory
and controls the emulator service and the Raspberry Pi itself. Destructive
operations ask for confirmation unless --yes is given.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/rasweb/cli.yaml)")
	rootCmd.PersistentFlags().StringVar(&baseURL, "url", "", "rasweb URL")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&assumeYes, "yes", "y", false, "confirm destructive operations without asking")

	_ = viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))

	rootCmd.AddCommand(
		newStatusCmd(),
		newDevicesCmd(),
		newAttachCmd(),
		newDeviceOpCmd("detach", "Disconnect the device at a SCSI ID"),
		newInsertCmd(),
		newDeviceOpCmd("eject", "Eject the media from a removable device"),
		newDeviceOpCmd("protect", "Write-protect a device"),
		newDeviceOpCmd("unprotect", "Remove write protection from a device"),
		newImagesCmd(),
		newCreateCmd(),
		newDeleteCmd(),
		newUploadCmd(),
		newServiceCmd(),
		newHostCmd(),
		newVersionCmd(),
	)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("cli")
		viper.SetConfigType("yaml")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "rasweb"))
		}
		viper.AddConfigPath(".")
	}
	viper.SetEnvPrefix("RASADM")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()

	if baseURL == "" {
		baseURL = viper.GetString("url")
		if baseURL == "" {
			baseURL = "http://localhost:8080"
		}
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError(err)
		os.Exit(1)
	}
}

func printError(err error) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		color.Red("Error: %s", apiErr.Message)
		if apiErr.Command != "" {
			fmt.Fprintf(os.Stderr, "  command: %s\n", apiErr.Command)
		}
		for _, l := range apiErr.Lines {
			fmt.Fprintf(os.Stderr, "  %s\n", l)
		}
		return
	}
	color.Red("Error: %v", err)
}

func printJSON(data any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}
