package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"disksanitizer/internal/app"
	"disksanitizer/internal/config"
	"disksanitizer/internal/logging"
	"disksanitizer/internal/security"
	"disksanitizer/internal/system"
)

const (
	Version = "0.4.0"
	AppName = "disksan"
)

var (
	configPath string
	verbose    bool
	assumeYes  bool
)

// exitError carries the process exit status out of a cobra RunE.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func fail(err error) error {
	if err == nil {
		return nil
	}
	return &exitError{code: app.ExitCode(err), err: err}
}

func usage(err error) error {
	return &exitError{code: app.ExitUsage, err: err}
}

var rootCmd = &cobra.Command{
	Use:   "disksan [device]",
	Short: "Sanitize a block device with firmware erase, fallback overwrite and sampled verification",
	Long: `disksan erases a whole block device. It prefers the drive's own sanitize or
security-erase command, falls back to discard plus overwrite, then samples
sectors to verify the result and writes a report.`,
	Version:       Version,
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runErase,
}

var eraseCmd = &cobra.Command{
	Use:   "erase <device>",
	Short: "Erase, verify and report on a device",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runErase,
}

var verifyCmd = &cobra.Command{
	Use:   "verify <device>",
	Short: "Sample sectors of a device without erasing it",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runVerify,
}

var infoCmd = &cobra.Command{
	Use:   "info <device>",
	Short: "Show device identity, transport and hidden-area state",
	Args:  cobra.ExactArgs(1),
	RunE:  runInfo,
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "List the external tools disksan can use",
	Args:  cobra.NoArgs,
	RunE:  runCheck,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", AppName, Version)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "path to YAML configuration")
	pf.BoolVarP(&verbose, "verbose", "v", false, "show all log levels on the console")
	pf.BoolVarP(&assumeYes, "yes", "y", false, "skip the interactive confirmation")

	pf.String(config.KeyProfile, "", fmt.Sprintf("erase profile (%s)", strings.Join(config.ProfileNames(), ", ")))
	pf.Int(config.KeyMaxAttempts, 10, "tries per firmware mechanism")
	pf.Int(config.KeyPasses, 3, "shred overwrite passes")
	pf.Bool(config.KeyNoDiscard, false, "skip the discard step")
	pf.Int(config.KeySamples, 256, "sectors sampled by verification")
	pf.Uint64(config.KeySeed, 0, "verification seed (0 draws a random one)")
	pf.String(config.KeyOutputDir, ".", "report directory")
	pf.String(config.KeyFormat, "json", "report format (json, yaml)")
	pf.String(config.KeyATAPassword, "", "temporary ATA security password (random when empty)")
	pf.String(config.KeyLogLevel, "INFO", "log level (DEBUG, INFO, WARN, ERROR)")
	pf.String(config.KeyLogFile, "", "JSON log file")

	verifyCmd.Flags().String("report-dir", "", "write a verification report into this directory")
	infoCmd.Flags().Bool("json", false, "print JSON")
	checkCmd.Flags().String("transport", "", "require the firmware tool for this transport (nvme, ata)")

	rootCmd.AddCommand(eraseCmd, verifyCmd, infoCmd, checkCmd, versionCmd)
}

// setup loads the configuration file, applies flag and DISKSAN_* overrides
// and opens the logger.
func setup(cmd *cobra.Command) (*config.Config, *logging.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, usage(fmt.Errorf("load configuration: %w", err))
	}
	v, err := config.NewOverrides(cmd.Flags())
	if err != nil {
		return nil, nil, usage(err)
	}
	if err := config.ApplyOverrides(cfg, v); err != nil {
		return nil, nil, usage(fmt.Errorf("invalid configuration: %w", err))
	}
	logger, err := logging.New(cfg, verbose)
	if err != nil {
		return nil, nil, usage(err)
	}
	return cfg, logger, nil
}

func target(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

func runErase(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer logger.Close()

	s := app.New(cfg, logger, app.DefaultDependencies(cfg), Version)
	_, err = s.Erase(context.Background(), target(args), assumeYes)
	return fail(err)
}

func runVerify(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer logger.Close()

	reportDir, _ := cmd.Flags().GetString("report-dir")
	s := app.New(cfg, logger, app.DefaultDependencies(cfg), Version)
	_, path, err := s.VerifyOnly(context.Background(), target(args), reportDir)
	if path != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "report: %s\n", path)
	}
	return fail(err)
}

func runInfo(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer logger.Close()

	s := app.New(cfg, logger, app.DefaultDependencies(cfg), Version)
	info, err := s.Info(context.Background(), args[0])
	if err != nil {
		return fail(err)
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}

	w := cmd.OutOrStdout()
	d := info.Device
	fmt.Fprintf(w, "Device:      %s (%s)\n", d.Path, d.Name)
	fmt.Fprintf(w, "Transport:   %s\n", d.Transport)
	fmt.Fprintf(w, "Size:        %d bytes, %d-byte sectors, %d sectors\n", d.SizeBytes, d.SectorSize, d.Sectors())
	fmt.Fprintf(w, "Model:       %s\n", d.Model)
	fmt.Fprintf(w, "Serial:      %s\n", d.Serial)
	switch {
	case !info.HPAQueried:
		fmt.Fprintln(w, "HPA:         not queried")
	case info.HPADetected:
		color.New(color.FgYellow).Fprintf(w, "HPA:         present, %d of %d sectors visible\n", info.CurrentMaxSectors, info.NativeMaxSectors)
	default:
		fmt.Fprintf(w, "HPA:         none (%d sectors)\n", info.NativeMaxSectors)
	}
	fmt.Fprintln(w)
	app.WriteCapabilities(w, info.Capabilities)
	return nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer logger.Close()

	transport, _ := cmd.Flags().GetString("transport")
	switch system.Transport(transport) {
	case "", system.TransportNVMe, system.TransportATA:
	default:
		return usage(fmt.Errorf("unknown transport %q (nvme, ata)", transport))
	}

	s := app.New(cfg, logger, app.DefaultDependencies(cfg), Version)
	caps, err := s.Check(system.Transport(transport))
	app.WriteCapabilities(cmd.OutOrStdout(), caps)
	return fail(err)
}

func main() {
	err := rootCmd.Execute()
	if err == nil {
		os.Exit(app.ExitOK)
	}

	red := color.New(color.FgRed, color.Bold)
	red.Fprintf(os.Stderr, "error: ")
	fmt.Fprintln(os.Stderr, err)
	if hint := security.Hint(err); hint != "" {
		color.New(color.FgYellow).Fprintf(os.Stderr, "hint: %s\n", hint)
	}

	var ee *exitError
	if errors.As(err, &ee) {
		os.Exit(ee.code)
	}
	os.Exit(app.ExitUsage)
}
