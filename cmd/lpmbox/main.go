package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/exp/maps"

	"github.com/lpmbox/lpmbox/internal/envflags"
	"github.com/lpmbox/lpmbox/internal/runlog"
	"github.com/lpmbox/lpmbox/internal/update"
	"github.com/lpmbox/lpmbox/pkg/config"
	"github.com/lpmbox/lpmbox/pkg/device"
	"github.com/lpmbox/lpmbox/pkg/fetch"
	"github.com/lpmbox/lpmbox/pkg/flow"
	"github.com/lpmbox/lpmbox/pkg/prepare"
	"github.com/lpmbox/lpmbox/pkg/scatter"
	"github.com/lpmbox/lpmbox/pkg/spft"
)

var (
	osStdout io.Writer = os.Stdout
	osStderr io.Writer = os.Stderr
)

// set at build time
var version = "devel"

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	return config.Load(path)
}

func newLogger(cmd *cobra.Command, conf *config.Config) (*runlog.Logger, error) {
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		return nil, err
	}
	return runlog.New(runlog.Options{
		LogsDir: conf.Layout().LogsDir,
		Console: osStderr,
		Verbose: verbose,
	})
}

func decrypter(conf *config.Config) scatter.Decrypter {
	if conf.Decrypt.Command == "" {
		return nil
	}
	return &scatter.ExecDecrypter{
		Command: conf.Decrypt.Command,
		Args:    conf.Decrypt.Args,
	}
}

func flowOptionsFromArgs(flags *pflag.FlagSet) (flow.Options, error) {
	changeCountry, err := flags.GetBool("change-country")
	if err != nil {
		return flow.Options{}, err
	}
	keepData, err := flags.GetBool("keep-data")
	if err != nil {
		return flow.Options{}, err
	}
	return flow.Options{ChangeCountry: changeCountry, KeepData: keepData}, nil
}

func cmdPrepare(cmd *cobra.Command, args []string) error {
	conf, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cmd, conf)
	if err != nil {
		return err
	}
	defer logger.Close()

	opts, err := flowOptionsFromArgs(cmd.Flags())
	if err != nil {
		return err
	}
	backup, err := cmd.Flags().GetBool("backup")
	if err != nil {
		return err
	}

	src := args[0]
	res, err := prepare.Run(prepare.Options{
		ImageDir:      filepath.Dir(src),
		Source:        src,
		CountryChange: opts.ChangeCountry,
		KeepUserData:  opts.KeepData,
		Decrypter:     decrypter(conf),
	}, logger)
	if err != nil {
		return err
	}
	if backup {
		if _, err := prepare.Backup(res.Output, conf.Layout().LogsDir, platformOf(res.Output), time.Now()); err != nil {
			logger.Warnf("cannot back up scatter: %v", err)
		}
	}
	fmt.Fprintln(osStdout, res.Output)
	return nil
}

// platformOf returns MT6789 for .../MT6789_Android_scatter.xml.
func platformOf(path string) string {
	platform, _, _ := strings.Cut(filepath.Base(path), "_")
	return platform
}

func cmdUpgrade(cmd *cobra.Command, args []string) error {
	conf, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cmd, conf)
	if err != nil {
		return err
	}
	defer logger.Close()

	opts, err := flowOptionsFromArgs(cmd.Flags())
	if err != nil {
		return err
	}

	layout := conf.Layout()
	settle := conf.Settle()
	if s := envflags.Int(envflags.Settle, -1); s >= 0 {
		settle = time.Duration(s) * time.Second
	}
	env := &flow.Env{
		Config:     conf,
		Log:        logger,
		Device:     device.NewADB(layout.PlatformToolsDir, conf.PollInterval(), logger),
		Bootloader: device.NewFastboot(layout.PlatformToolsDir, conf.PollInterval(), logger),
		Flasher: &spft.Tool{
			Path: filepath.Join(layout.ToolsDir, conf.FlashTool.Executable),
			Args: conf.FlashTool.Args,
			Log:  logger,
		},
		Decrypter: decrypter(conf),
		Settle:    settle,
	}

	if opts.KeepData {
		return flow.KeepDataUpgrade(cmd.Context(), env, opts)
	}
	return flow.GlobalUpgrade(cmd.Context(), env, opts)
}

func cmdFetchTools(cmd *cobra.Command, args []string) error {
	conf, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cmd, conf)
	if err != nil {
		return err
	}
	defer logger.Close()

	names := args
	if len(names) == 0 {
		byName := map[string]bool{}
		for _, p := range conf.Packages {
			byName[p.Name] = true
		}
		names = maps.Keys(byName)
		sort.Strings(names)
	}

	client := fetch.NewClient(nil, logger)
	for _, name := range names {
		dir, err := client.EnsurePackage(cmd.Context(), conf, name)
		if err != nil {
			return err
		}
		fmt.Fprintf(osStdout, "%s: %s\n", name, dir)
	}
	return nil
}

func cmdCheckUpdate(cmd *cobra.Command, args []string) error {
	conf, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	current := conf.Release.Current
	if current == "" {
		current = version
	}

	latest, err := update.LatestReleases(cmd.Context(), nil, conf.Release.Owner, conf.Release.Repo)
	if err != nil {
		return err
	}
	fmt.Fprintf(osStdout, "current: %s\n", current)
	if latest.Release != "" {
		fmt.Fprintf(osStdout, "release: %s\n", latest.Release)
	}
	if latest.Prerelease != "" {
		fmt.Fprintf(osStdout, "prerelease: %s\n", latest.Prerelease)
	}
	if latest.Release != "" && update.IsNewer(current, latest.Release) {
		fmt.Fprintf(osStdout, "update available: %s\n", latest.Release)
	}
	return nil
}

func cmdDetectPreloader(cmd *cobra.Command, args []string) error {
	conf, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cmd, conf)
	if err != nil {
		return err
	}
	defer logger.Close()

	timeout, err := cmd.Flags().GetDuration("timeout")
	if err != nil {
		return err
	}
	res := device.WaitForPreloader(cmd.Context(), conf.PollInterval(), timeout, logger)
	fmt.Fprintln(osStdout, res)
	if res != device.Found {
		return fmt.Errorf("no preloader: %s", res)
	}
	return nil
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rootCmd := &cobra.Command{
		Use:   "lpmbox",
		Short: "Firmware upgrade helper for MediaTek based LG phones",
		Long: `Firmware upgrade helper for MediaTek based LG phones

lpmbox prepares the vendor scatter descriptor for the flashing tool
and walks the phone through adb, fastboot and preloader mode.`,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("config", "", "Configuration file (.yaml or .toml)")
	rootCmd.PersistentFlags().Bool("verbose", false, "Log debug messages")

	prepareCmd := &cobra.Command{
		Use:          "prepare <scatter.x>",
		Short:        "Convert a scatter container into the descriptor for the flashing tool",
		RunE:         cmdPrepare,
		SilenceUsage: true,
		Args:         cobra.ExactArgs(1),
	}
	prepareCmd.Flags().Bool("change-country", false, "Flash the proinfo (country) partition")
	prepareCmd.Flags().Bool("keep-data", false, "Do not flash userdata")
	prepareCmd.Flags().Bool("backup", false, "Keep a timestamped copy in the logs dir")
	rootCmd.AddCommand(prepareCmd)

	upgradeCmd := &cobra.Command{
		Use:          "upgrade",
		Short:        "Run a firmware upgrade on the connected phone",
		RunE:         cmdUpgrade,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
	}
	upgradeCmd.Flags().Bool("change-country", false, "Change the country with the flashing tool before the upgrade")
	upgradeCmd.Flags().Bool("keep-data", false, "Keep the user data")
	rootCmd.AddCommand(upgradeCmd)

	fetchCmd := &cobra.Command{
		Use:          "fetch-tools [<package>...]",
		Short:        "Download and unpack the tool packages",
		RunE:         cmdFetchTools,
		SilenceUsage: true,
	}
	rootCmd.AddCommand(fetchCmd)

	updateCmd := &cobra.Command{
		Use:          "check-update",
		Short:        "Check for a newer release",
		RunE:         cmdCheckUpdate,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
	}
	rootCmd.AddCommand(updateCmd)

	preloaderCmd := &cobra.Command{
		Use:          "detect-preloader",
		Short:        "Wait for a MediaTek device in preloader mode",
		RunE:         cmdDetectPreloader,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
	}
	preloaderCmd.Flags().Duration("timeout", 0, "Give up after this long (0 waits until interrupted)")
	rootCmd.AddCommand(preloaderCmd)

	return rootCmd.ExecuteContext(ctx)
}

func main() {
	if err := run(); err != nil {
		log.Fatalf("error: %s", err)
	}
}
