package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/semmidev/davkeep/internal/app"
	"github.com/semmidev/davkeep/internal/config"
	"github.com/semmidev/davkeep/internal/domain"
	"github.com/semmidev/davkeep/internal/infrastructure/logger"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	envFile    string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "davkeep",
		Short: "Rotating backups to WebDAV and other remote stores",
		Long: `davkeep uploads local files to a remote directory. The file already stored
under the same name is renamed with a timestamp suffix, and the oldest
archives beyond the retention count are deleted.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", "configs/config.yaml", "path to config file")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", "", "dotenv file loaded before the config (default ./.env if present)")

	root.AddCommand(
		newRunCmd(opts),
		newOnceCmd(opts),
		newPutCmd(opts),
		newGetCmd(opts),
		newListCmd(opts),
		newPruneCmd(opts),
		newVersionCmd(),
	)

	return root
}

// loadApp builds the application from the config flags. quiet discards logs
// for commands that write their result to stdout.
func loadApp(cmd *cobra.Command, opts *rootOptions, quiet bool) (*app.App, error) {
	cfg, err := config.Load(opts.configPath, opts.envFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	var appOpts []app.Option
	if quiet {
		appOpts = append(appOpts, app.WithLogger(logger.Nop()))
	}

	application, err := app.New(cmd.Context(), cfg, appOpts...)
	if err != nil {
		return nil, fmt.Errorf("initialize app: %w", err)
	}
	return application, nil
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := loadApp(cmd, opts, false)
			if err != nil {
				return err
			}
			defer application.Shutdown()

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			return application.Run(ctx)
		},
	}
}

func newOnceCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Run every enabled job now and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := loadApp(cmd, opts, false)
			if err != nil {
				return err
			}
			defer application.Shutdown()

			return application.RunOnce(cmd.Context())
		},
	}
}

func newPutCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "put <name> <file>",
		Short: "Upload a file as the current backup named <name>",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, source := args[0], args[1]

			application, err := loadApp(cmd, opts, true)
			if err != nil {
				return err
			}
			defer application.Shutdown()

			file, err := os.Open(source)
			if err != nil {
				return fmt.Errorf("open source: %w", err)
			}
			defer file.Close()

			info, err := file.Stat()
			if err != nil {
				return fmt.Errorf("stat source: %w", err)
			}

			result, err := application.Rotator().PutBackup(cmd.Context(), name, file, domain.PutOptions{
				ContentLength: info.Size(),
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "uploaded %s (%d bytes)\n", result.Path, result.Size)
			if result.ArchivedAs != "" {
				fmt.Fprintf(out, "archived previous as %s\n", result.ArchivedAs)
			}
			for _, p := range result.Pruned {
				fmt.Fprintf(out, "pruned %s\n", p)
			}
			return nil
		},
	}
}

func newGetCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <name> [output]",
		Short: "Download the current backup named <name>",
		Long:  `Download the current backup to output, ./<name> by default. Use "-" for stdout.`,
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			output := name
			if len(args) == 2 {
				output = args[1]
			}

			application, err := loadApp(cmd, opts, true)
			if err != nil {
				return err
			}
			defer application.Shutdown()

			if output == "-" {
				_, err := application.Restore().Execute(cmd.Context(), name, cmd.OutOrStdout())
				return err
			}

			n, err := application.Restore().ToFile(cmd.Context(), name, output)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "restored %s to %s (%d bytes)\n", name, output, n)
			return nil
		},
	}
}

func newListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list <name>",
		Short: "List the current and archived backups of <name>, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := loadApp(cmd, opts, true)
			if err != nil {
				return err
			}
			defer application.Shutdown()

			variants, err := application.Rotator().Variants(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tSIZE\tMODIFIED")
			for _, v := range variants {
				modified := "-"
				if !v.LastModified.IsZero() {
					modified = v.LastModified.Local().Format(time.DateTime)
				}
				fmt.Fprintf(w, "%s\t%d\t%s\n", v.Basename, v.Size, modified)
			}
			return w.Flush()
		},
	}
}

func newPruneCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Apply the retention limit to every configured job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := loadApp(cmd, opts, false)
			if err != nil {
				return err
			}
			defer application.Shutdown()

			return application.Prune(cmd.Context())
		},
	}
}

func newVersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			if short, _ := cmd.Flags().GetBool("short"); short {
				fmt.Fprintln(cmd.OutOrStdout(), version)
				return
			}
			fmt.Fprintf(cmd.OutOrStdout(), "davkeep %s\nCommit: %s\n", version, commit)
		},
	}
	cmd.Flags().BoolP("short", "s", false, "Show only version number")
	return cmd
}
