package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cookiekeeper/internal/config"
	"github.com/xkilldash9x/cookiekeeper/internal/cookies"
	"github.com/xkilldash9x/cookiekeeper/internal/observability"
)

// newExportCmd creates the `export` command.
func newExportCmd() *cobra.Command {
	var (
		outPath    string
		fromRecord bool
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Writes the published cookies as a Netscape cookie file",
		Long: `Decodes the value the bot reads from its env file and writes it in the Netscape
cookie-file format understood by yt-dlp. Use --from-record to export the stored
artifact instead of the published value.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			return runExport(cmd.OutOrStdout(), cfg, outPath, fromRecord, factory, observability.GetLogger())
		},
	}

	cmd.Flags().StringVarP(&outPath, "out", "o", "-", "destination file, or - for stdout")
	cmd.Flags().BoolVar(&fromRecord, "from-record", false, "export the stored artifact instead of the env file value")
	return cmd
}

func runExport(out io.Writer, cfg *config.Config, outPath string, fromRecord bool, f ComponentFactory, logger *zap.Logger) error {
	components, err := f.Create(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize components: %w", err)
	}

	var cs []cookies.Cookie
	if fromRecord {
		artifact, err := components.Store.Read()
		if err != nil {
			return err
		}
		if artifact == nil {
			return fmt.Errorf("no artifact has been committed")
		}
		cs = artifact.Cookies
	} else {
		encoded, ok, err := components.Store.Env().PublishedValue()
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%s is not set in %s", cfg.Publish.EnvKey, cfg.Publish.EnvFile)
		}
		if cs, err = cookies.Decode(encoded); err != nil {
			return err
		}
	}

	data, err := cookies.MarshalNetscape(cs)
	if err != nil {
		return err
	}

	if outPath == "" || outPath == "-" {
		_, err = out.Write(data)
		return err
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o700); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	// Session cookies: readable by the owner only.
	if err := os.WriteFile(outPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write cookie file: %w", err)
	}
	logger.Info("Exported cookies.", zap.String("path", outPath), zap.Int("cookie_count", len(cs)))
	return nil
}
