package main

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/hermeticlab/hermetic"
	"github.com/hermeticlab/hermetic/elfmod"
)

var (
	supportPath string
	runtimePath string
	driverPath  string
	entrySymbol string
	loaderCell  string
	instances   int
	sourceText  string
	extensions  []string
)

var rootCmd = &cobra.Command{
	Use:          "hermetic [source file]",
	Short:        "Run source text on isolated private copies of an embeddable runtime",
	Args:         cobra.MaximumNArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		source := sourceText
		if source == "" {
			if len(args) == 0 {
				return fmt.Errorf("provide a source file or --eval")
			}
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			source = string(raw)
		}
		if instances < 1 {
			return fmt.Errorf("--instances must be at least 1")
		}
		exts := make([]struct{ name, path string }, 0, len(extensions))
		for _, raw := range extensions {
			name, path, ok := strings.Cut(raw, "=")
			if !ok || name == "" || path == "" {
				return fmt.Errorf("malformed --extension %q, want NAME=PATH", raw)
			}
			exts = append(exts, struct{ name, path string }{name, path})
		}

		cfg := hermetic.InstanceConfig{
			SupportPath: supportPath,
			RuntimePath: runtimePath,
			DriverPath:  driverPath,
			EntrySymbol: entrySymbol,
			LoaderCell:  loaderCell,
		}
		pool := make([]*hermetic.RuntimeInstance, instances)
		for i := range pool {
			pool[i] = hermetic.NewRuntimeInstance(cfg)
			if err := pool[i].Build(); err != nil {
				return fmt.Errorf("build instance %d: %w", i, err)
			}
		}

		// Preloads run one instance at a time, before any Execute starts,
		// so the process-wide hook is rebound to the right instance ahead
		// of every load.
		if len(exts) > 0 {
			hook := hermetic.DefaultHook()
			for i, inst := range pool {
				if err := hook.Bind(inst.RuntimeLibrary()); err != nil {
					return fmt.Errorf("bind hook for instance %d: %w", i, err)
				}
				for _, ext := range exts {
					addr, err := hook.HandleExtensionLoad("ext", ext.name, ext.path)
					if err != nil {
						return fmt.Errorf("preload %s into instance %d: %w", ext.name, i, err)
					}
					elfmod.Invoke(addr)
				}
			}
		}

		var (
			mu   sync.Mutex
			errs error
			wg   sync.WaitGroup
		)
		for i, inst := range pool {
			wg.Add(1)
			go func(i int, inst *hermetic.RuntimeInstance) {
				defer wg.Done()
				if err := inst.Execute(source); err != nil {
					mu.Lock()
					errs = multierr.Append(errs, fmt.Errorf("instance %d: %w", i, err))
					mu.Unlock()
				}
			}(i, inst)
		}
		wg.Wait()
		if errs != nil {
			return errs
		}

		fmt.Fprintf(cmd.OutOrStdout(), "ok: %d instance(s), %d libraries retained\n",
			instances, hermetic.DefaultRegistry().Len())
		return nil
	},
}

func init() {
	rootCmd.Flags().StringVar(&supportPath, "support", "", "Base support library loaded beneath the runtime")
	rootCmd.Flags().StringVar(&runtimePath, "runtime", "", "Hosted runtime shared object")
	rootCmd.Flags().StringVar(&driverPath, "driver", "", "Driver shared object exporting the entry symbol")
	rootCmd.Flags().StringVar(&entrySymbol, "entry", "run", "Entry symbol to resolve in the driver")
	rootCmd.Flags().StringVar(&loaderCell, "loader-cell", "", "Exported data cell to receive the extension loader callback")
	rootCmd.Flags().IntVar(&instances, "instances", 1, "Number of isolated runtime copies to build")
	rootCmd.Flags().StringVarP(&sourceText, "eval", "e", "", "Source text to execute instead of reading a file")
	rootCmd.Flags().StringArrayVar(&extensions, "extension", nil, "Extension to preload into every instance, as NAME=PATH (entry ext_NAME; repeatable)")
	_ = rootCmd.MarkFlagRequired("runtime")
	_ = rootCmd.MarkFlagRequired("driver")
}
