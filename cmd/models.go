package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/quilllabs/quill/pkg/config"
	"github.com/quilllabs/quill/pkg/logger"
	"github.com/quilllabs/quill/pkg/provider"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List models available on the configured backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		if err := logger.Init(); err != nil {
			fmt.Fprintf(os.Stderr, "logging disabled: %v\n", err)
		}

		p, err := provider.FromConfig(cfg)
		if err != nil {
			return err
		}
		defer closeProvider(p)

		lister, ok := p.(provider.ModelLister)
		if !ok {
			return fmt.Errorf("backend %q does not list models", p.Name())
		}

		models, err := lister.ListModels(cmd.Context())
		if err != nil {
			return err
		}
		if len(models) == 0 {
			fmt.Fprintln(os.Stderr, "no models available")
			return nil
		}
		for _, model := range models {
			fmt.Println(model)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(modelsCmd)
}
