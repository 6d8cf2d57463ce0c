package main

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ryandielhenn/rackmap/pkg/crush"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <map-file>",
	Short: "Print a binary CRUSH map as YAML",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return inspect(args[0], cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}

func inspect(path string, w io.Writer) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "failed to read map")
	}
	m, err := crush.Decode(raw)
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(crush.Describe(m)); err != nil {
		return errors.Wrap(err, "failed to encode summary")
	}
	return enc.Close()
}
