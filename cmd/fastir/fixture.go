package main

import (
	"fmt"
	"io"
	"os"

	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/spf13/cobra"

	"github.com/ajitpratap0/fastir/pkg/features"
)

func newFixtureCommand() *cobra.Command {
	var out string
	var asDecoder, zstd bool

	cmd := &cobra.Command{
		Use:   "fixture",
		Short: "Write the sample inline feature table as Arrow IPC",
		Long: `Fixture writes a small, fixed inline feature table in the decoder's output
format. With --decoder it behaves like a decoder: it reads a unit on stdin,
rejects empty input with "invalid bitcode" and otherwise writes the sample
table, so extraction runs can be exercised without the native decoder:

  fastir extract --decoder fastir --decoder-arg fixture --decoder-arg --decoder`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if asDecoder {
				unit, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return err
				}
				if len(unit) == 0 {
					return fmt.Errorf("invalid bitcode")
				}
			}

			var opts []ipc.Option
			if zstd {
				opts = append(opts, ipc.WithZstd())
			}
			data, err := features.SampleModule().EncodeInline(opts...)
			if err != nil {
				return err
			}

			if out == "" || out == "-" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			return os.WriteFile(out, data, 0o644)
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file (default: stdout)")
	cmd.Flags().BoolVar(&asDecoder, "decoder", false, "Act as a decoder: read a unit on stdin first")
	cmd.Flags().BoolVar(&zstd, "zstd", false, "Compress record batches with zstd")
	return cmd
}
