package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/cobra"

	"github.com/pcksafe/pcksafe"
	"github.com/pcksafe/pcksafe/blob"
	"github.com/pcksafe/pcksafe/codec"
)

var errBadSize = errors.New("size must be between 1 byte and 4 EiB")

func decodeCmd(g *globalOptions) *cobra.Command {
	d := &decodeOptions{}
	var (
		keys []string
		list bool
	)
	cmd := &cobra.Command{
		Use:   "decode <config.pck | list>",
		Short: "Decode a pickled list configuration into JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := g.converter(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			path := args[0]
			if list {
				if path, err = c.ListConfigPath(path); err != nil {
					return err
				}
			}
			doc, err := c.DecodeKeys(cmd.Context(), path, d.owner, int64(d.limit), keys)
			if err != nil {
				return err
			}
			return writeLine(cmd.OutOrStdout(), doc)
		},
	}
	d.AddFlags(cmd.Flags())
	cmd.Flags().StringSliceVar(&keys, "keys", nil, "only these top-level keys, in this order")
	cmd.Flags().BoolVar(&list, "list", false, "treat the argument as a list name under lists_dir")
	return cmd
}

func exportKeysCmd(g *globalOptions) *cobra.Command {
	d := &decodeOptions{}
	cmd := &cobra.Command{
		Use:   "export-keys <config.pck[,config.pck...]>...",
		Short: "Export the configured keys of several lists, one JSON document per line",
		Long: "Each blob is decoded with the export_keys of the configuration. A blob\n" +
			"that cannot be decoded leaves an empty line so lines match arguments.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := g.converter(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			var paths []string
			for _, arg := range args {
				paths = append(paths, strings.Split(arg, ",")...)
			}
			out, err := c.ExportKeys(cmd.Context(), paths, d.owner, int64(d.limit))
			if _, werr := cmd.OutOrStdout().Write(out); werr != nil && err == nil {
				err = werr
			}
			return err
		},
	}
	d.AddFlags(cmd.Flags())
	return cmd
}

func encodeCmd(g *globalOptions) *cobra.Command {
	var (
		output   string
		compress string
	)
	cmd := &cobra.Command{
		Use:   "encode [document.json]",
		Short: "Encode a JSON document into a protocol 2 pickle",
		Long:  "Reads the document from the file or, without one, from stdin.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := blob.ParseFormat(compress)
			if err != nil {
				return err
			}
			c, cfg, err := g.converter(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			in, err := readInput(cmd, args, int64(cfg.SizeLimit))
			if err != nil {
				return err
			}
			out, err := c.Encode(cmd.Context(), in)
			if err != nil {
				return err
			}
			if out, err = blob.Compress(format, out); err != nil {
				return err
			}
			if output == "" || output == "-" {
				_, err = cmd.OutOrStdout().Write(out)
				return err
			}
			return os.WriteFile(output, out, 0o640)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the pickle here instead of stdout")
	cmd.Flags().StringVar(&compress, "compress", "raw", "compress the output: raw, zstd, zlib or snappy")
	return cmd
}

func dumpCmd(g *globalOptions) *cobra.Command {
	d := &decodeOptions{}
	var document bool
	cmd := &cobra.Command{
		Use:   "dump <config.pck | document.json>",
		Short: "Print the object graph of a pickle or a JSON document",
		Long: "Pickles are decoded in the sandbox like decode does; the resulting\n" +
			"document is then expanded back into its graph and printed.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, cfg, err := g.converter(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			var doc []byte
			if document {
				if doc, err = readInput(cmd, args, int64(cfg.SizeLimit)); err != nil {
					return err
				}
			} else if doc, err = c.Decode(cmd.Context(), args[0], d.owner, int64(d.limit)); err != nil {
				return err
			}

			parsed, err := codec.Unmarshal(doc)
			if err != nil {
				return err
			}
			graph, err := codec.Decode(parsed)
			if err != nil {
				return err
			}
			spew.Fdump(cmd.OutOrStdout(), graph)
			return nil
		},
	}
	d.AddFlags(cmd.Flags())
	cmd.Flags().BoolVar(&document, "json", false, "the argument is a JSON document, not a pickle")
	return cmd
}

func listPathCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list-path <list>",
		Short: "Print where a list keeps its pickled configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.config()
			if err != nil {
				return err
			}
			path, err := pcksafe.ListConfigPath(cfg.ListsDir, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
}

// readInput reads the single file argument, or stdin without one, refusing
// more than limit bytes.
func readInput(cmd *cobra.Command, args []string, limit int64) ([]byte, error) {
	var r io.Reader = cmd.InOrStdin()
	if len(args) > 0 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	b, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > limit {
		return nil, fmt.Errorf("%w: input exceeds %d bytes", blob.ErrTooLarge, limit)
	}
	return b, nil
}

func writeLine(w io.Writer, b []byte) error {
	if _, err := w.Write(b); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}
