// Copyright 2024 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"bytes"
	"fmt"
	"os"
	"strconv"

	"github.com/cockroachdb/frozenswiss"
	"github.com/cockroachdb/frozenswiss/envelope"
	"github.com/cockroachdb/frozenswiss/internal/manifest"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	buildInput      string
	buildOutput     string
	buildValues     string
	buildCompress   string
	buildLoadFactor = loadFactorValue(frozenswiss.DefaultLoadFactor)
)

func init() {
	cmd := newBuildCmd()
	cmd.Flags().StringVarP(&buildInput, "input", "i", "", "Manifest to build from (.yaml, .yml, .json or .jsonc)")
	cmd.Flags().StringVarP(&buildOutput, "output", "o", "", "Archive to write")
	cmd.Flags().StringVar(&buildValues, "values", typeString, "Value type: string or u64")
	cmd.Flags().StringVar(&buildCompress, "compress", "none", "Payload compression: none, lz4 or zstd")
	cmd.Flags().Var(&buildLoadFactor, "load-factor", "Maximum ratio of entries to buckets")
	_ = cmd.MarkFlagRequired("input")
	_ = cmd.MarkFlagRequired("output")
	rootCmd.AddCommand(cmd)
}

func newBuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "build -i <manifest> -o <archive>",
		Short: "Build an archive from a manifest",
		Long: `The build command reads a YAML or JSON manifest mapping keys to values
and writes an archive holding them.

Example:
  frozenswiss build -i pairs.yaml -o pairs.fzs
  frozenswiss build -i counts.json -o counts.fzs --values u64 --compress zstd`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild()
		},
	}
}

func runBuild() error {
	entries, err := manifest.Load(buildInput)
	if err != nil {
		return err
	}
	c, err := envelope.ParseCompression(buildCompress)
	if err != nil {
		return err
	}
	lf := frozenswiss.LoadFactor(buildLoadFactor)
	logger.Debug("building archive", "input", buildInput, "entries", len(entries),
		"values", buildValues, "load_factor", lf, "compression", c)

	var buf bytes.Buffer
	var h envelope.Header
	switch buildValues {
	case typeString:
		pairs := make(frozenswiss.SlicePairs[string, string], len(entries))
		for i, e := range entries {
			pairs[i] = frozenswiss.Pair[string, string]{Key: e.Key, Value: e.Value}
		}
		h, err = envelope.Write(&buf, pairs, frozenswiss.String, typeString, frozenswiss.String, typeString, lf, c)
	case typeU64:
		pairs := make(frozenswiss.SlicePairs[string, uint64], len(entries))
		for i, e := range entries {
			v, err := strconv.ParseUint(e.Value, 0, 64)
			if err != nil {
				return fmt.Errorf("%s: key %q: %w", buildInput, e.Key, err)
			}
			pairs[i] = frozenswiss.Pair[string, uint64]{Key: e.Key, Value: v}
		}
		h, err = envelope.Write(&buf, pairs, frozenswiss.String, typeString, frozenswiss.Uint64, typeU64, lf, c)
	default:
		return fmt.Errorf("unsupported value type %q", buildValues)
	}
	if err != nil {
		return fmt.Errorf("failed to build archive: %w", err)
	}
	if err := os.WriteFile(buildOutput, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write archive: %w", err)
	}
	logger.Info("wrote archive", "path", buildOutput, "bytes", buf.Len())

	if jsonOut {
		return printJSON(map[string]any{
			"path":        buildOutput,
			"len":         h.Len,
			"bytes":       buf.Len(),
			"compression": h.Compression.String(),
		})
	}
	fmt.Fprintf(out, "wrote %s: %s entries, %s (%s)\n",
		buildOutput, humanize.Comma(int64(h.Len)), humanize.Bytes(uint64(buf.Len())), h.Compression)
	return nil
}
