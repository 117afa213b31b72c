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
	"fmt"

	"github.com/cockroachdb/frozenswiss"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newStatCmd())
}

func newStatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stat <archive>",
		Short: "Show archive statistics",
		Long: `The stat command shows the size and shape of an archive's table.

Example:
  frozenswiss stat pairs.fzs`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStat(args[0])
		},
	}
}

type stats struct {
	Len         int     `json:"len"`
	Buckets     int     `json:"buckets"`
	Load        float64 `json:"load"`
	LoadFactor  string  `json:"load_factor"`
	Controls    int     `json:"controls"`
	KeyType     string  `json:"key_type"`
	ValueType   string  `json:"value_type"`
	Compression string  `json:"compression"`
	PayloadSize uint64  `json:"payload_size"`
	StoredSize  uint64  `json:"stored_size"`
}

func runStat(path string) error {
	a, t, err := openTable(path)
	if err != nil {
		return err
	}
	defer a.Close()

	h := a.header
	s := stats{
		Len:         t.Len(),
		Buckets:     t.Capacity(),
		LoadFactor:  h.LoadFactor.String(),
		Controls:    frozenswiss.Layout(t.Len(), h.LoadFactor).Controls,
		KeyType:     h.KeyType,
		ValueType:   h.ValueType,
		Compression: h.Compression.String(),
		PayloadSize: h.PayloadSize,
		StoredSize:  h.StoredSize,
	}
	if s.Buckets > 0 {
		s.Load = float64(s.Len) / float64(s.Buckets)
	}

	if jsonOut {
		return printJSON(s)
	}
	fmt.Fprintf(out, "entries:      %s\n", humanize.Comma(int64(s.Len)))
	fmt.Fprintf(out, "buckets:      %s\n", humanize.Comma(int64(s.Buckets)))
	fmt.Fprintf(out, "load:         %.1f%% (max %s)\n", 100*s.Load, s.LoadFactor)
	fmt.Fprintf(out, "types:        %s -> %s\n", s.KeyType, s.ValueType)
	fmt.Fprintf(out, "controls:     %s\n", humanize.Bytes(uint64(s.Controls)))
	fmt.Fprintf(out, "payload:      %s (stored %s, %s)\n",
		humanize.Bytes(s.PayloadSize), humanize.Bytes(s.StoredSize), s.Compression)
	return nil
}
