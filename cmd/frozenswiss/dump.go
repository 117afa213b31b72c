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

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newDumpCmd())
}

func newDumpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dump <archive>",
		Short: "Print every entry",
		Long: `The dump command prints every key and value in the archive, one tab
separated entry per line in table order. With --json it prints a single
object.

Example:
  frozenswiss dump pairs.fzs
  frozenswiss dump pairs.fzs --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDump(args[0])
		},
	}
}

func runDump(path string) error {
	a, t, err := openTable(path)
	if err != nil {
		return err
	}
	defer a.Close()

	if jsonOut {
		entries := make(map[string]string, t.Len())
		for k, v := range t.All() {
			entries[k] = v
		}
		return printJSON(entries)
	}
	for k, v := range t.All() {
		fmt.Fprintf(out, "%s\t%s\n", k, v)
	}
	return nil
}
