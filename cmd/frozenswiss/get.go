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
	rootCmd.AddCommand(newGetCmd())
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <archive> <key>",
		Short: "Look up a key",
		Long: `The get command prints the value stored for a key.

Example:
  frozenswiss get pairs.fzs hello
  frozenswiss get pairs.fzs hello --json`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(args[0], args[1])
		},
	}
}

func runGet(path, key string) error {
	a, t, err := openTable(path)
	if err != nil {
		return err
	}
	defer a.Close()

	v, ok := t.Get(key)
	if !ok {
		return fmt.Errorf("key %q not found", key)
	}
	if jsonOut {
		return printJSON(map[string]string{"key": key, "value": v})
	}
	fmt.Fprintln(out, v)
	return nil
}
