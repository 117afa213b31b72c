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
	"errors"
	"fmt"

	"github.com/cockroachdb/frozenswiss"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newCheckCmd())
}

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <archive>",
		Short: "Validate an archive",
		Long: `The check command verifies the envelope and payload digest of an archive
and checks every byte of its table. Failures name the bucket, control byte or
position that is invalid.

Example:
  frozenswiss check pairs.fzs
  frozenswiss check pairs.fzs --json -v`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(args[0])
		},
	}
}

type checkReport struct {
	Path    string `json:"path"`
	OK      bool   `json:"ok"`
	Len     int    `json:"len,omitempty"`
	Buckets int    `json:"buckets,omitempty"`
	Error   string `json:"error,omitempty"`
	Bucket  *int   `json:"bucket,omitempty"`
	Part    string `json:"part,omitempty"`
	Control *int   `json:"control,omitempty"`
	Pos     *int   `json:"pos,omitempty"`
}

// describe fills in the location of err.
func (r *checkReport) describe(err error) {
	r.Error = err.Error()
	var ee *frozenswiss.EntryError
	if errors.As(err, &ee) {
		r.Bucket = &ee.Bucket
		r.Part = ee.Part.String()
	}
	var ce *frozenswiss.ControlError
	if errors.As(err, &ce) {
		r.Control = &ce.Index
	}
	var pe *frozenswiss.PointerError
	var ve *frozenswiss.ValueError
	var xe *frozenswiss.ContextError
	switch {
	case errors.As(err, &pe):
		r.Pos = &pe.Pos
	case errors.As(err, &ve):
		r.Pos = &ve.Pos
	case errors.As(err, &xe):
		r.Pos = &xe.Pos
	}
}

func runCheck(path string) error {
	report := checkReport{Path: path}
	a, err := openArchive(path)
	if err == nil {
		defer a.Close()
		var t table
		t, err = a.table()
		if err == nil {
			report.OK = true
			report.Len = t.Len()
			report.Buckets = t.Capacity()
		}
	}
	if err != nil {
		report.describe(err)
		logger.Debug("check failed", "path", path, "err", err)
	}

	if jsonOut {
		if perr := printJSON(report); perr != nil {
			return perr
		}
	} else if report.OK {
		fmt.Fprintf(out, "ok: %s: %d entries in %d buckets\n", path, report.Len, report.Buckets)
	} else {
		fmt.Fprintf(out, "FAIL: %s\n", path)
		if report.Bucket != nil {
			fmt.Fprintf(out, "  bucket: %d (%s)\n", *report.Bucket, report.Part)
		}
		if report.Control != nil {
			fmt.Fprintf(out, "  control byte: %d\n", *report.Control)
		}
		if report.Pos != nil {
			fmt.Fprintf(out, "  position: %d\n", *report.Pos)
		}
	}
	if err != nil {
		return fmt.Errorf("check failed: %w", err)
	}
	return nil
}
