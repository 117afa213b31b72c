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
	"strconv"
	"strings"

	"github.com/cockroachdb/frozenswiss"
	"github.com/spf13/pflag"
)

// loadFactorValue is a pflag.Value holding a load factor written as
// "num/den".
type loadFactorValue frozenswiss.LoadFactor

var _ pflag.Value = (*loadFactorValue)(nil)

func (v *loadFactorValue) String() string {
	return frozenswiss.LoadFactor(*v).String()
}

func (v *loadFactorValue) Set(s string) error {
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		return fmt.Errorf("load factor %q is not of the form num/den", s)
	}
	n, err := strconv.ParseUint(num, 10, 32)
	if err != nil {
		return fmt.Errorf("load factor %q: %w", s, err)
	}
	d, err := strconv.ParseUint(den, 10, 32)
	if err != nil {
		return fmt.Errorf("load factor %q: %w", s, err)
	}
	lf := frozenswiss.LoadFactor{Num: uint32(n), Den: uint32(d)}
	if err := lf.Validate(); err != nil {
		return err
	}
	*v = loadFactorValue(lf)
	return nil
}

func (v *loadFactorValue) Type() string {
	return "num/den"
}
