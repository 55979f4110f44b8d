// Copyright 2026 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"fmt"
	"text/tabwriter"

	"remote-exec/pkg/accelerator"
	"remote-exec/pkg/remote"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(acceleratorsCmd)
	rootCmd.AddCommand(functionsCmd)
}

var acceleratorsCmd = &cobra.Command{
	Use:   "accelerators",
	Short: "Lists the accelerator tokens run accepts.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "TOKEN\tKIND\tCOUNT\tMACHINE TYPE\tNODES\tBACKEND")
		for _, d := range accelerator.Catalog() {
			backend := "job"
			if d.MultiHost() {
				backend = "leaderworkerset"
			}
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%d\t%s\n", d, d.Kind, d.Count, d.MachineType, d.NumNodes, backend)
		}
		return tw.Flush()
	},
}

var functionsCmd = &cobra.Command{
	Use:   "functions",
	Short: "Lists the functions registered in this binary.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		for _, name := range remote.Names() {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
	},
}
