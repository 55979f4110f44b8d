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
	"os"

	"remote-exec/pkg/artifact"
	"remote-exec/pkg/runner"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(workerCmd)
}

var workerCmd = &cobra.Command{
	Use:    "worker CONTEXT_URI PAYLOAD_URI RESULT_URI",
	Short:  "Serves one call inside the workload container.",
	Hidden: true,
	Args:   cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := interruptible(cmd.Context())
		defer stop()

		base := os.Getenv("REMOTE_EXEC_ARTIFACTS")
		if base == "" {
			var err error
			if base, _, _, err = artifact.SplitJobURI(args[2]); err != nil {
				return err
			}
		}
		store, err := artifact.Open(ctx, base, storeOptions(cfg))
		if err != nil {
			return err
		}

		w := &runner.Worker{Store: store, Chdir: true}
		if code := w.Run(ctx, args[0], args[1], args[2]); code != runner.ExitOK {
			return fmt.Errorf("worker exited with code %d", code)
		}
		return nil
	},
}
