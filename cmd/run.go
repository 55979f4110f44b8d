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
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"remote-exec/pkg/envelope"
	"remote-exec/pkg/logging"
	"remote-exec/pkg/run"

	"github.com/spf13/cobra"
)

var (
	funcName    string
	argsJSON    string
	accelToken  string
	workDir     string
	streamLogs  bool
	resultsOnly bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&funcName, "func", "f", "", "Name of the registered function to call. Required.")
	runCmd.Flags().StringVar(&argsJSON, "args", "", "Function arguments as JSON, e.g. '{\"epochs\": 3}'.")
	runCmd.Flags().StringVarP(&accelToken, "accelerator", "a", "cpu", "Accelerator to run on, e.g. 'l4', 'a100x4' or 'v5litepod-2x2'.")
	runCmd.Flags().StringVarP(&workDir, "workdir", "C", "", "Directory shipped to the worker. Defaults to the current directory.")
	runCmd.Flags().StringP("image", "i", "", "Run this image as is instead of building one.")
	runCmd.Flags().Duration("timeout", run.DefaultTimeout, "Maximum time to wait for the workload.")
	runCmd.Flags().StringSlice("env", nil, "Caller environment variables forwarded to the worker. Accepts PREFIX* patterns.")
	runCmd.Flags().BoolVar(&streamLogs, "stream", true, "Stream the main pod's output while the workload runs.")
	runCmd.Flags().BoolVarP(&resultsOnly, "quiet", "q", false, "Only print the result.")

	_ = runCmd.MarkFlagRequired("func")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Calls a registered function on a GKE accelerator.",
	Long: `The 'run' command resolves the accelerator, ensures a worker image exists,
uploads the working directory and the call, runs it as a Job (or a
LeaderWorkerSet for multi-host TPU slices) and prints the JSON result.
Remote resources are deleted when the call ends, including on Ctrl-C.`,
	Args: cobra.NoArgs,
	RunE: runRunCmd,
}

func runRunCmd(cmd *cobra.Command, _ []string) error {
	if resultsOnly {
		_ = logging.SetLevel("warn")
	}
	var args any
	if argsJSON != "" {
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			return fmt.Errorf("--args is not valid JSON: %w", err)
		}
	}

	ctx, stop := interruptible(cmd.Context())
	defer stop()

	o, err := newOrchestrator(ctx, cfg)
	if err != nil {
		return err
	}
	if streamLogs {
		o.Options.LogWriter = os.Stderr
	}

	raw, err := o.Execute(ctx, run.Request{
		Func:        funcName,
		Args:        args,
		Accelerator: accelToken,
		WorkDir:     workDir,
	})
	if err != nil {
		if ctx.Err() != nil {
			logging.Warn("Interrupted; remote resources were cleaned up")
		}
		return err
	}
	return printResult(cmd, raw)
}

func printResult(cmd *cobra.Command, raw []byte) error {
	var value any
	if err := envelope.UnmarshalValue(raw, &value); err != nil {
		return fmt.Errorf("failed to decode result: %w", err)
	}
	out, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("result cannot be shown as JSON: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

// interruptible cancels ctx on Ctrl-C or SIGTERM so deferred cleanup runs.
func interruptible(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}
