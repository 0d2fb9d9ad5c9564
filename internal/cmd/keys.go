package cmd

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/novelcondense/novelcondense/internal/ailink"
	"github.com/novelcondense/novelcondense/internal/observability"
	"github.com/novelcondense/novelcondense/internal/output"
)

var keysCheckParallel int

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Inspect configured API credentials",
}

var keysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured credentials with masked keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newDispatchRuntime(appConfig, observability.CLILogger)
		if err != nil {
			return err
		}
		return renderView(cmd, output.CredentialsView(rt.dispatcher.States(), time.Now()))
	},
}

var keysCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Send a tiny request through every credential",
	Long: `Send a short prompt through each credential once, without retries or
failover, and report whether the key works, is rate limited, or is rejected.
Each probe counts against the credential's per-minute limit.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		requireCredentials(appConfig)
		rt, err := newDispatchRuntime(appConfig, observability.CLILogger)
		if err != nil {
			return err
		}

		results := probeAll(cmd.Context(), rt, keysCheckParallel)
		if err := renderView(cmd, output.ProbesView(results)); err != nil {
			return err
		}

		failed := 0
		for _, r := range results {
			if r.Verdict == ailink.ProbeInvalid {
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d credentials rejected", failed, len(results))
		}
		return nil
	},
}

// probeAll checks credentials concurrently, keeping configuration order.
func probeAll(ctx context.Context, rt *dispatchRuntime, parallel int) []ailink.ProbeResult {
	creds := rt.registry.All()
	results := make([]ailink.ProbeResult, len(creds))
	if parallel < 1 {
		parallel = 1
	}
	sem := make(chan struct{}, parallel)

	var wg sync.WaitGroup
	for i, cred := range creds {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = rt.invoker.CheckCredential(ctx, rt.tracker, cred)
			observability.CLILogger.Debug("Probed credential",
				zap.String("credential", cred.ID()),
				zap.String("verdict", results[i].Verdict),
				zap.Duration("latency", results[i].Latency))
		}()
	}
	wg.Wait()
	return results
}

func init() {
	rootCmd.AddCommand(keysCmd)
	keysCmd.AddCommand(keysListCmd, keysCheckCmd)
	addOutputFlags(keysListCmd)
	addOutputFlags(keysCheckCmd)
	keysCheckCmd.Flags().IntVar(&keysCheckParallel, "parallel", 4, "credentials probed at once")
}
