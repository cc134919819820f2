// Command meshnoded is a dev-time CLI front end over the host API facade
// in pkg/meshapi, mirroring the teacher's cmd/cli/mobile_node.go
// init/start/stop wiring. It exists so the peer's lifecycle and command
// surface can be exercised from a terminal instead of a mobile binding.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cyberfly-mesh/meshpeer/pkg/config"
	"github.com/cyberfly-mesh/meshpeer/pkg/meshapi"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{Use: "meshnoded", Short: "mesh peer daemon"}

func init() {
	rootCmd.PersistentFlags().String("data-dir", "./data", "node data directory")
	rootCmd.PersistentFlags().String("env", "", "config environment overlay (dev, prod, ...)")
	rootCmd.AddCommand(startCmd, stopCmd, statusCmd, peersCmd, getCmd, putCmd, syncCmd, keysCmd, logsCmd)
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	env, _ := cmd.Flags().GetString("env")
	var cfg *config.Config
	var err error
	if env == "" {
		// No --env flag: defer to MESH_ENV, matching the teacher's
		// LoadFromEnv/Load split.
		cfg, err = config.LoadFromEnv()
	} else {
		cfg, err = config.Load(env)
	}
	if err != nil {
		logrus.Warnf("meshnoded: no config file found, using flags/env only: %v", err)
		cfg = &config.AppConfig
	}
	if lv, err := logrus.ParseLevel(viper.GetString("logging.level")); err == nil {
		logrus.SetLevel(lv)
	}
	return cfg, nil
}

// exportReconnectTuning forwards a loaded config's Mobile reconnect-tuning
// fields to the environment variables internal/node reads when building its
// resilience.Backoff, so YAML/MESH_ENV configuration and direct env
// overrides share one channel into the §4.6 policy.
func exportReconnectTuning(cfg *config.Config) {
	if v := cfg.Mobile.ReconnectMaxAttemptsPerCycle; v > 0 {
		os.Setenv("MESH_RECONNECT_MAX_ATTEMPTS_PER_CYCLE", strconv.Itoa(v))
	}
	if v := cfg.Mobile.ReconnectCycleSeconds; v > 0 {
		os.Setenv("MESH_RECONNECT_CYCLE_SECONDS", strconv.Itoa(v))
	}
	if v := cfg.Mobile.ReconnectMaxBackoffSeconds; v > 0 {
		os.Setenv("MESH_RECONNECT_MAX_BACKOFF_SECONDS", strconv.Itoa(v))
	}
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "start the node and block until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _ := loadConfig(cmd)
		dataDir, _ := cmd.Flags().GetString("data-dir")
		if dataDir == "./data" && cfg.Storage.DataDir != "" {
			dataDir = cfg.Storage.DataDir
		}
		exportReconnectTuning(cfg)

		info, err := meshapi.StartNode(dataDir, "", cfg.Network.BootstrapPeers, cfg.Mobile.Region)
		if err != nil {
			return fmt.Errorf("start node: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "node started: node_id=%s public_key=%s\n", info.NodeID, info.PublicKey)

		sig := make(chan os.Signal, 1)
		waitForInterrupt(sig)
		fmt.Fprintln(cmd.OutOrStdout(), "shutting down")
		return meshapi.StopNode()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "stop the running node",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !meshapi.IsNodeRunning() {
			return fmt.Errorf("not running")
		}
		if err := meshapi.StopNode(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "stopped")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "print the node's status snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := meshapi.GetNodeStatus()
		if err != nil {
			return err
		}
		return printJSON(cmd, st)
	},
}

var peersCmd = &cobra.Command{
	Use:   "peers",
	Short: "list known peers",
	RunE: func(cmd *cobra.Command, args []string) error {
		peers, err := meshapi.GetPeers()
		if err != nil {
			return err
		}
		return printJSON(cmd, peers)
	},
}

var getCmd = &cobra.Command{
	Use:   "get [db] [key]",
	Short: "read a value from storage",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := meshapi.GetData(context.Background(), args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(v))
		return nil
	},
}

var putCmd = &cobra.Command{
	Use:   "put [db] [key] [value]",
	Short: "write a value to local storage without broadcasting it",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return meshapi.StoreDataLocal(context.Background(), args[0], args[1], args[2])
	},
}

var keysCmd = &cobra.Command{
	Use:   "keys [db]",
	Short: "list keys in a database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		keys, err := meshapi.ListKeys(args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd, keys)
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "trigger a full catch-up sync request",
	RunE: func(cmd *cobra.Command, args []string) error {
		return meshapi.RequestSync(context.Background(), nil)
	},
}

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "print recent log entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		return printJSON(cmd, meshapi.GetLogs(100))
	},
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return nil
}
