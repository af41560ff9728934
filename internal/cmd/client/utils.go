package client

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dmwm/workqueue/internal/cmd/client/transports"
)

const defaultAddr = "127.0.0.1:9090"

// addrFromEnv returns the queue address from WQ_ADDR or a default.
func addrFromEnv() string {
	if addr := os.Getenv("WQ_ADDR"); addr != "" {
		return addr
	}
	return defaultAddr
}

// dial opens the transport used by every command. Tests may replace it.
var dial = func(addr string) (transports.QueueTransport, error) {
	return transports.DialGrpc(addr)
}

// withTransport provides a transport for the command's address and ensures
// it is closed.
func withTransport(cmd *cobra.Command, fn func(transports.QueueTransport) error) error {
	addr := flagString(cmd, "addr")
	if addr == "" {
		addr = addrFromEnv()
	}
	tr, err := dial(addr)
	if err != nil {
		return err
	}
	defer func() { _ = tr.Close() }()
	return fn(tr)
}

// flagString reads a possibly undeclared string flag.
func flagString(cmd *cobra.Command, name string) string {
	if f := cmd.Flags().Lookup(name); f != nil {
		return f.Value.String()
	}
	return ""
}

// printResult writes v to the command output in the selected format.
func printResult(cmd *cobra.Command, v any) error {
	out := cmd.OutOrStdout()
	switch flagString(cmd, "output") {
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	case "", "json":
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, string(b))
		return err
	default:
		return fmt.Errorf("unknown output format %q; use json or yaml", flagString(cmd, "output"))
	}
}
