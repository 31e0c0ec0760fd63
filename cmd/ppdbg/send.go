package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/tusharrohilla/ppdbg"
)

func newSendCmd(g *globalFlags) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "send <topic> [key=value ...]",
		Short: "Send one request and print its reply",
		Example: `  ppdbg send cpu.status
  ppdbg send cpu.setReg category=0 register=4 value='"0x10"'`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fields, err := parseFields(args[1:])
			if err != nil {
				return err
			}
			client, _, err := g.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer client.Close()

			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			reply, err := client.Request(ctx, ppdbg.NewMessage(args[0], fields))
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			out, err := json.MarshalIndent(reply, "", "  ")
			if err != nil {
				return err
			}
			pterm.Println(string(out))
			return nil
		},
	}
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 10*time.Second, "how long to wait for the reply (0 waits forever)")
	return cmd
}

// parseFields turns key=value pairs into message fields. Values that parse as
// JSON keep their type; anything else is a string.
func parseFields(args []string) (map[string]any, error) {
	fields := make(map[string]any, len(args))
	for _, arg := range args {
		key, raw, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("bad field %q, want key=value", arg)
		}
		if key == ppdbg.TopicField {
			return nil, fmt.Errorf("field %q is set from the topic argument", key)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		fields[key] = v
	}
	return fields, nil
}
