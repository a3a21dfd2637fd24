package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sketchdojo/notifybridge/pkg/notify"
)

var errNotPublished = errors.New("notification was not published")

type dialFunc func(ctx context.Context) (*notify.Publisher, error)

func newRootCmd(dial dialFunc) *cobra.Command {
	var (
		typeName string
		payload  string
		file     string
	)

	cmd := &cobra.Command{
		Use:          "notifypub",
		Short:        "Publish a task notification",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			t, err := notify.ParseType(typeName)
			if err != nil {
				return err
			}

			raw := []byte(payload)
			if file != "" {
				if raw, err = os.ReadFile(file); err != nil {
					return fmt.Errorf("read payload file: %w", err)
				}
			}

			p, err := notify.DecodePayload(t, json.RawMessage(raw))
			if err != nil {
				return err
			}

			pub, err := dial(cmd.Context())
			if err != nil {
				return err
			}
			defer pub.Close()

			if !pub.Send(cmd.Context(), p) {
				return errNotPublished
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published %s\n", t)
			return nil
		},
	}

	cmd.Flags().StringVarP(&typeName, "type", "t", "", "notification type, e.g. sketchdojo:task_progress")
	cmd.Flags().StringVarP(&payload, "payload", "p", "", "payload JSON object")
	cmd.Flags().StringVarP(&file, "file", "f", "", "read the payload JSON from a file")
	_ = cmd.MarkFlagRequired("type")
	cmd.MarkFlagsOneRequired("payload", "file")
	cmd.MarkFlagsMutuallyExclusive("payload", "file")

	cmd.AddCommand(newTypesCmd())
	return cmd
}

func newTypesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "types",
		Short: "List notification types and their required payload fields",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			for _, t := range notify.Types() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %v\n", t, notify.RequiredFields(t))
			}
		},
	}
}
