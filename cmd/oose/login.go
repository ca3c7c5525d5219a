package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oose/oose-sdk-go/pkg/prism"
)

func newLoginCmd(a *app) *cobra.Command {
	var target string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and print a session token",
		Long: `Log in to a prism or to the job platform and print the session token.

The token can be passed to later invocations with --session or OOSE_SESSION.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var f facade
			switch target {
			case "prism":
				f = prism.New(a.cache, a.sessionOptions()...)
			case "shredder":
				s, closeStores, err := newShredder(ctx, a)
				if err != nil {
					return err
				}
				defer closeStores()
				f = s
			default:
				return fmt.Errorf("unknown target %q (want prism or shredder)", target)
			}
			sess, err := a.connect(ctx, f)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sess.Token)
			return nil
		},
	}
	cmd.Flags().StringVar(&target, "target", "prism", "what to log in to: prism or shredder")
	return cmd
}
