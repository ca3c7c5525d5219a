package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/oose/oose-sdk-go/pkg/prism"
)

func newContentCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "content",
		Short: "Look up, upload and purchase content",
	}
	cmd.AddCommand(
		newContentDetailCmd(a),
		newContentUploadCmd(a),
		newContentRetrieveCmd(a),
		newContentPurchaseCmd(a),
		newContentPurchaseRemoveCmd(a),
		newContentURLCmd(a),
	)
	return cmd
}

// prismFor returns a connected and authenticated Prism.
func prismFor(ctx context.Context, a *app) (*prism.Prism, error) {
	p := prism.New(a.cache, a.sessionOptions()...)
	if _, err := a.connect(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// ── content detail ─────────────────────────────────────────────────────────

func newContentDetailCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "detail <sha1>",
		Short: "Show where content is stored",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := prismFor(cmd.Context(), a)
			if err != nil {
				return err
			}
			out, err := p.ContentDetail(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

// ── content upload ─────────────────────────────────────────────────────────

func newContentUploadCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a local file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := prismFor(cmd.Context(), a)
			if err != nil {
				return err
			}
			out, err := p.ContentUpload(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

// ── content retrieve ───────────────────────────────────────────────────────

func newContentRetrieveCmd(a *app) *cobra.Command {
	var (
		method  string
		ext     string
		headers []string
	)
	cmd := &cobra.Command{
		Use:   "retrieve <url>",
		Short: "Have the platform fetch and store a remote resource",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := prism.RetrieveRequest{URL: args[0], Method: method}
			for _, h := range headers {
				name, value, ok := strings.Cut(h, ":")
				if !ok {
					return fmt.Errorf("invalid header %q (want Name: value)", h)
				}
				if req.Headers == nil {
					req.Headers = make(map[string]string)
				}
				req.Headers[strings.TrimSpace(name)] = strings.TrimSpace(value)
			}

			p, err := prismFor(cmd.Context(), a)
			if err != nil {
				return err
			}
			out, err := p.ContentRetrieve(cmd.Context(), req, ext)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&method, "method", "", "HTTP method used for the fetch (default GET)")
	cmd.Flags().StringVar(&ext, "ext", "", "extension to store under (default: from the URL)")
	cmd.Flags().StringArrayVarP(&headers, "header", "H", nil, "request header for the fetch, repeatable")
	return cmd
}

// ── content purchase ───────────────────────────────────────────────────────

func newContentPurchaseCmd(a *app) *cobra.Command {
	var (
		ext      string
		referrer []string
		life     int
		name     string
	)
	cmd := &cobra.Command{
		Use:   "purchase <sha1>",
		Short: "Purchase time-limited access to content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := prismFor(cmd.Context(), a)
			if err != nil {
				return err
			}
			purchase, err := p.ContentPurchase(cmd.Context(), args[0], ext, referrer, life)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), struct {
				*prism.Purchase
				URL string `json:"url"`
			}{purchase, p.URLPurchase(purchase, name)})
		},
	}
	cmd.Flags().StringVar(&ext, "ext", "", "content extension")
	cmd.Flags().StringSliceVar(&referrer, "referrer", nil, "allowed referrers")
	cmd.Flags().IntVar(&life, "life", 0, "lifetime in seconds (0 = platform default)")
	cmd.Flags().StringVar(&name, "name", "", "file name used in the printed URL")
	return cmd
}

func newContentPurchaseRemoveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "purchase-remove <token>",
		Short: "Revoke a purchase",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := prismFor(cmd.Context(), a)
			if err != nil {
				return err
			}
			out, err := p.ContentPurchaseRemove(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

// ── content url ────────────────────────────────────────────────────────────

func newContentURLCmd(a *app) *cobra.Command {
	var ext, name string
	cmd := &cobra.Command{
		Use:   "url <sha1>",
		Short: "Print the static URL of content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := prism.New(a.cache, a.sessionOptions()...)
			fmt.Fprintln(cmd.OutOrStdout(), p.URLStatic(args[0], ext, name))
			return nil
		},
	}
	cmd.Flags().StringVar(&ext, "ext", "", "content extension")
	cmd.Flags().StringVar(&name, "name", "", "file name")
	return cmd
}
