// Package prism is the public content facade: content lookup, upload,
// remote retrieval and purchases of time-limited access grants.
package prism

import (
	"context"
	"encoding/json"
	"path"
	"strings"

	"github.com/oose/oose-sdk-go/pkg/api"
	"github.com/oose/oose-sdk-go/pkg/session"
)

// Defaults for the public prism tier.
const (
	DefaultDomain = "cdn.oose.io"
	DefaultPort   = 5971
)

// Purchase is a time-limited access grant to one content resource.
type Purchase struct {
	Token        string   `json:"token"`
	SHA1         string   `json:"sha1"`
	Ext          string   `json:"ext"`
	Referrer     []string `json:"referrer"`
	Life         int      `json:"life"`
	SessionToken string   `json:"sessionToken,omitempty"`
	IP           string   `json:"ip,omitempty"`
}

// RetrieveRequest describes a remote resource the platform should fetch.
type RetrieveRequest struct {
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// Prism talks to the prism tier. Session handling comes from the embedded
// Manager.
type Prism struct {
	*session.Manager
}

// New creates a Prism. Options are applied after the prism defaults.
func New(cache *api.Cache, opts ...session.Option) *Prism {
	opts = append([]session.Option{
		session.WithDomain(DefaultDomain),
		session.WithDestination("", DefaultPort),
	}, opts...)
	return &Prism{Manager: session.New(cache, api.TypePrism, opts...)}
}

// ContentDetail reports where content is stored.
func (p *Prism) ContentDetail(ctx context.Context, sha1 string) (json.RawMessage, error) {
	return p.call(ctx, "/content/detail", map[string]string{"sha1": sha1})
}

// ContentUpload uploads the file at filePath.
func (p *Prism) ContentUpload(ctx context.Context, filePath string) (json.RawMessage, error) {
	client, err := p.Prepare(ctx)
	if err != nil {
		return nil, err
	}
	var out json.RawMessage
	err = client.Upload(ctx, "/content/upload", nil, map[string]string{"file": filePath}, &out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ContentRetrieve asks the platform to fetch req into storage. An empty ext
// is taken from the extension of the requested URL.
func (p *Prism) ContentRetrieve(ctx context.Context, req RetrieveRequest, ext string) (json.RawMessage, error) {
	if ext == "" {
		ext = strings.TrimPrefix(path.Ext(urlPath(req.URL)), ".")
	}
	return p.call(ctx, "/content/retrieve", map[string]any{
		"request":   req,
		"extension": ext,
	})
}

// ContentPurchase buys an access grant for sha1 valid for life seconds from
// the given referrers.
func (p *Prism) ContentPurchase(ctx context.Context, sha1, ext string, referrer []string, life int) (*Purchase, error) {
	client, err := p.Prepare(ctx)
	if err != nil {
		return nil, err
	}
	var out Purchase
	err = client.Call(ctx, "/content/purchase", map[string]any{
		"sha1":     sha1,
		"ext":      ext,
		"referrer": referrer,
		"life":     life,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ContentPurchaseRemove revokes the grant identified by token.
func (p *Prism) ContentPurchaseRemove(ctx context.Context, token string) (json.RawMessage, error) {
	return p.call(ctx, "/content/purchase/remove", map[string]string{"token": token})
}

// URLPurchase returns the protocol-relative URL that serves a purchase.
func (p *Prism) URLPurchase(purchase *Purchase, name string) string {
	if name == "" {
		name = "video"
	}
	return "//" + p.Domain() + "/" + purchase.Token + "/" + name + "." + purchase.Ext
}

// URLStatic returns the protocol-relative static URL of content.
func (p *Prism) URLStatic(sha1, ext, name string) string {
	if name == "" {
		name = "file"
	}
	if ext == "" {
		ext = "bin"
	}
	return "//" + p.Domain() + "/static/" + sha1 + "/" + name + "." + ext
}

func (p *Prism) call(ctx context.Context, urlPath string, in any) (json.RawMessage, error) {
	client, err := p.Prepare(ctx)
	if err != nil {
		return nil, err
	}
	var out json.RawMessage
	if err := client.Call(ctx, urlPath, in, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// urlPath strips the query and fragment from a URL.
func urlPath(u string) string {
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	return u
}
