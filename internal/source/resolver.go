package source

import (
	"context"
	"net/url"
	"strings"

	id "concytec/pkg/domain"
	dErrors "concytec/pkg/domain-errors"
)

// URIResolver maps repository item URIs of the form <base>/<uuid> to item ids.
type URIResolver struct {
	base *url.URL
}

// NewURIResolver builds a resolver for item URIs under base, e.g.
// https://ctivitae.concytec.gob.pe/server/api/core/items.
func NewURIResolver(base string) (*URIResolver, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(base), "/"))
	if err != nil || u.Host == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "item uri base must be an absolute url")
	}
	return &URIResolver{base: u}, nil
}

func (r *URIResolver) Resolve(_ context.Context, uri string) (id.ItemID, error) {
	u, err := url.Parse(strings.TrimSpace(uri))
	if err != nil {
		return id.ItemID{}, dErrors.Wrap(err, dErrors.CodeUnresolvedReference, "malformed item uri")
	}
	if !strings.EqualFold(u.Host, r.base.Host) {
		return id.ItemID{}, dErrors.Newf(dErrors.CodeUnresolvedReference, "item uri host %q is not this repository", u.Host)
	}
	rest, ok := strings.CutPrefix(strings.TrimRight(u.Path, "/"), r.base.Path+"/")
	if !ok || rest == "" || strings.Contains(rest, "/") {
		return id.ItemID{}, dErrors.New(dErrors.CodeUnresolvedReference, "uri does not point at an item")
	}
	itemID, err := id.ParseItemID(rest)
	if err != nil {
		return id.ItemID{}, dErrors.Wrap(err, dErrors.CodeUnresolvedReference, "uri does not carry an item id")
	}
	return itemID, nil
}
