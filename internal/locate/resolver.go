// ABOUTME: Location resolver that maps a bot's location key to a pod address.
// ABOUTME: Wraps an EndpointLister with a timeout and explicit empty-result errors.

package locate

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"
)

// Resolution errors.
var (
	ErrNoLocationFound     = errors.New("no location found")
	ErrUpstreamUnavailable = errors.New("orchestration API unavailable")
)

// Endpoint is a single entry returned by the orchestration API.
type Endpoint struct {
	Name    string
	Address string
}

// EndpointLister lists endpoints in a namespace matching a label selector.
type EndpointLister interface {
	ListEndpointsByLabel(ctx context.Context, namespace, selector string) ([]Endpoint, error)
}

// Options configures a Resolver.
type Options struct {
	Namespace string
	LabelKey  string
	Timeout   time.Duration
}

// Defaults for Options fields left empty.
const (
	DefaultNamespace = "bots"
	DefaultLabelKey  = "bot"
	DefaultTimeout   = 10 * time.Second
)

// Resolver resolves location keys to addresses.
type Resolver struct {
	lister    EndpointLister
	namespace string
	labelKey  string
	timeout   time.Duration
}

// NewResolver creates a Resolver. Zero-valued options fall back to defaults.
func NewResolver(lister EndpointLister, opts Options) *Resolver {
	if opts.Namespace == "" {
		opts.Namespace = DefaultNamespace
	}
	if opts.LabelKey == "" {
		opts.LabelKey = DefaultLabelKey
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Resolver{
		lister:    lister,
		namespace: opts.Namespace,
		labelKey:  opts.LabelKey,
		timeout:   opts.Timeout,
	}
}

// Selector returns the label selector used for a location key.
func (r *Resolver) Selector(locationKey string) string {
	return r.labelKey + "=" + locationKey
}

// Resolve returns the address of the first endpoint labelled with the
// location key. Multiple matches are not disambiguated.
func (r *Resolver) Resolve(ctx context.Context, locationKey string) (string, error) {
	if locationKey == "" {
		return "", fmt.Errorf("%w: empty location key", ErrNoLocationFound)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	endpoints, err := r.lister.ListEndpointsByLabel(ctx, r.namespace, r.Selector(locationKey))
	if err != nil {
		return "", fmt.Errorf("%w: listing %s in %s: %w", ErrUpstreamUnavailable, r.Selector(locationKey), r.namespace, err)
	}
	if len(endpoints) == 0 {
		return "", fmt.Errorf("%w: %s", ErrNoLocationFound, r.Selector(locationKey))
	}

	// A pod that has not been scheduled yet has no address.
	addr := endpoints[0].Address
	if addr == "" {
		return "", fmt.Errorf("%w: %s has no address yet", ErrNoLocationFound, endpoints[0].Name)
	}
	return addr, nil
}

// Key derives the location key from a bot's external id: decimal ids are
// rendered in lowercase hex, anything else is used lower-cased as-is.
func Key(externalID string) string {
	externalID = strings.TrimSpace(externalID)
	n, ok := new(big.Int).SetString(externalID, 10)
	if !ok || n.Sign() < 0 {
		return strings.ToLower(externalID)
	}
	return n.Text(16)
}
