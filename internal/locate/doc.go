// Package locate resolves a bot's current network address through the
// container-orchestration API.
//
// Each bot runs in a pod labelled with its location key (derived from the
// bot's external id, see Key). Resolve issues one label-selector query in a
// fixed namespace and returns the address of the first match:
//
//	r := locate.NewResolver(lister, locate.Options{Namespace: "bots"})
//	addr, err := r.Resolve(ctx, locate.Key("1234567890"))
//
// Resolve never retries. Zero matches fail with ErrNoLocationFound; a failed
// or timed-out API call fails with ErrUpstreamUnavailable.
package locate
