// Package api is the session-aware client layer of the OOSE SDK.
//
// A Cache builds and memoizes one Client per (type, host, port)
// destination. Clients share a bounded connection pool, skip TLS
// verification (platform nodes use self-signed certificates) and send
// basic-auth credentials when the destination has them.
//
//	cache := api.NewCache(api.DefaultConfig(), logger)
//	c, err := cache.Get(api.TypePrism, api.Options{Host: "prism1.oose.io", Port: 5971})
//	authed := cache.BindSession(c, session.Token)
//
// Every call goes through the same failure path: transport errors are
// mapped by Classify (network errors), responses are checked by Validate
// (user errors), and both end up as *Error values the caller can inspect
// with IsUser, IsNetwork and IsNotFound. Nothing in this package retries.
package api
