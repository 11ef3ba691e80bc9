// Package server hosts the Fiber HTTP service that fronts the proxy pipeline.
// It wires the recover and request-ID middlewares, registers a single catch-all
// hook that hands every inbound request to a ProxyHandler, builds the shared
// upstream http.Client, defines which headers a proxy must not relay, and runs
// the optional metrics listener plus the graceful serve loop used by main.
package server
