// Package beankit wires declaratively registered singleton services ("beans")
// into an immutable, type-keyed registry at startup, and assembles
// request-scoped components from that registry on every call. A component run
// is an ordered pipeline: pre-auth guards, identity acquisition, field and
// config injection, post-auth guards, an interceptor chain, and finally the
// call body.
//
// The bean graph is validated in full before anything is constructed: every
// missing dependency and missing required config key is reported in one
// aggregated error, and a dependency cycle is reported with its complete path.
// A failed Finalize returns no Registry at all; there is no partial startup.
//
// Resolution semantics are documented on Resolver and Registry. Guards,
// interceptors, and the Component builder are documented on their respective
// types.
package beankit
