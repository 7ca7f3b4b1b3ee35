// Package opcbridge provisions and manages a named set of OPC UA data points
// and keeps a local logical naming layer (aliases) synchronized with
// protocol-level node identifiers.
//
// # Architecture
//
// The bridge is split along the two roles of an OPC UA deployment:
//
//	┌─────────────────────────────────────┐
//	│       server.Manager                │  create, start, stop,
//	│  (lifecycle + resolution + export)  │  resolve, export
//	└─────────────────────────────────────┘
//	           ↓ builds from
//	┌─────────────────────────────────────┐
//	│       point.Loader                  │  CSV rows → typed
//	│  (parse, cast, validate, commit)    │  PointDefinitions
//	└─────────────────────────────────────┘
//	           ↓ serves to
//	┌─────────────────────────────────────┐
//	│       client.Client                 │  alias reads/writes over
//	│  (alias map + lazy node cache)      │  one session
//	└─────────────────────────────────────┘
//
// The provisioning flow is Create → Load → Resolve → Export: load a CSV of
// point definitions, build the corresponding variable subtree in the address
// space, and export the alias→identifier map consumers resolve against. The
// client flow is the mirror: Connect → LoadAliases → Read/Write by alias.
//
// # Package Layout
//
//   - errors: the shared error taxonomy (validation, structural, lifecycle,
//     export, read, write)
//   - point: definitions, type casting and CSV loading
//   - opcua: the narrow contracts consumed from the protocol stack, plus an
//     in-memory implementation
//   - server: the provisioning manager (lifecycle, resolution, export,
//     invariant checks)
//   - client: the consumer-side mirror
//   - notify: change-event forwarding to NATS
//   - metric: Prometheus registry and scrape endpoint
//   - config: JSON + environment configuration
//
// Protocol transport, security and subscription delivery belong to the
// external OPC UA stack; the bridge only depends on the contracts in the
// opcua package.
package opcbridge
