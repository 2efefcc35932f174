/*
Package types defines the core data structures shared across plfm.

It holds the event record, the aggregate read-view types (org, app, env,
release, deploy, route, secret bundle, volume, instance, node), the enums
for their lifecycle states, and the sentinel error kinds the API surface
maps onto wire codes.

All enums are typed string constants. View types carry a ResourceVersion
that strictly increases on every projection update of that row.
*/
package types
