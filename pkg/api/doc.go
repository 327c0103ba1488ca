// Package api exposes the security layer over HTTPS.
//
// # Request pipeline
//
// Every security route passes through the same ordered pipeline:
//
//  1. Disabled bypass: with security disabled nothing else runs
//  2. Initialization gate: 503 while no snapshot was ever installed.
//     One exception exists so a fresh cluster can be seeded: an admin
//     certificate may PUT the bootstrap-allowed config types.
//  3. Authentication: peer certificate, basic credentials, injected
//     header, then anonymous; 401 when nothing resolves
//  4. Admin-certificate bypass: allow-listed DNs skip role evaluation
//  5. Authorization: effective roles must cover the route's action or
//     the request ends with 403
//
// Traffic counters run outside the pipeline, so denied and rejected
// requests are counted like any other.
//
// # Routes
//
//   - GET  /health, /ready, /metrics (unauthenticated)
//   - GET  /_security/whoami (pre-init, projects the peer certificate)
//   - GET  /_security/authinfo
//   - GET  /_security/config/{type}
//   - PUT  /_security/config/{type}
//   - POST /_security/configupdate?types=...
//   - POST /_internal/configupdate, /_internal/join (node cert only)
package api
