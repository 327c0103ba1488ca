// Package security provides the cluster certificate authority and the
// encryption of sensitive material at rest.
//
// # Architecture
//
// Every cluster runs its own CA. The root certificate and key are generated
// when the first node initializes the cluster, persisted to the store with
// the key encrypted under the cluster encryption key, and loaded by nodes on
// startup. All identities chain to this root:
//
//   - Node certificates (OU=node) secure raft and the internal reload
//     endpoint between members
//   - Admin certificates (OU=admin) authenticate cluster operators; holders
//     bypass role evaluation entirely
//   - Client certificates carry arbitrary OUs which become the holder's
//     backend roles at authentication time
//
// # Core Components
//
//   - CertAuthority: issues and verifies certificates, persists the root
//     to the store
//   - Encrypt/Decrypt: AES-256-GCM under the cluster encryption key,
//     derived from the cluster ID
//   - File helpers: PEM save/load for certificates handed to operators
//
// # Usage
//
//	ca := security.NewCertAuthority(store)
//	if err := ca.Initialize(); err != nil { ... }
//	cert, err := ca.IssueNodeCertificate("node-1", []string{"localhost"}, ips)
//
// # Invariants
//
// The root key never leaves the process unencrypted. Leaf certificates are
// valid for 90 days and should be reissued when CertNeedsRotation reports
// true.
package security
