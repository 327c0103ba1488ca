/*
Package auth resolves a request principal from transport-layer credentials.

Exactly one credential path executes per request, in fixed precedence:

 1. TLS peer certificate: subject DN extracted and classified against the
    admin DN allow-list (exact match) and node DN patterns (wildcard match)
 2. HTTP basic credentials: username looked up in the internalusers snapshot,
    password verified against the stored bcrypt hash
 3. Injected identity header: trusted verbatim, only when the operator has
    explicitly enabled the escape hatch. DANGEROUS: any caller who can reach
    this header while the switch is on is fully trusted. Never enable on
    production ingress.
 4. Anonymous: synthesized from the config snapshot when anonymous access is
    enabled
 5. Otherwise resolution fails with ErrNoCredentials

Admin certificates grant a superuser bypass of authorization downstream, but
classification here is pure identity extraction; gating and permission
evaluation are the API pipeline's job.
*/
package auth
