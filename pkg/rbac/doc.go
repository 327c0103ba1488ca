/*
Package rbac maps a resolved principal to its effective security roles and
flattened permission set against a configuration snapshot.

Resolution is a pure function of (principal, snapshot generation): internal
user entries contribute directly-assigned roles and declared backend roles,
role mappings expand username, backend-role and DN patterns (union
semantics), and action groups are flattened recursively into concrete
permission strings. Because the function is pure, results are memoized per
(username, generation); entries for superseded generations age out of the
LRU naturally.
*/
package rbac
