/*
Package ldap authenticates users against an LDAP or Active Directory server.

# Architecture Overview

An Authenticator wires together:

  - Session: one connection per operation, every bind and search bounded by the
    operation timeout, closed on every exit path
  - Resolver: login token to exactly one DN by a subtree search over the
    login attributes
  - Verifier: user bind on a dedicated, short-lived connection
  - Mapper: base-scope read of the entry into a User
  - Probe: staged connect, bind and search diagnostics

# Authentication Flow

	open session → service bind → resolve DN → verify (fresh session) → fetch profile → close

A service account is optional. With neither BindDN nor BindPassword the
resolution session stays anonymous; configuring only one of them is a
ConfigurationError.

# Errors

Every error leaving the package is an *Error with one of a closed set of kinds:
InvalidCredentials, NotFound, AmbiguousMatch, Timeout, ConnectionRefused,
ConfigurationError and ServiceError. Use errors.Is with the Err* sentinels or
KindOf. Error() never contains directory diagnostics; Detail() does and is meant
for server-side logs only.

# Logging

Logging uses tflog under the "ldap" subsystem. Set
TF_LOG_PROVIDER_DIRAUTH_LDAP=DEBUG for detail. Passwords are never logged.
*/
package ldap
