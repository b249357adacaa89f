/*
Package api holds the wire types of the custody HTTP API and the server
configuration shared by the binaries.

# Wallet API

	POST   /api/wallets                                     create a wallet
	GET    /api/wallets/{wallet_id}                         public wallet info
	DELETE /api/wallets/{wallet_id}/shares/{participant}    revoke one share
	POST   /api/wallets/{wallet_id}/transactions            first phase
	POST   /api/transactions/complete                       second phase
	POST   /api/transactions/rebroadcast                    resubmit a finalized artifact
	GET    /api/transactions/{chain}/{tx_id}                chain status

Amounts are decimal strings in base units (wei, satoshi). The artifact
returned by the first phase is opaque to clients and must be sent back
unchanged.

# Admin API

When the deployment secret is held by administrators under Shamir custody,
the server starts locked and exposes

	GET  /admin/status
	POST /admin/share

Share submissions carry X-Admin-ID and X-Admin-Signature headers: an ECDSA
signature over sha256(path || body). See the clients subpackage.

Errors are returned as {"error": "...", "kind": "..."} with the status code
derived from the error kind.
*/
package api
