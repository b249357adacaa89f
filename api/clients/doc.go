/*
Package clients provides Go clients for the custody server.

WalletClient covers the wallet API: wallet creation, the two transaction
phases, rebroadcast, status queries and share revocation. Non-2xx responses
are returned as *APIError; a transmission failure on completion carries the
finalized artifact so it can be passed to Rebroadcast.

AdminClient covers the unlock API of a server started in locked mode. Share
submissions are signed twice: the share itself with kms.SignShare, and the
request with CreateSignedAdminRequest, which sets

	X-Admin-ID:        the administrator's ID
	X-Admin-Signature: base64(ECDSA-ASN1(sha256(path || body)))

Example:

	client := clients.NewAdminClient("http://localhost:8080/admin", "admin1", key)
	status, err := client.SubmitShare(ctx, 0, share, nil)
*/
package clients
