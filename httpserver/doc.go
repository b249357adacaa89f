/*
Package httpserver serves the custody API over HTTP.

The server has three parts:

 1. Wallet API (Handler) - wallet creation, the two transaction phases,
    rebroadcast, status and share revocation. Mounted under /api.
 2. Admin API (AdminHandler) - collects signed master secret shares from
    administrators while the server is locked. Mounted under /admin.
 3. Health endpoints - /livez, /readyz, /drain, /undrain, and pprof under
    /debug when enabled.

# Startup

When the deployment secret comes from administrators the server starts with
only the admin API live:

	admin, _ := httpserver.NewAdminHandler(log, adminKeys, threshold)
	srv, _ := httpserver.New(cfg, admin)
	srv.RunInBackground()
	unlocked, _ := admin.WaitForUnlock(ctx)
	// derive the at-rest provider from unlocked, build the wallet service
	srv.SetWalletHandler(httpserver.NewHandler(service, log))

Until SetWalletHandler is called the wallet API answers 503 and /readyz
reports not ready.

# Errors

Wallet API errors are JSON bodies {"error", "kind", "artifact"} with the
status code taken from the error kind:

	validation    400
	not_found     404
	crypto        422
	conflict      409
	transmission  502 (artifact holds the signed transaction)
	internal      500 (message withheld)

# Admin authentication

Share submissions carry X-Admin-ID and X-Admin-Signature headers. The
signature is ECDSA ASN.1 over sha256(path || body) with the admin's whitelisted
P-256 key. The share inside the body carries its own signature, verified by
kms.ShamirKMS.
*/
package httpserver
