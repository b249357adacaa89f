// Command admin manages the deployment secret of a custody server held under
// Shamir custody by administrators.
//
// Commands:
//
//	status                  - show whether the server is locked and how many shares it has
//	generate-admin          - generate an administrator P-256 key pair
//	generate-admins-config  - write the admin keys file passed to --admin-keys-file
//	split-master-secret     - generate a deployment secret and write one share file per admin
//	submit-share            - sign and submit a share to a locked server
//
// Administrators are identified by the hex sha256 fingerprint of their public
// key PEM. Every share submission is signed twice: the share with the admin
// key, and the request path and body in the X-Admin-Signature header.
//
// Example workflow:
//
//  1. Each administrator generates a key pair:
//     admin generate-admin --admin-privkey-file=a1.pem --admin-pubkey-file=a1.pub
//
//  2. Collect the public keys into the server's admin file:
//     admin generate-admins-config --admin-pubkey-files=a1.pub,a2.pub,a3.pub
//
//  3. Split a fresh deployment secret 2-of-3 and hand out the share files:
//     admin split-master-secret --threshold=2 --total-shares=3 --share-dir=./shares
//
//  4. Start custodyserver with --admin-keys-file=admins.json --master-threshold=2,
//     then two administrators run:
//     admin submit-share --share-file=master-share-0.json --wait
package main
