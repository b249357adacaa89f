// Package cosign turns an unsigned transfer into a broadcast transaction in
// two calls. Initiate records the authority of one participant in an
// Artifact held by the caller; Complete adds the authority of further
// participants, signs and broadcasts.
//
// Ethereum wallets hold one key split into Shamir shares and Complete
// reconstructs it for a single signature. Bitcoin wallets hold independent
// keys behind a P2SH multisig script and Complete merges the signatures.
//
// Nothing prevents completing one artifact twice unless a CompletionGuard is
// configured.
package cosign
