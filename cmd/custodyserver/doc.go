// Command custodyserver serves the threshold custody API.
//
// The at-rest key that seals every share is derived from a deployment secret,
// which is obtained in one of three ways:
//
//   - --master-secret: the secret itself (hex or base64, at least 32 bytes)
//   - --master-share (repeated) with --master-threshold: shares produced by
//     `admin split-master-secret`, combined at startup
//   - --admin-keys-file: the server starts locked and serves only /admin until
//     --master-threshold administrators submit signed shares
//
// Example:
//
//	custodyserver --listen-addr=0.0.0.0:8080 \
//	    --storage=postgres://custody:pw@db:5432/custody \
//	    --kdf-salt=prod-eu-1 \
//	    --admin-keys-file=admins.json --master-threshold=3 \
//	    --eth-rpc=https://rpc.example.org --eth-chain-id=1 \
//	    --btc-rpc-host=btc:8332 --btc-network=mainnet \
//	    --completion-guard=redis --guard-redis-url=redis://redis:6379/0
package main
