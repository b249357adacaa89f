// Package chain implements interfaces.ChainGateway for the supported chain
// families: an Ethereum JSON-RPC node, a Bitcoin Core compatible node, and a
// testify mock for tests.
package chain
