// Command custodyctl is a command line client for the custody wallet API.
//
// A transfer is two calls by different participants, with the artifact passed
// between them as a file:
//
//	custodyctl initiate --wallet=$W --participant=0 --to=0x... --amount=1000000000000000
//	custodyctl complete --participant=1
//
// If the chain node rejects the broadcast, complete saves the signed artifact
// and it can be resubmitted with `custodyctl rebroadcast`.
package main
