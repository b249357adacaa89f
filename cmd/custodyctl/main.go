package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/big"
	"os"

	"github.com/ruteri/mpc-custody/api/clients"
	"github.com/ruteri/mpc-custody/cosign"
	"github.com/ruteri/mpc-custody/interfaces"
	"github.com/urfave/cli/v2"
)

var flagServer = &cli.StringFlag{
	Name:    "server",
	Value:   "http://127.0.0.1:8080",
	Usage:   "custody server address",
	EnvVars: []string{"CUSTODY_SERVER"},
}
var flagWallet = &cli.StringFlag{
	Name:     "wallet",
	Required: true,
}
var flagArtifact = &cli.StringFlag{
	Name:  "artifact-file",
	Value: "artifact.json",
	Usage: "where the transaction artifact is read from and written to",
}
var flagParticipant = &cli.IntFlag{
	Name:  "participant",
	Usage: "zero based participant index",
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func readArtifact(path string) (*cosign.Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var art cosign.Artifact
	if err := json.Unmarshal(data, &art); err != nil {
		return nil, fmt.Errorf("invalid artifact file: %w", err)
	}
	return &art, nil
}

func writeArtifact(path string, art *cosign.Artifact) error {
	data, err := json.MarshalIndent(art, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// keepFinalized saves the artifact carried by a transmission failure so the
// signed transaction can be rebroadcast.
func keepFinalized(path string, err error) error {
	var apiErr *clients.APIError
	if errors.As(err, &apiErr) && apiErr.Artifact != nil && apiErr.Artifact.State == cosign.StateFinalized {
		if werr := writeArtifact(path, apiErr.Artifact); werr != nil {
			return errors.Join(err, werr)
		}
		return fmt.Errorf("%w (signed transaction saved to %s, run rebroadcast)", err, path)
	}
	return err
}

func main() {
	app := &cli.App{
		Name:  "custodyctl",
		Usage: "Call the custody wallet API",
		Flags: []cli.Flag{flagServer},
		Commands: []*cli.Command{
			{
				Name:  "create-wallet",
				Usage: "Create a wallet",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "chain", Value: "ethereum"},
					&cli.IntFlag{Name: "threshold", Value: 2},
					&cli.IntFlag{Name: "total-shares", Value: 3},
				},
				Action: func(cCtx *cli.Context) error {
					chain, err := interfaces.ParseChain(cCtx.String("chain"))
					if err != nil {
						return err
					}
					client := clients.NewWalletClient(cCtx.String(flagServer.Name))
					wallet, err := client.CreateWallet(cCtx.Context, cCtx.Int("threshold"), cCtx.Int("total-shares"), chain)
					if err != nil {
						return err
					}
					return printJSON(wallet)
				},
			},
			{
				Name:  "wallet",
				Usage: "Show the public information of a wallet",
				Flags: []cli.Flag{flagWallet},
				Action: func(cCtx *cli.Context) error {
					client := clients.NewWalletClient(cCtx.String(flagServer.Name))
					info, err := client.GetWallet(cCtx.Context, cCtx.String(flagWallet.Name))
					if err != nil {
						return err
					}
					return printJSON(info)
				},
			},
			{
				Name:  "initiate",
				Usage: "Start a transfer with the first participant's share",
				Flags: []cli.Flag{
					flagWallet,
					flagArtifact,
					flagParticipant,
					&cli.StringFlag{Name: "to", Required: true},
					&cli.StringFlag{Name: "amount", Required: true, Usage: "base units (wei, satoshi)"},
				},
				Action: func(cCtx *cli.Context) error {
					amount, ok := new(big.Int).SetString(cCtx.String("amount"), 10)
					if !ok {
						return fmt.Errorf("invalid amount %q", cCtx.String("amount"))
					}
					client := clients.NewWalletClient(cCtx.String(flagServer.Name))
					art, err := client.InitiateTransaction(cCtx.Context, cCtx.String(flagWallet.Name), cCtx.String("to"), amount, cCtx.Int(flagParticipant.Name))
					if err != nil {
						return err
					}
					return writeArtifact(cCtx.String(flagArtifact.Name), art)
				},
			},
			{
				Name:  "complete",
				Usage: "Authorize a transfer with further participants and broadcast it",
				Flags: []cli.Flag{
					flagArtifact,
					flagParticipant,
					&cli.IntSliceFlag{Name: "additional-participant"},
				},
				Action: func(cCtx *cli.Context) error {
					path := cCtx.String(flagArtifact.Name)
					art, err := readArtifact(path)
					if err != nil {
						return err
					}
					client := clients.NewWalletClient(cCtx.String(flagServer.Name))
					resp, err := client.CompleteTransaction(cCtx.Context, art, cCtx.Int(flagParticipant.Name), cCtx.IntSlice("additional-participant")...)
					if err != nil {
						return keepFinalized(path, err)
					}
					if err := writeArtifact(path, resp.Artifact); err != nil {
						return err
					}
					fmt.Println(resp.TxID)
					return nil
				},
			},
			{
				Name:  "rebroadcast",
				Usage: "Resubmit a signed transaction",
				Flags: []cli.Flag{flagArtifact},
				Action: func(cCtx *cli.Context) error {
					path := cCtx.String(flagArtifact.Name)
					art, err := readArtifact(path)
					if err != nil {
						return err
					}
					client := clients.NewWalletClient(cCtx.String(flagServer.Name))
					resp, err := client.Rebroadcast(cCtx.Context, art)
					if err != nil {
						return keepFinalized(path, err)
					}
					if err := writeArtifact(path, resp.Artifact); err != nil {
						return err
					}
					fmt.Println(resp.TxID)
					return nil
				},
			},
			{
				Name:  "tx-status",
				Usage: "Show the chain status of a transaction",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "chain", Value: "ethereum"},
					&cli.StringFlag{Name: "tx", Required: true},
				},
				Action: func(cCtx *cli.Context) error {
					chain, err := interfaces.ParseChain(cCtx.String("chain"))
					if err != nil {
						return err
					}
					client := clients.NewWalletClient(cCtx.String(flagServer.Name))
					status, err := client.TransactionStatus(cCtx.Context, chain, interfaces.TransactionID(cCtx.String("tx")))
					if err != nil {
						return err
					}
					fmt.Println(status)
					return nil
				},
			},
			{
				Name:  "revoke-share",
				Usage: "Revoke one participant's share",
				Flags: []cli.Flag{flagWallet, flagParticipant},
				Action: func(cCtx *cli.Context) error {
					client := clients.NewWalletClient(cCtx.String(flagServer.Name))
					revoked, err := client.RevokeShare(cCtx.Context, cCtx.String(flagWallet.Name), cCtx.Int(flagParticipant.Name))
					if err != nil {
						return err
					}
					if !revoked {
						fmt.Println("share was not active")
					}
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
