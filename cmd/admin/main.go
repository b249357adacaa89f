package main

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/ruteri/mpc-custody/api/clients"
	"github.com/ruteri/mpc-custody/httpserver"
	"github.com/ruteri/mpc-custody/kms"
	"github.com/urfave/cli/v2"
)

var flagCustodyServer *cli.StringFlag = &cli.StringFlag{
	Name:    "custody-server-addr",
	Value:   "http://127.0.0.1:8080/admin",
	Usage:   "Custody server admin API address",
	EnvVars: []string{"CUSTODY_ADMIN_ADDR"},
}
var flagAdminPrivkey *cli.StringFlag = &cli.StringFlag{
	Name:  "admin-privkey-file",
	Value: "admin-private.pem",
	Usage: "Path to admin private key",
}
var flagAdminPubkey *cli.StringFlag = &cli.StringFlag{
	Name:  "admin-pubkey-file",
	Value: "admin-public.pem",
	Usage: "Path to admin public key",
}
var flagAdminsFile *cli.StringFlag = &cli.StringFlag{
	Name:  "admins-file",
	Value: "admins.json",
	Usage: "Path to the admin keys file read by the custody server",
}
var flagShareFile *cli.StringFlag = &cli.StringFlag{
	Name:  "share-file",
	Value: "master-share.json",
	Usage: "Path to a master secret share file",
}
var flagShareDir *cli.StringFlag = &cli.StringFlag{
	Name:  "share-dir",
	Value: ".",
	Usage: "Directory the master secret share files are written to",
}
var flagThreshold *cli.IntFlag = &cli.IntFlag{
	Name:  "threshold",
	Value: 2,
}
var flagTotal *cli.IntFlag = &cli.IntFlag{
	Name:  "total-shares",
	Value: 3,
}

// shareFile is the on-disk form of one master secret share.
type shareFile struct {
	Index     int    `json:"index"`
	Threshold int    `json:"threshold"`
	Share     string `json:"share"` // hex
}

func loadAdminClient(cCtx *cli.Context) (*clients.AdminClient, error) {
	publicKeyPEM, err := os.ReadFile(cCtx.String(flagAdminPubkey.Name))
	if err != nil {
		return nil, err
	}
	privateKeyPEM, err := os.ReadFile(cCtx.String(flagAdminPrivkey.Name))
	if err != nil {
		return nil, err
	}
	privateKey, err := httpserver.ParsePrivateKey(privateKeyPEM)
	if err != nil {
		return nil, err
	}
	adminID := httpserver.ComputeFingerprint(publicKeyPEM)
	return clients.NewAdminClient(cCtx.String(flagCustodyServer.Name), adminID, privateKey), nil
}

func main() {
	app := &cli.App{
		Name:           "custody-admin",
		Usage:          "Manage the deployment secret of a custody server",
		DefaultCommand: "status",
		Commands: []*cli.Command{
			{
				Name:  "status",
				Usage: "Show whether the server is locked",
				Flags: []cli.Flag{
					flagCustodyServer,
				},
				Action: func(cCtx *cli.Context) error {
					adminClient := clients.NewAdminClient(cCtx.String(flagCustodyServer.Name), "", nil)
					status, err := adminClient.GetStatus(cCtx.Context)
					if err != nil {
						return err
					}
					fmt.Printf("%s (%d/%d shares)\n", status.State, status.Received, status.Threshold)
					return nil
				},
			},
			{
				Name:  "generate-admin",
				Usage: "Generate an administrator key pair",
				Flags: []cli.Flag{
					flagAdminPrivkey,
					flagAdminPubkey,
				},
				Action: func(cCtx *cli.Context) error {
					privateKeyPEM, publicKeyPEM, err := httpserver.GenerateAdminKeyPair()
					if err != nil {
						return err
					}
					if err := os.WriteFile(cCtx.String(flagAdminPrivkey.Name), []byte(privateKeyPEM), 0600); err != nil {
						return err
					}
					return os.WriteFile(cCtx.String(flagAdminPubkey.Name), []byte(publicKeyPEM), 0600)
				},
			},
			{
				Name:  "generate-admins-config",
				Usage: "Write the admin keys file for --admin-keys-file",
				Flags: []cli.Flag{
					flagAdminsFile,
					&cli.StringSliceFlag{
						Name:     "admin-pubkey-files",
						Required: true,
					},
				},
				Action: func(cCtx *cli.Context) error {
					var config httpserver.AdminKeysFile
					for _, pubkey := range cCtx.StringSlice("admin-pubkey-files") {
						publicKeyPEM, err := os.ReadFile(pubkey)
						if err != nil {
							return err
						}
						config.Admins = append(config.Admins, httpserver.AdminKeyEntry{
							ID:     httpserver.ComputeFingerprint(publicKeyPEM),
							PubKey: string(publicKeyPEM),
						})
					}

					configBytes, err := json.MarshalIndent(config, "", "  ")
					if err != nil {
						return err
					}
					return os.WriteFile(cCtx.String(flagAdminsFile.Name), configBytes, 0600)
				},
			},
			{
				Name:        "split-master-secret",
				Usage:       "Generate a deployment secret and write one share file per administrator",
				Description: "The secret itself is never written. Pass --secret to split an existing hex secret instead.",
				Flags: []cli.Flag{
					flagShareDir,
					flagThreshold,
					flagTotal,
					&cli.StringFlag{
						Name:    "secret",
						Usage:   "existing hex secret to split",
						EnvVars: []string{"CUSTODY_MASTER_SECRET"},
					},
				},
				Action: func(cCtx *cli.Context) error {
					secret := make([]byte, kms.MinMasterSecretLen)
					if s := cCtx.String("secret"); s != "" {
						var err error
						if secret, err = hex.DecodeString(s); err != nil {
							return fmt.Errorf("invalid secret: %w", err)
						}
					} else if _, err := rand.Read(secret); err != nil {
						return err
					}
					defer func() {
						for i := range secret {
							secret[i] = 0
						}
					}()

					threshold := cCtx.Int(flagThreshold.Name)
					shares, err := kms.SplitMasterSecret(secret, threshold, cCtx.Int(flagTotal.Name))
					if err != nil {
						return err
					}

					dir := cCtx.String(flagShareDir.Name)
					for i, share := range shares {
						data, err := json.Marshal(shareFile{Index: i, Threshold: threshold, Share: hex.EncodeToString(share)})
						if err != nil {
							return err
						}
						path := filepath.Join(dir, fmt.Sprintf("master-share-%d.json", i))
						if err := os.WriteFile(path, data, 0600); err != nil {
							return err
						}
						fmt.Println(path)
					}
					return nil
				},
			},
			{
				Name:  "submit-share",
				Usage: "Submit this administrator's master secret share to a locked server",
				Flags: []cli.Flag{
					flagCustodyServer,
					flagAdminPrivkey,
					flagAdminPubkey,
					flagShareFile,
					&cli.BoolFlag{
						Name:  "wait",
						Usage: "wait until the server is unlocked",
					},
				},
				Action: func(cCtx *cli.Context) error {
					adminClient, err := loadAdminClient(cCtx)
					if err != nil {
						return err
					}

					data, err := os.ReadFile(cCtx.String(flagShareFile.Name))
					if err != nil {
						return err
					}
					var sf shareFile
					if err := json.Unmarshal(data, &sf); err != nil {
						return err
					}
					share, err := hex.DecodeString(sf.Share)
					if err != nil {
						return fmt.Errorf("invalid share encoding: %w", err)
					}
					if len(share) == 0 {
						return errors.New("empty share")
					}

					status, err := adminClient.SubmitShare(cCtx.Context, sf.Index, share, nil)
					if err != nil {
						return err
					}
					fmt.Printf("%s (%d/%d shares)\n", status.State, status.Received, status.Threshold)

					if cCtx.Bool("wait") {
						return adminClient.WaitForUnlock(cCtx.Context, 2*time.Second)
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
