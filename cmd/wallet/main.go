package main

import (
	"errors"
	"os"

	"github.com/pterm/pterm"
	"github.com/urfave/cli/v2"

	"github.com/bartossh/Ticketeer/logo"
	"github.com/bartossh/Ticketeer/wallet"
)

const usage = `Wallet CLI tool for ticket holders. It creates a new Wallet stored in PEM files, shows the Wallet address
and public key and signs the redemption challenge token so the ticket can be redeemed at the event entrance.
Keep the private key file secret.`

const defaultPem = "wallet"

var errTokenMissing = errors.New("please provide the challenge token to sign as the argument: sign <token>")

func main() {
	logo.Display()

	var pem string

	app := &cli.App{
		Name:  "wallet",
		Usage: usage,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "pem",
				Aliases:     []string{"p"},
				Value:       defaultPem,
				Usage:       "Wallet PEM `FILE` path. Your path shall look like that 'path/to/wallet' and the files are 'wallet' and 'wallet.pub'.",
				Destination: &pem,
			},
		},
		Commands: []*cli.Command{
			{
				Name:    "new",
				Aliases: []string{"n"},
				Usage:   "Creates new wallet and saves it to PEM files.",
				Action: func(_ *cli.Context) error {
					w, err := wallet.New()
					if err != nil {
						return err
					}
					if err := w.SaveToPem(pem); err != nil {
						return err
					}
					printWallet(&w)
					pterm.Info.Println("----------")
					pterm.Info.Println(" SUCCESS !")
					pterm.Info.Println("----------")
					return nil
				},
			},
			{
				Name:    "show",
				Aliases: []string{"s"},
				Usage:   "Reads PEM files and prints the wallet address and public key.",
				Action: func(_ *cli.Context) error {
					w, err := wallet.ReadFromPem(pem)
					if err != nil {
						return err
					}
					printWallet(&w)
					return nil
				},
			},
			{
				Name:      "sign",
				Usage:     "Signs the redemption challenge token and prints the hex encoded signature.",
				ArgsUsage: "<token>",
				Action: func(c *cli.Context) error {
					token := c.Args().First()
					if token == "" {
						return errTokenMissing
					}
					w, err := wallet.ReadFromPem(pem)
					if err != nil {
						return err
					}
					pterm.Info.Printf("Public key: %s\n", w.PublicKeyHex())
					pterm.Info.Printf("Signature: %s\n", w.SignHex([]byte(token)))
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		pterm.Error.Println(err.Error())
	}
}

func printWallet(w *wallet.Wallet) {
	pterm.Info.Printf("Address: %s\n", w.Address())
	pterm.Info.Printf("Public key: %s\n", w.PublicKeyHex())
}
