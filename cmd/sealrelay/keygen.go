package main

import (
	"encoding/json"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/opd-ai/sealrelay/crypto"
)

var (
	jsonFlag = &cli.BoolFlag{
		Name:  "json",
		Usage: "Print the key pair as JSON",
	}

	keygenCommand = &cli.Command{
		Name:   "keygen",
		Usage:  "Generate a new key pair",
		Flags:  []cli.Flag{jsonFlag},
		Action: runKeygen,
		Description: `
The keygen command prints a fresh secret key and its x-only public key, both
hex encoded. Keep the secret key private.`,
	}
)

type keyOutput struct {
	Secret string `json:"secret"`
	Public string `json:"public"`
}

func runKeygen(ctx *cli.Context) error {
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		return fmt.Errorf("generate key pair: %w", err)
	}
	defer crypto.ZeroBytes(kp.Private[:])

	out := keyOutput{Secret: kp.SecretHex(), Public: kp.PublicHex()}
	if ctx.Bool(jsonFlag.Name) {
		enc := json.NewEncoder(ctx.App.Writer)
		return enc.Encode(out)
	}
	_, err = fmt.Fprintf(ctx.App.Writer, "secret: %s\npublic: %s\n", out.Secret, out.Public)
	return err
}
