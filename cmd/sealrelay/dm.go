package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/opd-ai/sealrelay/crypto"
	"github.com/opd-ai/sealrelay/envelope"
	"github.com/opd-ai/sealrelay/policy"
	"github.com/opd-ai/sealrelay/transport"
)

var (
	relayURLFlag = &cli.StringFlag{
		Name:    "relay",
		Usage:   "Relay websocket URL",
		Value:   "ws://127.0.0.1:7447",
		EnvVars: []string{"SEALRELAY_RELAY"},
	}
	secretFlag = &cli.StringFlag{
		Name:     "secret",
		Usage:    "Hex secret key of the local identity",
		EnvVars:  []string{"SEALRELAY_SECRET"},
		Required: true,
	}
	timeoutFlag = &cli.DurationFlag{
		Name:  "timeout",
		Usage: "Overall time limit for the relay exchange",
		Value: 30 * time.Second,
	}
	sinceFlag = &cli.DurationFlag{
		Name:  "since",
		Usage: "Only show messages sent within this duration (0 shows all)",
	}

	dmCommand = &cli.Command{
		Name:  "dm",
		Usage: "Send and read sealed direct messages",
		Subcommands: []*cli.Command{
			{
				Name:      "send",
				Usage:     "Send a direct message",
				ArgsUsage: "<recipient pubkey> <message>",
				Flags:     []cli.Flag{relayURLFlag, secretFlag, timeoutFlag},
				Action:    runDMSend,
			},
			{
				Name:   "read",
				Usage:  "Print direct messages addressed to the local identity",
				Flags:  []cli.Flag{relayURLFlag, secretFlag, timeoutFlag, sinceFlag},
				Action: runDMRead,
			},
		},
	}
)

var errUsage = errors.New("usage error")

func dmSetup(ctx *cli.Context) (*crypto.KeyPair, context.Context, context.CancelFunc, error) {
	keys, err := crypto.FromSecretHex(strings.TrimSpace(ctx.String(secretFlag.Name)))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("parse secret key: %w", err)
	}
	runCtx, cancel := context.WithTimeout(ctx.Context, ctx.Duration(timeoutFlag.Name))
	return keys, runCtx, cancel, nil
}

func runDMSend(ctx *cli.Context) error {
	if ctx.NArg() != 2 {
		return fmt.Errorf("%w: dm send takes a recipient and a message", errUsage)
	}
	recipient, content := ctx.Args().Get(0), ctx.Args().Get(1)

	keys, runCtx, cancel, err := dmSetup(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	client, err := transport.Dial(runCtx, ctx.String(relayURLFlag.Name))
	if err != nil {
		return err
	}
	defer client.Close()

	limiter, err := policy.NewRateLimiter(policy.DefaultLimits(), 16, crypto.SystemTime{})
	if err != nil {
		return err
	}
	sender, err := envelope.NewSender(keys, client,
		envelope.WithValidator(policy.NewContentValidator()),
		envelope.WithRateLimiter(limiter))
	if err != nil {
		return err
	}

	wrap, err := sender.Send(runCtx, content, recipient)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	logrus.WithFields(logrus.Fields{
		"function":  "runDMSend",
		"recipient": recipient,
	}).Debug("Direct message sent")
	_, err = fmt.Fprintf(ctx.App.Writer, "sent %s\n", wrap.Event.ID)
	return err
}

func runDMRead(ctx *cli.Context) error {
	if ctx.NArg() != 0 {
		return fmt.Errorf("%w: dm read takes no arguments", errUsage)
	}
	keys, runCtx, cancel, err := dmSetup(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	client, err := transport.Dial(runCtx, ctx.String(relayURLFlag.Name))
	if err != nil {
		return err
	}
	defer client.Close()

	wraps, err := client.Query(runCtx, uuid.NewString()[:8], *envelope.DMFilter(keys.PublicHex()))
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}

	var cutoff int64
	if d := ctx.Duration(sinceFlag.Name); d > 0 {
		cutoff = time.Now().Add(-d).Unix()
	}
	var msgs []*envelope.Message
	for _, ev := range wraps {
		msg, ok := envelope.Receive(ev, keys)
		if !ok || msg.CreatedAt < cutoff {
			continue
		}
		msgs = append(msgs, msg)
	}
	// wrap timestamps are fuzzed, so order by the rumor's time
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].CreatedAt < msgs[j].CreatedAt })

	for _, msg := range msgs {
		ts := time.Unix(msg.CreatedAt, 0).UTC().Format(time.RFC3339)
		if _, err := fmt.Fprintf(ctx.App.Writer, "%s %s: %s\n", ts, msg.SenderPubkey, msg.Content); err != nil {
			return err
		}
	}
	return nil
}
