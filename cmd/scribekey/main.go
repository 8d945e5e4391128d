// scribekey generates Ed25519 key pairs and builds signed transactions
// ready to submit through scribectl or the HTTP API. Private keys are
// stored as a single hex-encoded seed in a plain file; custody beyond file
// permissions is out of scope.
package main

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"

	"github.com/scribechain/scribed/chainmodel"
)

type config struct {
	KeyFile string `long:"keyfile" short:"f" description:"Path to the private key file" default:"scribe.key"`
	Nonce   uint64 `long:"nonce" description:"Account nonce for the transaction being built (next expected = confirmed + 1)"`
	GasFee  uint64 `long:"gasfee" description:"Gas fee to attach" default:"1"`
	Args    struct {
		Command string   `positional-arg-name:"command" description:"One of: generate, show-pubkey, post, reply, endorse, transfer"`
		Params  []string `positional-arg-name:"params"`
	} `positional-args:"yes" required:"yes"`
}

func main() {
	cfg := &config{}
	parser := flags.NewParser(cfg, flags.PrintErrors|flags.HelpFlag)
	if _, err := parser.Parse(); err != nil {
		os.Exit(1)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "scribekey: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config) error {
	switch cfg.Args.Command {
	case "generate":
		return generate(cfg.KeyFile)
	case "show-pubkey":
		_, pub, err := loadKey(cfg.KeyFile)
		if err != nil {
			return err
		}
		fmt.Println(hex.EncodeToString(pub))
		return nil
	case "post":
		return buildPost(cfg, nil)
	case "reply":
		if len(cfg.Args.Params) < 2 {
			return errors.New("reply requires <parent-post-hash> <body>")
		}
		parent, err := parseHash(cfg.Args.Params[0])
		if err != nil {
			return err
		}
		cfg.Args.Params = cfg.Args.Params[1:]
		return buildPost(cfg, &parent)
	case "endorse":
		return buildEndorse(cfg)
	case "transfer":
		return buildTransfer(cfg)
	default:
		return errors.Errorf("unknown command %q", cfg.Args.Command)
	}
}

func generate(keyFile string) error {
	if _, err := os.Stat(keyFile); err == nil {
		return errors.Errorf("%s already exists, refusing to overwrite", keyFile)
	}
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return err
	}
	seed := priv.Seed()
	if err := os.WriteFile(keyFile, []byte(hex.EncodeToString(seed)+"\n"), 0600); err != nil {
		return err
	}
	fmt.Printf("wrote %s\npubkey: %s\n", keyFile, hex.EncodeToString(pub))
	return nil
}

func loadKey(keyFile string) (ed25519.PrivateKey, ed25519.PublicKey, error) {
	raw, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, nil, err
	}
	seed, err := hex.DecodeString(string(bytes.TrimSpace(raw)))
	if err != nil || len(seed) != ed25519.SeedSize {
		return nil, nil, errors.Errorf("%s does not contain a hex-encoded Ed25519 seed", keyFile)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return priv, priv.Public().(ed25519.PublicKey), nil
}

func buildPost(cfg *config, replyTo *chainmodel.Hash) error {
	if len(cfg.Args.Params) < 1 {
		return errors.New("post requires <body>")
	}
	priv, pub, err := loadKey(cfg.KeyFile)
	if err != nil {
		return err
	}
	var author chainmodel.PubKey
	copy(author[:], pub)
	tx := chainmodel.Transaction{
		Kind: chainmodel.KindPost,
		Post: &chainmodel.PostTx{
			Author:    author,
			Nonce:     cfg.Nonce,
			Timestamp: uint64(time.Now().Unix()),
			Body:      cfg.Args.Params[0],
			ReplyTo:   replyTo,
			GasFee:    cfg.GasFee,
		},
	}
	return signAndPrint(&tx, priv)
}

func buildEndorse(cfg *config) error {
	if len(cfg.Args.Params) < 2 {
		return errors.New("endorse requires <post-hash> <amount> [message]")
	}
	priv, pub, err := loadKey(cfg.KeyFile)
	if err != nil {
		return err
	}
	target, err := parseHash(cfg.Args.Params[0])
	if err != nil {
		return err
	}
	var amount uint64
	if _, err := fmt.Sscanf(cfg.Args.Params[1], "%d", &amount); err != nil {
		return errors.Errorf("amount %q is not a number", cfg.Args.Params[1])
	}
	message := ""
	if len(cfg.Args.Params) > 2 {
		message = cfg.Args.Params[2]
	}
	var author chainmodel.PubKey
	copy(author[:], pub)
	tx := chainmodel.Transaction{
		Kind: chainmodel.KindEndorse,
		Endorse: &chainmodel.EndorseTx{
			Author:  author,
			Nonce:   cfg.Nonce,
			Target:  target,
			Amount:  amount,
			Message: message,
			GasFee:  cfg.GasFee,
		},
	}
	return signAndPrint(&tx, priv)
}

func buildTransfer(cfg *config) error {
	if len(cfg.Args.Params) < 2 {
		return errors.New("transfer requires <recipient-pubkey> <amount>")
	}
	priv, pub, err := loadKey(cfg.KeyFile)
	if err != nil {
		return err
	}
	recipientRaw, err := hex.DecodeString(cfg.Args.Params[0])
	if err != nil || len(recipientRaw) != 32 {
		return errors.New("recipient must be 64 hex characters")
	}
	var amount uint64
	if _, err := fmt.Sscanf(cfg.Args.Params[1], "%d", &amount); err != nil {
		return errors.Errorf("amount %q is not a number", cfg.Args.Params[1])
	}
	var sender, recipient chainmodel.PubKey
	copy(sender[:], pub)
	copy(recipient[:], recipientRaw)
	tx := chainmodel.Transaction{
		Kind: chainmodel.KindTransfer,
		Transfer: &chainmodel.TransferTx{
			Sender:    sender,
			Recipient: recipient,
			Amount:    amount,
			Nonce:     cfg.Nonce,
			GasFee:    cfg.GasFee,
		},
	}
	return signAndPrint(&tx, priv)
}

func signAndPrint(tx *chainmodel.Transaction, priv ed25519.PrivateKey) error {
	tx.Sign(priv)
	fmt.Printf("hash:  %s\nrawTx: %s\n", tx.Hash(), hex.EncodeToString(tx.CanonicalFullBytes()))
	return nil
}

func parseHash(s string) (chainmodel.Hash, error) {
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != 32 {
		return chainmodel.Hash{}, errors.Errorf("%q is not a 32-byte hex hash", s)
	}
	var h chainmodel.Hash
	copy(h[:], raw)
	return h, nil
}
