// scribectl is a small command-line client for a scribed node's HTTP API.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/jessevdk/go-flags"
)

type config struct {
	RPCServer string `long:"rpcserver" short:"s" description:"Address of the scribed HTTP API" default:"127.0.0.1:8645"`
	Args      struct {
		Command string   `positional-arg-name:"command" description:"One of: tip, block, tx, account, mempool, submit, merkle-proof, state-proof"`
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
		fmt.Fprintf(os.Stderr, "scribectl: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config) error {
	client := &http.Client{Timeout: 30 * time.Second}
	base := "http://" + cfg.RPCServer

	arg := func(i int, name string) (string, error) {
		if i >= len(cfg.Args.Params) {
			return "", fmt.Errorf("%s requires a %s argument", cfg.Args.Command, name)
		}
		return cfg.Args.Params[i], nil
	}

	switch cfg.Args.Command {
	case "tip":
		return get(client, base+"/tip")
	case "block":
		id, err := arg(0, "height-or-hash")
		if err != nil {
			return err
		}
		return get(client, base+"/block/"+id)
	case "tx":
		hash, err := arg(0, "hash")
		if err != nil {
			return err
		}
		return get(client, base+"/tx/"+hash)
	case "account":
		pubkey, err := arg(0, "pubkey")
		if err != nil {
			return err
		}
		return get(client, base+"/account/"+pubkey)
	case "mempool":
		return get(client, base+"/mempool")
	case "merkle-proof":
		hash, err := arg(0, "hash")
		if err != nil {
			return err
		}
		return get(client, base+"/proof/tx/"+hash)
	case "state-proof":
		pubkey, err := arg(0, "pubkey")
		if err != nil {
			return err
		}
		return get(client, base+"/proof/state/"+pubkey)
	case "submit":
		rawTx, err := arg(0, "hex-encoded transaction")
		if err != nil {
			return err
		}
		body, err := json.Marshal(map[string]string{"rawTx": rawTx})
		if err != nil {
			return err
		}
		resp, err := client.Post(base+"/tx", "application/json", bytes.NewReader(body))
		if err != nil {
			return err
		}
		return printResponse(resp)
	default:
		return fmt.Errorf("unknown command %q", cfg.Args.Command)
	}
}

func get(client *http.Client, url string) error {
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	return printResponse(resp)
}

func printResponse(resp *http.Response) error {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	var indented bytes.Buffer
	if json.Indent(&indented, body, "", "  ") == nil {
		body = indented.Bytes()
	}
	fmt.Println(string(body))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return nil
}
