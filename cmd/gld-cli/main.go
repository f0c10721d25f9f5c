package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"strings"
	"syscall"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/term"

	"greenledger/crypto"
	"greenledger/native/bridge"
	"greenledger/native/oracle"
)

const usage = `gld-cli <command> [flags]

Commands:
  keygen            Generate a validator key and save it to an encrypted keystore
  address           Print the account and validator addresses for a keystore
  attest            Sign a bridge release attestation
  quote-sign        Sign an oracle price submission
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
	var err error
	switch os.Args[1] {
	case "keygen":
		err = runKeygen(os.Args[2:])
	case "address":
		err = runAddress(os.Args[2:])
	case "attest":
		err = runAttest(os.Args[2:])
	case "quote-sign":
		err = runQuoteSign(os.Args[2:])
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func readPassphrase(confirm bool) (string, error) {
	fmt.Fprint(os.Stderr, "Passphrase: ")
	pass, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	if confirm {
		fmt.Fprint(os.Stderr, "Confirm passphrase: ")
		again, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		if string(pass) != string(again) {
			return "", fmt.Errorf("passphrases do not match")
		}
	}
	return string(pass), nil
}

func runKeygen(args []string) error {
	fs := flag.NewFlagSet("keygen", flag.ExitOnError)
	out := fs.String("out", "validator.keystore", "Keystore output path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return err
	}
	pass, err := readPassphrase(true)
	if err != nil {
		return err
	}
	if err := crypto.SaveToKeystore(*out, key, pass); err != nil {
		return err
	}
	fmt.Printf("account:   %s\n", key.PubKey().Address())
	fmt.Printf("validator: %s\n", key.PubKey().ValidatorAddress())
	fmt.Printf("keystore:  %s\n", *out)
	return nil
}

func runAddress(args []string) error {
	fs := flag.NewFlagSet("address", flag.ExitOnError)
	path := fs.String("keystore", "validator.keystore", "Keystore path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	pass, err := readPassphrase(false)
	if err != nil {
		return err
	}
	key, err := crypto.LoadFromKeystore(*path, pass)
	if err != nil {
		return err
	}
	fmt.Printf("account:   %s\n", key.PubKey().Address())
	fmt.Printf("validator: %s\n", key.PubKey().ValidatorAddress())
	return nil
}

func runAttest(args []string) error {
	fs := flag.NewFlagSet("attest", flag.ExitOnError)
	path := fs.String("keystore", "validator.keystore", "Keystore path")
	txIDHex := fs.String("tx", "", "Transaction identifier (32 hex-encoded bytes)")
	chain := fs.String("chain", "", "Target chain identifier")
	recipient := fs.String("recipient", "", "Recipient on the target chain")
	amount := fs.String("amount", "", "Transfer amount in wei")
	if err := fs.Parse(args); err != nil {
		return err
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(*txIDHex, "0x"))
	if err != nil || len(raw) != 32 {
		return fmt.Errorf("tx must be 32 hex-encoded bytes")
	}
	var txID [32]byte
	copy(txID[:], raw)
	if *chain == "" || *recipient == "" || *amount == "" {
		return fmt.Errorf("chain, recipient and amount are required")
	}
	pass, err := readPassphrase(false)
	if err != nil {
		return err
	}
	key, err := crypto.LoadFromKeystore(*path, pass)
	if err != nil {
		return err
	}
	digest := bridge.AttestationDigest(txID, *chain, *recipient, *amount)
	sig, err := key.Sign(digest[:])
	if err != nil {
		return err
	}
	fmt.Printf("domain:    %s\n", bridge.AttestDomainV1)
	fmt.Printf("signature: %s\n", hex.EncodeToString(sig))
	return nil
}

func runQuoteSign(args []string) error {
	fs := flag.NewFlagSet("quote-sign", flag.ExitOnError)
	path := fs.String("keystore", "validator.keystore", "Keystore path")
	source := fs.String("source", "", "Oracle source name")
	asset := fs.String("asset", "", "Collateral asset identifier")
	rateStr := fs.String("rate", "", "Price as a decimal, e.g. 12.50")
	ts := fs.Int64("timestamp", 0, "Observation unix timestamp")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *source == "" || *asset == "" || *rateStr == "" || *ts == 0 {
		return fmt.Errorf("source, asset, rate and timestamp are required")
	}
	pass, err := readPassphrase(false)
	if err != nil {
		return err
	}
	key, err := crypto.LoadFromKeystore(*path, pass)
	if err != nil {
		return err
	}
	submission, err := oracle.NewQuoteSubmission(oracle.QuoteDomainV1, *source, *asset, *rateStr, *ts, make([]byte, 65))
	if err != nil {
		return err
	}
	digest, err := submission.Hash()
	if err != nil {
		return err
	}
	sig, err := key.Sign(digest)
	if err != nil {
		return err
	}
	fmt.Printf("domain:    %s\n", oracle.QuoteDomainV1)
	fmt.Printf("signer:    0x%s\n", hex.EncodeToString(ethcrypto.PubkeyToAddress(key.PrivateKey.PublicKey).Bytes()))
	fmt.Printf("signature: %s\n", hex.EncodeToString(sig))
	return nil
}
