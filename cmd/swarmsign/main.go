// Command swarmsign signs an arbitrary envelope's canonical payload with a
// configured Ed25519 private key, useful for crafting test envelopes and
// reproducing a node's signature offline.
package main

import (
	"crypto/ed25519"
	"encoding/base64"
	"flag"
	"fmt"
	"os"

	"github.com/finml-sage/agent-swarm-protocol/internal/crypto"
)

func main() {
	privB64 := flag.String("priv", "", "base64 Ed25519 private key (required)")
	messageID := flag.String("message-id", "", "envelope message_id (required)")
	timestamp := flag.Int64("timestamp", 0, "envelope timestamp, unix seconds (required)")
	swarmID := flag.String("swarm-id", "", "envelope swarm_id (required)")
	recipient := flag.String("recipient", "", "envelope recipient agent_id")
	msgType := flag.String("type", "message", "envelope type")
	content := flag.String("content", "", "envelope content")
	flag.Parse()

	if *privB64 == "" || *messageID == "" || *timestamp == 0 || *swarmID == "" {
		fmt.Fprintln(os.Stderr, "usage: swarmsign -priv <b64> -message-id <id> -timestamp <unix> -swarm-id <id> [-recipient <id>] [-type <type>] [-content <text>]")
		os.Exit(2)
	}

	rawPriv, err := base64.StdEncoding.DecodeString(*privB64)
	if err != nil || len(rawPriv) != ed25519.PrivateKeySize {
		fmt.Fprintln(os.Stderr, "invalid private key:", err)
		os.Exit(1)
	}
	priv := ed25519.PrivateKey(rawPriv)

	payload := crypto.CanonicalPayload(*messageID, *timestamp, *swarmID, *recipient, *msgType, *content)
	sig := crypto.Sign(priv, payload)

	fmt.Println(sig)
}
