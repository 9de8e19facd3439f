// Command swarmkeygen generates an Ed25519 keypair for a swarmd node and
// prints it as a ready-to-source .env fragment of base64-encoded keys. With
// -out, the private key is written to that file and the fragment names the
// file path instead of the key.
package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"flag"
	"fmt"
	"os"
)

func main() {
	outPath := flag.String("out", "", "write the private key to this file instead of stdout")
	flag.Parse()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		fmt.Fprintln(os.Stderr, "generating keypair:", err)
		os.Exit(1)
	}

	pubB64 := base64.StdEncoding.EncodeToString(pub)
	privB64 := base64.StdEncoding.EncodeToString(priv)

	if *outPath != "" {
		if err := os.WriteFile(*outPath, []byte(privB64+"\n"), 0600); err != nil {
			fmt.Fprintln(os.Stderr, "writing private key:", err)
			os.Exit(1)
		}
		fmt.Printf("AGENT_PUBLIC_KEY=%s\n", pubB64)
		fmt.Printf("AGENT_PRIVATE_KEY_PATH=%s\n", *outPath)
		return
	}

	fmt.Printf("AGENT_PUBLIC_KEY=%s\n", pubB64)
	fmt.Printf("AGENT_PRIVATE_KEY=%s\n", privB64)
}
