package main

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
)

// Generates a random key for MEMORY_API_KEY. The hash is printed so
// deployments that keep only a digest on file can still verify the key.
func main() {
	keyBytes := make([]byte, 32)
	if _, err := rand.Read(keyBytes); err != nil {
		fmt.Fprintf(os.Stderr, "Error generating random key: %v\n", err)
		os.Exit(1)
	}

	keyString := fmt.Sprintf("mem_%s", base64.URLEncoding.EncodeToString(keyBytes))

	hasher := sha256.New()
	hasher.Write([]byte(keyString))
	keyHash := hex.EncodeToString(hasher.Sum(nil))

	fmt.Println("API Key Generation Results:")
	fmt.Println("==========================")
	fmt.Printf("Full Key:   %s\n", keyString)
	fmt.Printf("Key Hash:   %s\n", keyHash)
	fmt.Printf("\nexport MEMORY_API_KEY=%s\n", keyString)
}
