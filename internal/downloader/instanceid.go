package downloader

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"strconv"
)

// PartialSuffix ends the name of every image file still being written.
const PartialSuffix = ".part"

// GenerateInstanceID returns a unique string for this process (hostname+pid+random).
// Partial files carry it so two processes sharing a download directory never
// write to the same temporary file.
func GenerateInstanceID() string {
	host, _ := os.Hostname()
	rnd := make([]byte, 4)
	_, _ = rand.Read(rnd)

	return host + "-" + strconv.Itoa(os.Getpid()) + "-" + hex.EncodeToString(rnd)
}

func partialPath(path, instanceID string) string {
	return path + "." + instanceID + PartialSuffix
}
