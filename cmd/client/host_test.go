package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/skip2/go-qrcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnnounceRoom(t *testing.T) {
	qrFile := filepath.Join(t.TempDir(), "room.png")

	var out bytes.Buffer
	announceRoom(&out, "k3m9pq", qrFile)
	assert.Contains(t, out.String(), "Room code: K3M9PQ\n")
	assert.Contains(t, out.String(), "QR code written to "+qrFile)

	want, err := qrcode.Encode("K3M9PQ", qrcode.Medium, qrSize)
	require.NoError(t, err)
	got, err := os.ReadFile(qrFile)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestAnnounceRoom_withoutQRFile(t *testing.T) {
	var out bytes.Buffer
	announceRoom(&out, "ab23cd", "")
	assert.Equal(t, "Room code: AB23CD\n", out.String())
}
