package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "test.ini")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, "[general]\nstun_server = stun.example.com\n")

	snap, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "stun.example.com", snap.General.STUNServer)
	assert.Equal(t, 3478, snap.General.STUNPort)
	assert.Equal(t, TurnUDP, snap.General.TURNType)
	assert.Equal(t, 300, snap.Media.NackQueueSize)
	assert.Equal(t, 60, snap.Media.NoMediaTimer)
	assert.False(t, snap.Media.NoMediaHangup)
}

func TestLoadParsesAllSections(t *testing.T) {
	path := writeTempConfig(t, `
[general]
stun_server = stun.example.com
stun_port = 3479
turn_server = turn.example.com
turn_type = tls

[media]
rtp_port_range = 20000-20100
ice_lite = true
rfc4588 = true

[nat]
enforce_interface = eth0,eth1
nat_1_1_mapping = 203.0.113.5

[auth]
token_auth = true
token_secret = s3cret

[plugins]
disable = plugin.recordplay

[transports]
disable = http
`)

	snap, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 3479, snap.General.STUNPort)
	assert.Equal(t, TurnTLS, snap.General.TURNType)
	assert.Equal(t, uint16(20000), snap.Media.RTPPortMin)
	assert.Equal(t, uint16(20100), snap.Media.RTPPortMax)
	assert.True(t, snap.Media.ICELite)
	assert.True(t, snap.Media.RFC4588)
	assert.Equal(t, []string{"eth0", "eth1"}, snap.NAT.EnforceInterface)
	assert.Equal(t, "203.0.113.5", snap.NAT.NAT1To1Mapping)
	assert.True(t, snap.Auth.TokenAuth)
	assert.Equal(t, "s3cret", snap.Auth.TokenSecret)
	assert.Equal(t, []string{"plugin.recordplay"}, snap.Plugins.Disable)
	assert.Equal(t, []string{"http"}, snap.Transports.Disable)
}

func TestValidateRejectsTokenAuthWithoutSecret(t *testing.T) {
	snap := &Snapshot{Auth: Auth{TokenAuth: true}}
	assert.Error(t, snap.Validate())
}

func TestValidateRejectsInvertedPortRange(t *testing.T) {
	snap := &Snapshot{Media: Media{RTPPortMin: 30000, RTPPortMax: 20000}}
	assert.Error(t, snap.Validate())
}

func TestStoreReplaceIsVisibleToLoad(t *testing.T) {
	first := &Snapshot{General: General{STUNServer: "a"}}
	second := &Snapshot{General: General{STUNServer: "b"}}

	store := NewStore(first)
	assert.Equal(t, "a", store.Load().General.STUNServer)

	store.Replace(second)
	assert.Equal(t, "b", store.Load().General.STUNServer)
}
