package echotest

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/ethan/webrtc-core/internal/session"
	"github.com/pion/rtcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCore is a minimal session.Core double that records relayed media
// so tests can assert on the echo loop without a real Engine/Handle.
type fakeCore struct {
	mu           sync.Mutex
	relayedRTP   [][]byte
	relayedRTCP  [][]byte
	relayedData  [][]byte
	restartCalls int
	restartErr   error
}

func (f *fakeCore) PushEvent(handleID uint64, transaction string, message json.RawMessage, jsep *session.JSEP) error {
	return nil
}
func (f *fakeCore) RelayRTP(handleID uint64, video bool, buf []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.relayedRTP = append(f.relayedRTP, buf)
	return nil
}
func (f *fakeCore) RelayRTCP(handleID uint64, video bool, buf []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.relayedRTCP = append(f.relayedRTCP, buf)
	return nil
}
func (f *fakeCore) RelayData(handleID uint64, buf []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.relayedData = append(f.relayedData, buf)
	return nil
}
func (f *fakeCore) ClosePC(handleID uint64) error                                      { return nil }
func (f *fakeCore) EndSession(handleID uint64) error                                   { return nil }
func (f *fakeCore) EventsEnabled() bool                                                { return false }
func (f *fakeCore) NotifyEvent(pluginName string, handleID uint64, payload json.RawMessage) {}
func (f *fakeCore) IsSignatureValid(token string) bool                                 { return true }
func (f *fakeCore) SignatureContains(token, plugin string) bool                        { return true }
func (f *fakeCore) Restart(handleID uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restartCalls++
	return f.restartErr
}

func newPlugin(t *testing.T) (*Plugin, *fakeCore) {
	t.Helper()
	p := New()
	core := &fakeCore{}
	require.NoError(t, p.Init(core, ""))
	require.NoError(t, p.CreateSession(1))
	return p, core
}

func TestCreateSessionStartsWithAudioAndVideoOn(t *testing.T) {
	p, _ := newPlugin(t)
	raw := p.QuerySession(1)
	var st map[string]any
	require.NoError(t, json.Unmarshal(raw, &st))
	assert.Equal(t, true, st["audio"])
	assert.Equal(t, true, st["video"])
}

func TestHandleMessageTogglesAudioVideoBitrate(t *testing.T) {
	p, _ := newPlugin(t)
	resp := p.HandleMessage(1, "txn-1", json.RawMessage(`{"audio":false,"bitrate":512}`), nil)
	assert.Equal(t, session.OutcomeOK, resp.Outcome)

	raw := p.QuerySession(1)
	var st map[string]any
	require.NoError(t, json.Unmarshal(raw, &st))
	assert.Equal(t, false, st["audio"])
	assert.Equal(t, true, st["video"])
	assert.Equal(t, float64(512), st["bitrate"])
}

func TestHandleMessageWithJSEPWaits(t *testing.T) {
	p, _ := newPlugin(t)
	resp := p.HandleMessage(1, "txn-1", nil, &session.JSEP{Type: "offer", SDP: "v=0"})
	assert.Equal(t, session.OutcomeWait, resp.Outcome)
}

func TestHandleMessageUnknownSessionErrors(t *testing.T) {
	p, _ := newPlugin(t)
	resp := p.HandleMessage(99, "txn-1", nil, nil)
	assert.Equal(t, session.OutcomeError, resp.Outcome)
}

func TestHandleMessageMalformedBodyErrors(t *testing.T) {
	p, _ := newPlugin(t)
	resp := p.HandleMessage(1, "txn-1", json.RawMessage(`not-json`), nil)
	assert.Equal(t, session.OutcomeError, resp.Outcome)
}

func TestIncomingRTPHonorsVideoToggle(t *testing.T) {
	p, core := newPlugin(t)
	p.HandleMessage(1, "", json.RawMessage(`{"video":false}`), nil)

	p.IncomingRTP(1, true, []byte{1, 2, 3})  // video: toggled off, must be dropped
	p.IncomingRTP(1, false, []byte{4, 5, 6}) // audio: still on, must pass through

	core.mu.Lock()
	defer core.mu.Unlock()
	require.Len(t, core.relayedRTP, 1)
	assert.Equal(t, []byte{4, 5, 6}, core.relayedRTP[0])
}

func TestIncomingRTPRelaysWhenEnabled(t *testing.T) {
	p, core := newPlugin(t)
	p.IncomingRTP(1, true, []byte{1, 2, 3})

	core.mu.Lock()
	defer core.mu.Unlock()
	require.Len(t, core.relayedRTP, 1)
	assert.Equal(t, []byte{1, 2, 3}, core.relayedRTP[0])
}

func TestIncomingRTCPRequestsKeyframeOnPLI(t *testing.T) {
	p, core := newPlugin(t)
	pli := &rtcp.PictureLossIndication{SenderSSRC: 1, MediaSSRC: 2}
	buf, err := pli.Marshal()
	require.NoError(t, err)

	p.IncomingRTCP(1, true, buf)

	core.mu.Lock()
	defer core.mu.Unlock()
	require.Len(t, core.relayedRTCP, 1)
}

func TestIncomingDataRelays(t *testing.T) {
	p, core := newPlugin(t)
	p.IncomingData(1, []byte("hello"))

	core.mu.Lock()
	defer core.mu.Unlock()
	require.Len(t, core.relayedData, 1)
	assert.Equal(t, []byte("hello"), core.relayedData[0])
}

func TestDestroySessionRemovesState(t *testing.T) {
	p, _ := newPlugin(t)
	require.NoError(t, p.DestroySession(1))
	assert.Nil(t, p.QuerySession(1))
}

func TestPrepareOfferMirrorsSessionToggles(t *testing.T) {
	p, _ := newPlugin(t)
	p.HandleMessage(1, "", json.RawMessage(`{"video":false}`), nil)

	plan := p.PrepareOffer(1)
	assert.True(t, plan.Audio)
	assert.False(t, plan.Video)
}

func TestPrepareOfferUnknownSessionDefaultsToBoth(t *testing.T) {
	p, _ := newPlugin(t)
	plan := p.PrepareOffer(99)
	assert.True(t, plan.Audio)
	assert.True(t, plan.Video)
}

func TestHandleMessageRestartCallsCore(t *testing.T) {
	p, core := newPlugin(t)
	resp := p.HandleMessage(1, "txn-1", json.RawMessage(`{"restart":true}`), nil)
	assert.Equal(t, session.OutcomeOK, resp.Outcome)

	core.mu.Lock()
	defer core.mu.Unlock()
	assert.Equal(t, 1, core.restartCalls)
}

func TestHandleMessageRestartErrorSurfaces(t *testing.T) {
	p, core := newPlugin(t)
	core.restartErr = fmt.Errorf("ice restart failed")

	resp := p.HandleMessage(1, "txn-1", json.RawMessage(`{"restart":true}`), nil)
	assert.Equal(t, session.OutcomeError, resp.Outcome)
}
