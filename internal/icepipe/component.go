package icepipe

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/pion/datachannel"
	"github.com/pion/dtls/v3"
	"github.com/pion/ice/v4"
	pionlog "github.com/pion/logging"
	"github.com/pion/sctp"
	"github.com/pion/srtp/v3"
)

// State is the per-Component transport state machine (spec §4.6).
type State int

const (
	StateDisconnected State = iota
	StateGathering
	StateConnecting
	StateConnected
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateGathering:
		return "gathering"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// DTLSRole selects which side drives the DTLS handshake, derived by the
// caller from the remote SDP's a=setup attribute (spec §4.6).
type DTLSRole int

const (
	DTLSRoleClient DTLSRole = iota
	DTLSRoleServer
)

// Config configures a Component's underlying ICE agent.
type Config struct {
	Urls          []*ice.URL
	PortMin       uint16
	PortMax       uint16
	Lite          bool
	Controlling   bool
	NetworkTypes  []ice.NetworkType
	LoggerFactory pionlog.LoggerFactory
}

// Component wraps one ICE agent, its selected-pair connection, the RFC
// 7983 demultiplexer over it, the DTLS handshake, and the resulting SRTP
// read/write contexts (spec §3's Component, §4.6).
type Component struct {
	mu sync.Mutex

	cfg   Config
	agent *ice.Agent
	state State

	conn  net.Conn
	demux *Demux

	dtlsConn     *dtls.Conn
	srtpSession  *srtp.SessionSRTP
	srtcpSession *srtp.SessionSRTCP

	sctpAssoc   *sctp.Association
	dataChannel *datachannel.DataChannel

	onCandidate   func(ice.Candidate)
	onStateChange func(State)
}

// NewComponent creates the ICE agent for one Component and wires its
// candidate/state callbacks.
func NewComponent(cfg Config) (*Component, error) {
	agentCfg := &ice.AgentConfig{
		Urls:          cfg.Urls,
		PortMin:       cfg.PortMin,
		PortMax:       cfg.PortMax,
		Lite:          cfg.Lite,
		NetworkTypes:  cfg.NetworkTypes,
		LoggerFactory: cfg.LoggerFactory,
	}
	agent, err := ice.NewAgent(agentCfg)
	if err != nil {
		return nil, fmt.Errorf("icepipe: create ice agent: %w", err)
	}

	c := &Component{cfg: cfg, agent: agent, state: StateDisconnected}

	if err := agent.OnCandidate(func(cand ice.Candidate) {
		c.mu.Lock()
		cb := c.onCandidate
		c.mu.Unlock()
		if cb != nil {
			cb(cand)
		}
	}); err != nil {
		return nil, fmt.Errorf("icepipe: register candidate handler: %w", err)
	}

	if err := agent.OnConnectionStateChange(func(s ice.ConnectionState) {
		c.setState(stateFromICE(s))
	}); err != nil {
		return nil, fmt.Errorf("icepipe: register state handler: %w", err)
	}

	return c, nil
}

func stateFromICE(s ice.ConnectionState) State {
	switch s {
	case ice.ConnectionStateChecking:
		return StateConnecting
	case ice.ConnectionStateConnected, ice.ConnectionStateCompleted:
		return StateConnected
	case ice.ConnectionStateDisconnected:
		return StateDisconnected
	case ice.ConnectionStateFailed, ice.ConnectionStateClosed:
		return StateFailed
	default:
		return StateGathering
	}
}

func (c *Component) setState(s State) {
	c.mu.Lock()
	// Ready is set explicitly by startSRTP and must not be downgraded by
	// a stale ICE callback firing after DTLS has already completed.
	if c.state == StateReady && s == StateConnected {
		c.mu.Unlock()
		return
	}
	c.state = s
	cb := c.onStateChange
	c.mu.Unlock()
	if cb != nil {
		cb(s)
	}
}

// State returns the current transport state.
func (c *Component) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnCandidate registers the callback invoked for every locally gathered
// candidate, including the nil end-of-candidates sentinel.
func (c *Component) OnCandidate(f func(ice.Candidate)) {
	c.mu.Lock()
	c.onCandidate = f
	c.mu.Unlock()
}

// OnStateChange registers the callback invoked on every state transition.
func (c *Component) OnStateChange(f func(State)) {
	c.mu.Lock()
	c.onStateChange = f
	c.mu.Unlock()
}

// GatherCandidates begins local candidate gathering.
func (c *Component) GatherCandidates() error {
	c.setState(StateGathering)
	return c.agent.GatherCandidates()
}

// LocalCredentials returns this Component's local ICE ufrag/pwd.
func (c *Component) LocalCredentials() (ufrag, pwd string, err error) {
	return c.agent.GetLocalUserCredentials()
}

// Restart regenerates this Component's local ICE ufrag/pwd and
// retriggers candidate gathering, leaving the demux/DTLS/SRTP state
// above it untouched (spec §4.6 ICE restart). Callers fold the returned
// credentials into a freshly rendered local SDP.
func (c *Component) Restart() (ufrag, pwd string, err error) {
	if err := c.agent.Restart("", ""); err != nil {
		return "", "", fmt.Errorf("icepipe: ice restart: %w", err)
	}
	c.setState(StateGathering)
	if err := c.agent.GatherCandidates(); err != nil {
		return "", "", fmt.Errorf("icepipe: ice restart gather: %w", err)
	}
	return c.agent.GetLocalUserCredentials()
}

// AddRemoteCandidate ingests one SDP candidate line (trickled or from the
// bulk remote SDP).
func (c *Component) AddRemoteCandidate(candidateSDP string) error {
	cand, err := ice.UnmarshalCandidate(candidateSDP)
	if err != nil {
		return fmt.Errorf("icepipe: unmarshal candidate: %w", err)
	}
	return c.agent.AddRemoteCandidate(cand)
}

// Connect dials (controlling/offerer) or accepts (controlled/answerer)
// the ICE connection and starts the RFC 7983 demultiplexer over the
// resulting net.Conn.
func (c *Component) Connect(ctx context.Context, remoteUfrag, remotePwd string) error {
	var conn net.Conn
	var err error
	if c.cfg.Controlling {
		conn, err = c.agent.Dial(ctx, remoteUfrag, remotePwd)
	} else {
		conn, err = c.agent.Accept(ctx, remoteUfrag, remotePwd)
	}
	if err != nil {
		return fmt.Errorf("icepipe: ice connect: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.demux = NewDemux(conn)
	c.mu.Unlock()
	return nil
}

// HandshakeDTLS drives the DTLS handshake over the demuxed DTLS endpoint
// and, on success, verifies the peer certificate against the
// SDP-announced fingerprint and starts the SRTP/SRTCP contexts.
func (c *Component) HandshakeDTLS(ctx context.Context, role DTLSRole, cert tls.Certificate, remoteFingerprint, remoteHashAlgo string) error {
	c.mu.Lock()
	demux := c.demux
	c.mu.Unlock()
	if demux == nil {
		return errors.New("icepipe: Connect must complete before HandshakeDTLS")
	}

	dtlsCfg := &dtls.Config{
		Certificates:          []tls.Certificate{cert},
		InsecureSkipVerify:    true,
		VerifyPeerCertificate: fingerprintVerifier(remoteHashAlgo, remoteFingerprint),
		LoggerFactory:         c.cfg.LoggerFactory,
	}

	endpoint := demux.Endpoint(ClassDTLS)

	var conn *dtls.Conn
	var err error
	if role == DTLSRoleClient {
		conn, err = dtls.ClientWithContext(ctx, endpoint, dtlsCfg)
	} else {
		conn, err = dtls.ServerWithContext(ctx, endpoint, dtlsCfg)
	}
	if err != nil {
		return fmt.Errorf("icepipe: dtls handshake: %w", err)
	}

	c.mu.Lock()
	c.dtlsConn = conn
	c.mu.Unlock()

	return c.startSRTP(role == DTLSRoleClient)
}

func (c *Component) startSRTP(isClient bool) error {
	c.mu.Lock()
	dtlsConn := c.dtlsConn
	demux := c.demux
	c.mu.Unlock()

	srtpCfg := &srtp.Config{
		Profile:       srtp.ProtectionProfileAes128CmHmacSha1_80,
		LoggerFactory: c.cfg.LoggerFactory,
	}
	if err := srtpCfg.ExtractSessionKeysFromDTLS(dtlsConn, isClient); err != nil {
		return fmt.Errorf("icepipe: extract srtp keys: %w", err)
	}

	rtpSession, err := srtp.NewSessionSRTP(demux.Endpoint(ClassRTP), srtpCfg)
	if err != nil {
		return fmt.Errorf("icepipe: start srtp session: %w", err)
	}
	rtcpSession, err := srtp.NewSessionSRTCP(demux.Endpoint(ClassRTCP), srtpCfg)
	if err != nil {
		return fmt.Errorf("icepipe: start srtcp session: %w", err)
	}

	c.mu.Lock()
	c.srtpSession = rtpSession
	c.srtcpSession = rtcpSession
	c.mu.Unlock()
	c.setState(StateReady)
	return nil
}

// AcceptRTPStream blocks until a new inbound RTP SSRC is observed,
// returning its per-SSRC read stream (spec §4.8's receive path: each
// newly observed SSRC gets its own decrypt context).
func (c *Component) AcceptRTPStream() (*srtp.ReadStreamSRTP, uint32, error) {
	c.mu.Lock()
	sess := c.srtpSession
	c.mu.Unlock()
	if sess == nil {
		return nil, 0, errors.New("icepipe: srtp session not ready")
	}
	return sess.AcceptStream()
}

// AcceptRTCPStream blocks until a new inbound RTCP SSRC is observed.
func (c *Component) AcceptRTCPStream() (*srtp.ReadStreamSRTCP, uint32, error) {
	c.mu.Lock()
	sess := c.srtcpSession
	c.mu.Unlock()
	if sess == nil {
		return nil, 0, errors.New("icepipe: srtcp session not ready")
	}
	return sess.AcceptStream()
}

// WriteRTPStream returns the SRTP session's write stream. ssrc is not
// used: the one write stream serves every SSRC.
func (c *Component) WriteRTPStream(ssrc uint32) (*srtp.WriteStreamSRTP, error) {
	c.mu.Lock()
	sess := c.srtpSession
	c.mu.Unlock()
	if sess == nil {
		return nil, errors.New("icepipe: srtp session not ready")
	}
	return sess.OpenWriteStream()
}

// ReadRTPStream returns the read stream for ssrc, opening it on first use.
func (c *Component) ReadRTPStream(ssrc uint32) (*srtp.ReadStreamSRTP, error) {
	c.mu.Lock()
	sess := c.srtpSession
	c.mu.Unlock()
	if sess == nil {
		return nil, errors.New("icepipe: srtp session not ready")
	}
	rs, err := sess.OpenReadStream(ssrc)
	if err != nil {
		return nil, err
	}
	return rs, nil
}

// WriteRTCPStream returns the SRTCP session's write stream. ssrc is not
// used: the one write stream serves every SSRC.
func (c *Component) WriteRTCPStream(ssrc uint32) (*srtp.WriteStreamSRTCP, error) {
	c.mu.Lock()
	sess := c.srtcpSession
	c.mu.Unlock()
	if sess == nil {
		return nil, errors.New("icepipe: srtcp session not ready")
	}
	return sess.OpenWriteStream()
}

// ReadRTCPStream returns the read stream for ssrc on the SRTCP session.
func (c *Component) ReadRTCPStream(ssrc uint32) (*srtp.ReadStreamSRTCP, error) {
	c.mu.Lock()
	sess := c.srtcpSession
	c.mu.Unlock()
	if sess == nil {
		return nil, errors.New("icepipe: srtcp session not ready")
	}
	return sess.OpenReadStream(ssrc)
}

// Close tears down the DTLS connection, demultiplexer, and ICE agent, in
// that order (spec §4.10 phase two: "free SRTP, free agent").
func (c *Component) Close() error {
	_ = c.CloseData()

	c.mu.Lock()
	dtlsConn := c.dtlsConn
	demux := c.demux
	agent := c.agent
	c.mu.Unlock()

	if dtlsConn != nil {
		_ = dtlsConn.Close()
	}
	if demux != nil {
		_ = demux.Close()
	}
	if agent != nil {
		return agent.Close()
	}
	return nil
}
