package icepipe

import (
	"errors"
	"fmt"

	"github.com/pion/datachannel"
	"github.com/pion/sctp"
)

// StartSCTP brings up the SCTP association over the already-completed
// DTLS connection and opens the single default DataChannel stream this
// engine exercises end to end (spec §4's DataChannel send/receive path).
// The association takes the same client/server role the DTLS handshake
// just played, per the usual WebRTC DCEP pairing of DTLS and SCTP roles.
func (c *Component) StartSCTP(role DTLSRole, onMessage func([]byte)) error {
	c.mu.Lock()
	dtlsConn := c.dtlsConn
	c.mu.Unlock()
	if dtlsConn == nil {
		return errors.New("icepipe: HandshakeDTLS must complete before StartSCTP")
	}

	sctpCfg := sctp.Config{
		NetConn:       dtlsConn,
		LoggerFactory: c.cfg.LoggerFactory,
	}

	var assoc *sctp.Association
	var err error
	if role == DTLSRoleClient {
		assoc, err = sctp.Client(sctpCfg)
	} else {
		assoc, err = sctp.Server(sctpCfg)
	}
	if err != nil {
		return fmt.Errorf("icepipe: start sctp association: %w", err)
	}

	dcCfg := &datachannel.Config{
		ChannelType: datachannel.ChannelTypeReliable,
		Label:       "data",
	}

	var dc *datachannel.DataChannel
	if role == DTLSRoleClient {
		dc, err = datachannel.Dial(assoc, 0, dcCfg)
	} else {
		dc, err = datachannel.Accept(assoc, dcCfg)
	}
	if err != nil {
		_ = assoc.Close()
		return fmt.Errorf("icepipe: open data channel: %w", err)
	}

	c.mu.Lock()
	c.sctpAssoc = assoc
	c.dataChannel = dc
	c.mu.Unlock()

	go c.readDataChannel(dc, onMessage)
	return nil
}

func (c *Component) readDataChannel(dc *datachannel.DataChannel, onMessage func([]byte)) {
	buf := make([]byte, 16384)
	for {
		n, _, err := dc.ReadDataChannel(buf)
		if err != nil {
			return
		}
		if onMessage == nil {
			continue
		}
		msg := make([]byte, n)
		copy(msg, buf[:n])
		onMessage(msg)
	}
}

// WriteData sends one message over the established data channel.
func (c *Component) WriteData(buf []byte) error {
	c.mu.Lock()
	dc := c.dataChannel
	c.mu.Unlock()
	if dc == nil {
		return errors.New("icepipe: data channel not established")
	}
	_, err := dc.WriteDataChannel(buf, false)
	return err
}

// CloseData tears down the data channel and its SCTP association.
func (c *Component) CloseData() error {
	c.mu.Lock()
	dc := c.dataChannel
	assoc := c.sctpAssoc
	c.mu.Unlock()
	if dc != nil {
		_ = dc.Close()
	}
	if assoc != nil {
		return assoc.Close()
	}
	return nil
}
