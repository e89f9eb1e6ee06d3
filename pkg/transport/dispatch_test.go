package transport

import (
	"strings"
	"testing"

	"github.com/ethan/webrtc-core/internal/auth"
	"github.com/ethan/webrtc-core/internal/icepipe"
	"github.com/ethan/webrtc-core/internal/session"
	"github.com/ethan/webrtc-core/pkg/config"
	"github.com/ethan/webrtc-core/pkg/logger"
	"github.com/ethan/webrtc-core/plugins/echotest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEngine(t *testing.T) *session.Engine {
	t.Helper()
	log, err := logger.New(logger.NewConfig())
	require.NoError(t, err)
	cert, err := icepipe.GenerateSelfSignedCertificate()
	require.NoError(t, err)
	store := config.NewStore(&config.Snapshot{})
	table := auth.NewTable(false, "")
	return session.NewEngine(store, table, cert, log)
}

func testConnection(t *testing.T) (*connection, chan Response) {
	events := make(chan Response, 8)
	engine := testEngine(t)
	log, err := logger.New(logger.NewConfig())
	require.NoError(t, err)
	c := newConnection(engine, log, func(r Response) error {
		events <- r
		return nil
	})
	return c, events
}

func TestDispatchCreateAssignsTransactionWhenOmitted(t *testing.T) {
	c, _ := testConnection(t)
	resp := c.dispatch(Request{Type: "create"})
	assert.Equal(t, "success", resp.Type)
	assert.NotEmpty(t, resp.Transaction, "a missing transaction id must be backfilled")
	assert.NotZero(t, resp.SessionID)
}

func TestDispatchCreatePreservesSuppliedTransaction(t *testing.T) {
	c, _ := testConnection(t)
	resp := c.dispatch(Request{Type: "create", Transaction: "txn-42"})
	assert.Equal(t, "txn-42", resp.Transaction)
}

func TestDispatchKeepaliveAcks(t *testing.T) {
	c, _ := testConnection(t)
	resp := c.dispatch(Request{Type: "keepalive", Transaction: "txn-1"})
	assert.Equal(t, "ack", resp.Type)
	assert.Equal(t, "txn-1", resp.Transaction)
}

func TestDispatchUnknownTypeErrors(t *testing.T) {
	c, _ := testConnection(t)
	resp := c.dispatch(Request{Type: "bogus"})
	assert.Equal(t, "error", resp.Type)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "protocol_violation", resp.Error.Code)
}

func TestDispatchDestroyThenHandleClosesSession(t *testing.T) {
	c, _ := testConnection(t)
	created := c.dispatch(Request{Type: "create"})
	require.Equal(t, "success", created.Type)

	destroyed := c.dispatch(Request{Type: "destroy", SessionID: created.SessionID})
	assert.Equal(t, "success", destroyed.Type)

	// Destroying an already-gone session must surface as an error, not panic.
	again := c.dispatch(Request{Type: "destroy", SessionID: created.SessionID})
	assert.Equal(t, "error", again.Type)
}

func TestDispatchCreateWithoutTokenWhenAuthDisabled(t *testing.T) {
	c, _ := testConnection(t)
	resp := c.dispatch(Request{Type: "create", Token: ""})
	assert.Equal(t, "success", resp.Type)
}

func TestDispatchAttachWithOfferReturnsOfferJSEP(t *testing.T) {
	events := make(chan Response, 8)
	engine := testEngine(t)
	require.NoError(t, engine.RegisterPlugin(echotest.New()))
	log, err := logger.New(logger.NewConfig())
	require.NoError(t, err)
	c := newConnection(engine, log, func(r Response) error {
		events <- r
		return nil
	})

	created := c.dispatch(Request{Type: "create"})
	require.Equal(t, "success", created.Type)

	resp := c.dispatch(Request{Type: "attach", SessionID: created.SessionID, Plugin: "plugin.echotest", Offer: true})
	require.Equal(t, "success", resp.Type)
	require.NotNil(t, resp.JSEP)
	assert.Equal(t, "offer", resp.JSEP.Type)
	assert.True(t, strings.Contains(resp.JSEP.SDP, "m=audio"))
	assert.True(t, strings.Contains(resp.JSEP.SDP, "a=setup:actpass"))
}

func TestDispatchAttachWithoutOfferCarriesNoJSEP(t *testing.T) {
	events := make(chan Response, 8)
	engine := testEngine(t)
	require.NoError(t, engine.RegisterPlugin(echotest.New()))
	log, err := logger.New(logger.NewConfig())
	require.NoError(t, err)
	c := newConnection(engine, log, func(r Response) error {
		events <- r
		return nil
	})

	created := c.dispatch(Request{Type: "create"})
	require.Equal(t, "success", created.Type)

	resp := c.dispatch(Request{Type: "attach", SessionID: created.SessionID, Plugin: "plugin.echotest"})
	require.Equal(t, "success", resp.Type)
	assert.Nil(t, resp.JSEP)
}
