package sync

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/unicode"

	"github.com/ledgersync/replicator/pkg/audit"
	"github.com/ledgersync/replicator/pkg/companystate"
	"github.com/ledgersync/replicator/pkg/gatewayclient"
	"github.com/ledgersync/replicator/pkg/logging"
	"github.com/ledgersync/replicator/pkg/recoverer"
	"github.com/ledgersync/replicator/pkg/retrycircuit"
	"github.com/ledgersync/replicator/pkg/row"
	"github.com/ledgersync/replicator/pkg/store"
	"github.com/ledgersync/replicator/pkg/tablespec"
)

// ledgerDoc is a single-table fixture: one Primary master table mirroring
// mst_ledger, small enough to drive by hand through a fake Gateway server.
func ledgerDoc() tablespec.Document {
	return tablespec.Document{
		Master: []tablespec.TableSpec{
			{
				Name:       "mst_ledger",
				Collection: "Ledger",
				Nature:     tablespec.Primary,
				Fields: []tablespec.FieldSpec{
					{Name: "guid", Expr: "Guid", Kind: tablespec.KindText},
					{Name: "alter_id", Expr: "AlterID", Kind: tablespec.KindNumber},
					{Name: "name", Expr: "Name", Kind: tablespec.KindText},
				},
			},
		},
	}
}

type testHarness struct {
	st        *store.Store
	audit     *audit.Recorder
	companies *companystate.Repository
	recover   *recoverer.Recoverer
	client    *gatewayclient.Client
	closeFn   func()
}

func newHarness(t *testing.T, handler http.HandlerFunc) *testHarness {
	t.Helper()
	dir := t.TempDir()

	st, err := store.Open(store.Config{Path: filepath.Join(dir, "replicator.db")}, logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	srv := httptest.NewServer(handler)
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	circCfg := retrycircuit.DefaultConfig()
	circCfg.MaxAttempts = 1
	circuit := retrycircuit.New("gateway-test", circCfg, logging.Discard())
	client := gatewayclient.New(gatewayclient.Config{Host: u.Hostname(), Port: port, Timeout: 2 * time.Second}, circuit, logging.Discard())

	return &testHarness{
		st:        st,
		audit:     audit.NewRecorder(st.DB(), logging.Discard()),
		companies: companystate.NewRepository(st.DB()),
		recover:   recoverer.New(filepath.Join(dir, "crash-state.json")),
		client:    client,
		closeFn:   srv.Close,
	}
}

func (h *testHarness) synchronizer(doc tablespec.Document) *Synchronizer {
	return New(doc, h.client, h.st, h.audit, h.companies, h.recover, logging.Discard())
}

// decodeWireRequest undoes gatewayclient's outbound UTF-16+BOM encoding so
// the fake Gateway handler can branch on the request's plain text.
func decodeWireRequest(b []byte) string {
	dec := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)
	out, err := dec.NewDecoder().Bytes(b)
	if err != nil {
		return string(b)
	}
	return string(out)
}

// wireResponse encodes a plain-text response the same way a real Gateway
// would, so it exercises gatewayclient's UTF-16 decode chain rather than
// the UTF-8 fallback.
func wireResponse(t *testing.T, s string) []byte {
	t.Helper()
	enc := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM)
	b, err := enc.NewEncoder().Bytes([]byte(s))
	require.NoError(t, err)
	return b
}

func readRequestBody(t *testing.T, r *http.Request) string {
	t.Helper()
	buf, err := io.ReadAll(r.Body)
	require.NoError(t, err)
	return decodeWireRequest(buf)
}

func TestFullSyncInsertsRowsAndRecordsCompanyState(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		body := readRequestBody(t, r)
		w.WriteHeader(http.StatusOK)
		switch {
		case strings.Contains(body, "<ID>MyCompany</ID>"):
			_, _ = w.Write(wireResponse(t, "<FLDNAME>Acme</FLDNAME><FLDGUID>company-guid-1</FLDGUID><FLDALTERID>42</FLDALTERID>"))
		case strings.Contains(body, "<ID>LastAlterIDs</ID>"):
			_, _ = w.Write(wireResponse(t, `"10","5"`+"\r\n"))
		case strings.Contains(body, "<TYPE>Ledger</TYPE>"):
			_, _ = w.Write(wireResponse(t, "<ENVELOPE><F01>g1</F01><F02>5</F02><F03>Cash</F03><F01>g2</F01><F02>7</F02><F03>Bank</F03></ENVELOPE>"))
		default:
			t.Fatalf("unexpected request: %s", body)
		}
	})
	defer h.closeFn()

	synchronizer := h.synchronizer(ledgerDoc())
	err := synchronizer.FullSync(context.Background(), "Acme", false)
	require.NoError(t, err)

	assert.Equal(t, 2, h.st.TableCount("mst_ledger"))

	g1, err := h.st.FetchRow("mst_ledger", "g1", "Acme")
	require.NoError(t, err)
	require.NotNil(t, g1)
	assert.Equal(t, "Cash", g1["name"])

	state, ok, err := h.companies.Get("Acme")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "company-guid-1", state.GUID)
	assert.Equal(t, int64(10), state.LastAlterIDMaster)
	assert.Equal(t, int64(5), state.LastAlterIDTransaction)
	assert.Equal(t, "full", state.LastSyncKind)

	stats, err := h.audit.Stats("Acme")
	require.NoError(t, err)
	assert.Equal(t, 0, stats.ByAction["INSERT"], "full sync is a wholesale snapshot replace and must not write audit_log")
}

func TestFullSyncRejectsEmptyGatewayProbe(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(wireResponse(t, "<ENVELOPE></ENVELOPE>"))
	})
	defer h.closeFn()

	synchronizer := h.synchronizer(ledgerDoc())
	err := synchronizer.FullSync(context.Background(), "Acme", false)
	require.Error(t, err)
	assert.Equal(t, 0, h.st.TableCount("mst_ledger"))
}

func TestFullSyncRejectsConcurrentRun(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(wireResponse(t, "<ENVELOPE><F01>g1</F01><F02>5</F02><F03>Cash</F03></ENVELOPE>"))
	})
	defer h.closeFn()

	synchronizer := h.synchronizer(ledgerDoc())
	require.NoError(t, synchronizer.beginSession(KindFull, "Acme"))
	defer synchronizer.endSession()

	err := synchronizer.FullSync(context.Background(), "Acme", false)
	require.Error(t, err)
}

func TestIncrementalSyncUpsertsAndDeletesAgainstStoredState(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		body := readRequestBody(t, r)
		w.WriteHeader(http.StatusOK)
		switch {
		case strings.Contains(body, "<ID>LastAlterIDs</ID>"):
			_, _ = w.Write(wireResponse(t, `"2","0"`+"\r\n"))
		case strings.Contains(body, "$AlterID >"):
			// import phase: rows changed since alter_id 1
			_, _ = w.Write(wireResponse(t, "<ENVELOPE><F01>g1</F01><F02>2</F02><F03>Cash</F03><F01>g3</F01><F02>3</F02><F03>Loan</F03></ENVELOPE>"))
		case strings.Contains(body, "<TYPE>Ledger</TYPE>"):
			// diff phase: current full guid/alter_id snapshot, g2 is gone
			_, _ = w.Write(wireResponse(t, "<ENVELOPE><F01>g1</F01><F02>2</F02><F01>g3</F01><F02>3</F02></ENVELOPE>"))
		default:
			t.Fatalf("unexpected request: %s", body)
		}
	})
	defer h.closeFn()

	seed := []row.Row{
		{"guid": "g1", "alter_id": int64(1), "name": "Cash", "_company": "Acme"},
		{"guid": "g2", "alter_id": int64(1), "name": "Bank", "_company": "Acme"},
	}
	_, err := h.st.BulkInsert("mst_ledger", seed)
	require.NoError(t, err)
	require.NoError(t, h.companies.Upsert(companystate.State{
		Company: "Acme", GUID: "old-guid", AlterID: 1,
		LastAlterIDMaster: 1, LastAlterIDTransaction: 0, LastSyncKind: "full",
	}))

	synchronizer := h.synchronizer(ledgerDoc())
	err = synchronizer.IncrementalSync(context.Background(), "Acme")
	require.NoError(t, err)

	g1, err := h.st.FetchRow("mst_ledger", "g1", "Acme")
	require.NoError(t, err)
	require.NotNil(t, g1)
	assert.Equal(t, "Cash", g1["name"])

	g2, err := h.st.FetchRow("mst_ledger", "g2", "Acme")
	require.NoError(t, err)
	assert.Nil(t, g2, "g2 is absent from the remote snapshot and must be deleted")

	g3, err := h.st.FetchRow("mst_ledger", "g3", "Acme")
	require.NoError(t, err)
	require.NotNil(t, g3)
	assert.Equal(t, "Loan", g3["name"])

	state, ok, err := h.companies.Get("Acme")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "old-guid", state.GUID, "incremental sync must not clobber the company guid it didn't re-fetch")
	assert.Equal(t, int64(2), state.LastAlterIDMaster)
	assert.Equal(t, "incremental", state.LastSyncKind)

	stats, err := h.audit.Stats("Acme")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ByAction["INSERT"])
	assert.Equal(t, 1, stats.ByAction["UPDATE"])
	assert.Equal(t, 1, stats.ByAction["DELETE"])
}

func TestIncrementalSyncSkipsWhenAlterIDsUnchanged(t *testing.T) {
	calls := 0
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		body := readRequestBody(t, r)
		w.WriteHeader(http.StatusOK)
		if strings.Contains(body, "<ID>LastAlterIDs</ID>") {
			_, _ = w.Write(wireResponse(t, `"1","0"`+"\r\n"))
			return
		}
		calls++
		t.Fatalf("unexpected table fetch when alter-ids are unchanged: %s", body)
	})
	defer h.closeFn()

	require.NoError(t, h.companies.Upsert(companystate.State{
		Company: "Acme", GUID: "g", AlterID: 1,
		LastAlterIDMaster: 1, LastAlterIDTransaction: 0, LastSyncKind: "full",
	}))

	synchronizer := h.synchronizer(ledgerDoc())
	err := synchronizer.IncrementalSync(context.Background(), "Acme")
	require.NoError(t, err)
	assert.Equal(t, 0, calls)
}
