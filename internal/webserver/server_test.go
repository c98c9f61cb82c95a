package webserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nantokaworks/guild-raffle/internal/admin"
	"github.com/nantokaworks/guild-raffle/internal/cooldown"
	"github.com/nantokaworks/guild-raffle/internal/duel"
	"github.com/nantokaworks/guild-raffle/internal/ledger"
	"github.com/nantokaworks/guild-raffle/internal/localdb"
	"github.com/nantokaworks/guild-raffle/internal/lottery"
	"github.com/nantokaworks/guild-raffle/internal/session"
	"github.com/nantokaworks/guild-raffle/internal/version"
	"github.com/shopspring/decimal"
)

type testEnv struct {
	server *Server
	router http.Handler
	ledger ledger.Ledger
}

func setupServerTest(t *testing.T, rng lottery.RandomSource) *testEnv {
	t.Helper()

	if localdb.DBClient != nil {
		_ = localdb.CloseDB()
	}
	if _, err := localdb.SetupDB(filepath.Join(t.TempDir(), "local.db")); err != nil {
		t.Fatalf("SetupDB failed: %v", err)
	}
	t.Cleanup(func() { _ = localdb.CloseDB() })

	if err := localdb.UpsertLedgerAccount("Lottery"); err != nil {
		t.Fatalf("UpsertLedgerAccount failed: %v", err)
	}
	for _, id := range []string{"alice", "bob", "carol"} {
		if err := localdb.UpsertLedgerAccount("Hero-"+id, id); err != nil {
			t.Fatalf("UpsertLedgerAccount failed: %v", err)
		}
	}

	l := ledger.NewSQLiteLedger()
	admins := admin.NewStore([]string{"owner"})

	sc := session.NewScheduler(0, nil)
	t.Cleanup(sc.Stop)
	manager := session.NewManager(session.Deps{
		Ledger:       l,
		History:      session.DBHistory{},
		Random:       rng,
		HouseAccount: "Lottery",
		FeeRate:      decimal.RequireFromString("0.05"),
	}, admins, sc, cooldown.NewTracker(0))

	engine := duel.NewEngine(duel.Deps{Ledger: l, Random: rng, AcceptWindow: time.Minute})
	t.Cleanup(engine.Stop)

	srv := New(Options{Manager: manager, Duels: engine, Admins: admins, Ledger: l})
	return &testEnv{server: srv, router: srv.Router(), ledger: l}
}

func (e *testEnv) do(t *testing.T, method, path, user, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set(userIDHeader, user)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to decode body %q: %v", rec.Body.String(), err)
	}
	return v
}

const lotteryBody = `{"description":"Weekly","unit_price":"10","max_entries":3,"duration_minutes":10}`

func TestHealth(t *testing.T) {
	env := setupServerTest(t, lottery.NewScriptedRandom(0))

	rec := env.do(t, http.MethodGet, "/health", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status mismatch: got=%d want=%d", rec.Code, http.StatusOK)
	}
	body := decodeBody[healthResponse](t, rec)
	if body.Status != "ok" || body.Build.Version != version.Version || body.Clients != 0 {
		t.Fatalf("unexpected health body: %+v", body)
	}
}

type fakeChatStatus struct {
	connected bool
	err       error
}

func (f fakeChatStatus) IsConnected() bool { return f.connected }
func (f fakeChatStatus) LastError() error  { return f.err }

func TestHealthReportsChatStatus(t *testing.T) {
	env := setupServerTest(t, lottery.NewScriptedRandom(0))

	// チャット連携なしではchatフィールド自体を出さない
	rec := env.do(t, http.MethodGet, "/health", "", "")
	if body := decodeBody[healthResponse](t, rec); body.Chat != nil {
		t.Fatalf("chat should be omitted: got=%+v", body.Chat)
	}

	env.server.chat = fakeChatStatus{connected: false, err: errors.New("websocket closed")}
	rec = env.do(t, http.MethodGet, "/health", "", "")
	body := decodeBody[healthResponse](t, rec)
	if body.Chat == nil {
		t.Fatalf("chat status missing")
	}
	if body.Chat.Connected || body.Chat.LastError != "websocket closed" {
		t.Fatalf("chat status mismatch: got=%+v want=disconnected/websocket closed", *body.Chat)
	}

	env.server.chat = fakeChatStatus{connected: true}
	rec = env.do(t, http.MethodGet, "/health", "", "")
	body = decodeBody[healthResponse](t, rec)
	if body.Chat == nil || !body.Chat.Connected || body.Chat.LastError != "" {
		t.Fatalf("chat status mismatch: got=%+v want=connected", body.Chat)
	}
}

func TestCreateLotteryRequiresAdmin(t *testing.T) {
	env := setupServerTest(t, lottery.NewScriptedRandom(0))

	if rec := env.do(t, http.MethodPost, "/api/lottery", "", lotteryBody); rec.Code != http.StatusUnauthorized {
		t.Fatalf("status mismatch: got=%d want=%d", rec.Code, http.StatusUnauthorized)
	}

	rec := env.do(t, http.MethodPost, "/api/lottery", "alice", lotteryBody)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status mismatch: got=%d want=%d", rec.Code, http.StatusForbidden)
	}
	if got := decodeBody[errorResponse](t, rec).Error; got != "You are not allowed to do that." {
		t.Fatalf("unexpected reason: %q", got)
	}
}

func TestLotteryFlow(t *testing.T) {
	env := setupServerTest(t, lottery.NewScriptedRandom(0))

	rec := env.do(t, http.MethodPost, "/api/lottery", "Owner", lotteryBody)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status mismatch: got=%d want=%d body=%s", rec.Code, http.StatusCreated, rec.Body.String())
	}
	snap := decodeBody[session.Snapshot](t, rec)

	if rec := env.do(t, http.MethodPost, "/api/lottery", "owner", lotteryBody); rec.Code != http.StatusConflict {
		t.Fatalf("second lottery status mismatch: got=%d want=%d", rec.Code, http.StatusConflict)
	}

	entryPath := fmt.Sprintf("/api/sessions/%s/entries", snap.ID)
	rec = env.do(t, http.MethodPost, entryPath, "alice", `{"request_id":"m-1"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("entry status mismatch: got=%d body=%s", rec.Code, rec.Body.String())
	}
	if got := decodeBody[entryResponse](t, rec); got.Count != 1 || got.SessionID != snap.ID {
		t.Fatalf("unexpected entry response: %+v", got)
	}
	// 同じリクエストIDは再計上しない
	rec = env.do(t, http.MethodPost, entryPath, "alice", `{"request_id":"m-1"}`)
	if got := decodeBody[entryResponse](t, rec); got.Count != 1 {
		t.Fatalf("duplicate request counted again: %+v", got)
	}

	rec = env.do(t, http.MethodPost, entryPath, "mallory", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown account status mismatch: got=%d want=%d", rec.Code, http.StatusNotFound)
	}
	if got := decodeBody[errorResponse](t, rec).Error; got != "You don't have a ledger account yet!" {
		t.Fatalf("unexpected reason: %q", got)
	}

	rec = env.do(t, http.MethodGet, "/api/sessions/"+snap.ID, "", "")
	if got := decodeBody[session.Snapshot](t, rec); got.TotalEntriesSold != 1 {
		t.Fatalf("unexpected snapshot: %+v", got)
	}

	rec = env.do(t, http.MethodPost, "/api/sessions/"+snap.ID+"/close", "owner", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("close status mismatch: got=%d body=%s", rec.Code, rec.Body.String())
	}
	st := decodeBody[session.Settlement](t, rec)
	if st.Outcome != session.OutcomeWinners || len(st.Placements) != 1 || st.Placements[0].ParticipantID != "alice" {
		t.Fatalf("unexpected settlement: %+v", st)
	}

	rec = env.do(t, http.MethodGet, "/api/ledger/accounts/alice", "alice", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("balance status mismatch: got=%d body=%s", rec.Code, rec.Body.String())
	}
	// 10 支払い、9.5 のうち 9 を受け取る
	if got := decodeBody[accountResponse](t, rec).Balance; got.Deducts != 10 || got.Bonus != 9 {
		t.Fatalf("unexpected balance: %+v", got)
	}

	rec = env.do(t, http.MethodGet, "/api/history?kind=lottery", "owner", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("history status mismatch: got=%d body=%s", rec.Code, rec.Body.String())
	}
	if got := decodeBody[[]localdb.EventHistory](t, rec); len(got) != 1 || got[0].EventID != snap.ID {
		t.Fatalf("unexpected history: %+v", got)
	}

	if rec := env.do(t, http.MethodGet, "/api/sessions/"+snap.ID, "", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("settled session must be gone: got=%d", rec.Code)
	}
}

func TestGiveawayJoinTwice(t *testing.T) {
	env := setupServerTest(t, lottery.NewScriptedRandom(0))

	rec := env.do(t, http.MethodPost, "/api/giveaway", "owner", `{"prize":"Mount","duration_minutes":5}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status mismatch: got=%d body=%s", rec.Code, rec.Body.String())
	}
	snap := decodeBody[session.Snapshot](t, rec)
	path := "/api/sessions/" + snap.ID + "/entries"

	if rec := env.do(t, http.MethodPost, path, "viewer", ""); rec.Code != http.StatusCreated {
		t.Fatalf("join status mismatch: got=%d body=%s", rec.Code, rec.Body.String())
	}
	rec = env.do(t, http.MethodPost, path, "viewer", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("second join status mismatch: got=%d want=%d", rec.Code, http.StatusConflict)
	}
	if got := decodeBody[errorResponse](t, rec).Error; got != "You have already joined this giveaway." {
		t.Fatalf("unexpected reason: %q", got)
	}
}

func TestDuelFlow(t *testing.T) {
	// Between(1,100): 挑戦者 6, 相手 1
	env := setupServerTest(t, lottery.NewScriptedRandom(5, 0))

	rec := env.do(t, http.MethodPost, "/api/duels", "alice", `{"target":"Bob","wager":50}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("challenge status mismatch: got=%d body=%s", rec.Code, rec.Body.String())
	}
	d := decodeBody[duel.Duel](t, rec)
	if d.TargetID != "bob" || d.Status != duel.StatusAwaiting {
		t.Fatalf("unexpected duel: %+v", d)
	}

	if rec := env.do(t, http.MethodPost, "/api/duels", "alice", `{"target":"alice","wager":50}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("self challenge status mismatch: got=%d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/api/duels/"+d.ID+"/accept", "carol", ""); rec.Code != http.StatusForbidden {
		t.Fatalf("wrong accepter status mismatch: got=%d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/duels/"+d.ID+"/accept", "bob", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("accept status mismatch: got=%d body=%s", rec.Code, rec.Body.String())
	}
	if got := decodeBody[duel.Duel](t, rec); got.WinnerID != "bob" || got.Status != duel.StatusSettled {
		t.Fatalf("unexpected result: %+v", got)
	}

	rec = env.do(t, http.MethodPost, "/api/duels/"+d.ID+"/accept", "bob", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("second accept status mismatch: got=%d", rec.Code)
	}
	if got := decodeBody[errorResponse](t, rec).Error; got != "bob has already accepted another Deathroll!" {
		t.Fatalf("unexpected reason: %q", got)
	}

	rec = env.do(t, http.MethodGet, "/api/ledger/accounts/alice", "owner", "")
	if got := decodeBody[accountResponse](t, rec).Balance; got.Deducts != 50 {
		t.Fatalf("loser must be debited: %+v", got)
	}
	if rec := env.do(t, http.MethodGet, "/api/ledger/accounts/alice", "bob", ""); rec.Code != http.StatusForbidden {
		t.Fatalf("other users must not read balances: got=%d", rec.Code)
	}
}

func TestAdminEndpoints(t *testing.T) {
	env := setupServerTest(t, nil)

	if rec := env.do(t, http.MethodPost, "/api/admins", "alice", `{"identity":"bob"}`); rec.Code != http.StatusForbidden {
		t.Fatalf("non admin add status mismatch: got=%d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/api/admins", "owner", `{"identity":"bob"}`); rec.Code != http.StatusCreated {
		t.Fatalf("add status mismatch: got=%d body=%s", rec.Code, rec.Body.String())
	}

	// 追加された管理者はイベントを開始できる
	if rec := env.do(t, http.MethodPost, "/api/giveaway", "bob", `{"prize":"Mount","duration_minutes":5}`); rec.Code != http.StatusCreated {
		t.Fatalf("new admin create status mismatch: got=%d body=%s", rec.Code, rec.Body.String())
	}

	rec := env.do(t, http.MethodGet, "/api/admins", "bob", "")
	if got := decodeBody[[]localdb.Admin](t, rec); len(got) != 1 || got[0].Identity != "bob" {
		t.Fatalf("unexpected admins: %+v", got)
	}

	if rec := env.do(t, http.MethodDelete, "/api/admins/bob", "owner", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("remove status mismatch: got=%d body=%s", rec.Code, rec.Body.String())
	}
	if rec := env.do(t, http.MethodDelete, "/api/admins/bob", "owner", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("second remove status mismatch: got=%d", rec.Code)
	}
}

func TestUpsertAccount(t *testing.T) {
	env := setupServerTest(t, nil)

	body := `{"account":"Hero-dave","identities":[" Dave "]}`
	if rec := env.do(t, http.MethodPost, "/api/ledger/accounts", "dave", body); rec.Code != http.StatusForbidden {
		t.Fatalf("non admin status mismatch: got=%d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/api/ledger/accounts", "owner", body); rec.Code != http.StatusCreated {
		t.Fatalf("upsert status mismatch: got=%d body=%s", rec.Code, rec.Body.String())
	}

	rec := env.do(t, http.MethodGet, "/api/ledger/accounts/dave", "dave", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("lookup status mismatch: got=%d body=%s", rec.Code, rec.Body.String())
	}
	if got := decodeBody[accountResponse](t, rec).Balance.Account; got != "Hero-dave" {
		t.Fatalf("unexpected account: %q", got)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&cooldown.Error{Action: "lottery", Remaining: time.Second}, http.StatusTooManyRequests},
		{session.ErrUnauthorized, http.StatusForbidden},
		{fmt.Errorf("wrapped: %w", session.ErrCapReached), http.StatusConflict},
		{session.ErrAlreadyJoined, http.StatusConflict},
		{session.ErrInvalidConfig, http.StatusBadRequest},
		{duel.ErrDuelExpired, http.StatusConflict},
		{ledger.ErrAccountNotFound, http.StatusNotFound},
		{admin.ErrRemoveMain, http.StatusConflict},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Fatalf("statusFor(%v): got=%d want=%d", tt.err, got, tt.want)
		}
	}
}
