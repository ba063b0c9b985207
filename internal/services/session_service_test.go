package services

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tbourn/go-assistant-bot/internal/domain"
	"github.com/tbourn/go-assistant-bot/internal/format"
	"github.com/tbourn/go-assistant-bot/internal/history"
	"github.com/tbourn/go-assistant-bot/internal/ledger"
)

type harness struct {
	svc    *SessionService
	rows   *memRows
	ledger *ledger.Client
	hist   *history.Store
	tr     *fakeTransport
	ai     *fakeAI
	photos *fakePhotos
	logs   *fakeLogs
}

var fixedNow = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		rows:   newMemRows(),
		hist:   history.New(5, 180),
		tr:     &fakeTransport{},
		ai:     &fakeAI{reply: "ok"},
		photos: &fakePhotos{img: &domain.Image{Data: []byte{1, 2, 3}, MIMEType: "image/jpeg"}},
		logs:   &fakeLogs{},
	}
	h.ledger = ledger.New(h.rows, 10)
	h.svc = &SessionService{
		Ledger:      LedgerQuota(h.ledger),
		Codes:       fakeCodes{"ABC123": true, "1234": true},
		History:     h.hist,
		AI:          h.ai,
		Transport:   h.tr,
		Photos:      h.photos,
		Logs:        h.logs,
		BotName:     "Adil AI",
		BonusAmount: 10,
		Now:         func() time.Time { return fixedNow },
	}
	return h
}

func textIn(userID, text string) domain.Inbound {
	return domain.Inbound{UpdateID: 1, Kind: domain.MessageText, UserID: userID, UserName: "Ann", ChatID: 77, Text: text}
}

func cmdIn(userID, cmd, text string, args ...string) domain.Inbound {
	return domain.Inbound{Kind: domain.MessageCommand, UserID: userID, ChatID: 77, Command: cmd, Text: text, Args: args}
}

func photoIn(userID, caption string) domain.Inbound {
	return domain.Inbound{Kind: domain.MessagePhoto, UserID: userID, UserName: "Ann", ChatID: 77, PhotoRef: "file-1", Caption: caption}
}

// ----- Text path -----

func TestHandle_Text_LastRightThenExhausted(t *testing.T) {
	h := newHarness(t)
	h.rows.seedUser("u1", "9", "10")
	h.ai.reply = "**Hi** <there>"
	ctx := context.Background()

	if out := h.svc.Handle(ctx, textIn("u1", "hello")); out != OutcomeAnswered {
		t.Fatalf("outcome=%s", out)
	}
	if got := h.tr.last(); got != "<b>Hi</b> &lt;there&gt;" {
		t.Fatalf("delivered=%q", got)
	}
	if got := h.rows.user("u1"); got[1] != "10" {
		t.Fatalf("used=%s, want 10", got[1])
	}
	if !reflect.DeepEqual(h.tr.actions, []ChatAction{ActionTyping}) {
		t.Fatalf("actions=%v", h.tr.actions)
	}

	wantHist := []domain.ConversationEntry{
		{Role: domain.RoleUser, Content: "hello", Kind: domain.KindText},
		{Role: domain.RoleAssistant, Content: "**Hi** <there>", Kind: domain.KindText},
	}
	if got := h.hist.Entries("u1"); !reflect.DeepEqual(got, wantHist) {
		t.Fatalf("history=%+v", got)
	}

	if len(h.logs.recs) != 1 {
		t.Fatalf("log rows=%d", len(h.logs.recs))
	}
	wantRec := domain.LogRecord{Timestamp: fixedNow, UserID: "u1", UserName: "Ann", Request: "hello", Reply: "**Hi** <there>"}
	if h.logs.recs[0] != wantRec {
		t.Fatalf("log=%+v", h.logs.recs[0])
	}

	// next message is rejected without calling the AI
	if out := h.svc.Handle(ctx, textIn("u1", "again")); out != OutcomeQuotaExceeded {
		t.Fatalf("outcome=%s", out)
	}
	if h.ai.callCount() != 1 {
		t.Fatalf("ai calls=%d, want 1", h.ai.callCount())
	}
	if got := h.tr.last(); got != format.Escape(ReplyQuotaExceeded) {
		t.Fatalf("reply=%q", got)
	}
	if got := h.rows.user("u1"); got[1] != "10" {
		t.Fatalf("used=%s, want 10", got[1])
	}
	if len(h.hist.Entries("u1")) != 2 {
		t.Fatal("rejected request must not touch history")
	}
}

func TestHandle_Text_FirstContactCreatesUser(t *testing.T) {
	h := newHarness(t)
	if out := h.svc.Handle(context.Background(), textIn("new", "hi")); out != OutcomeAnswered {
		t.Fatalf("outcome=%s", out)
	}
	if got := h.rows.user("new"); !reflect.DeepEqual(got, []string{"new", "1", "10"}) {
		t.Fatalf("row=%v", got)
	}
}

func TestHandle_Text_PromptCarriesHistoryAndQuote(t *testing.T) {
	h := newHarness(t)
	h.ai.reply = "first answer"
	ctx := context.Background()
	h.svc.Handle(ctx, textIn("u1", "first"))

	in := textIn("u1", "second")
	in.Quoted = "quoted text"
	h.svc.Handle(ctx, in)

	want := "You are a helpful bot. Answer in English." +
		"\nRecent conversation excerpts:\nUser: first\nAssistant: first answer" +
		"\nUser's new question: second" +
		"\nMessage the user quoted: quoted text"
	if got := h.ai.prompts[1]; got != want {
		t.Fatalf("prompt=\n%q\nwant\n%q", got, want)
	}
	if h.ai.img != nil {
		t.Fatal("text request must not send an image")
	}
}

func TestHandle_Text_GenerationFailureLeavesStateIdentical(t *testing.T) {
	h := newHarness(t)
	h.rows.seedUser("u1", "3", "10")
	h.hist.Append("u1", domain.RoleUser, "earlier", domain.KindText)
	beforeRow := h.rows.user("u1")
	beforeHist := h.hist.Entries("u1")

	h.ai.err = domain.ErrGeneration
	if out := h.svc.Handle(context.Background(), textIn("u1", "q")); out != OutcomeGenerationFailed {
		t.Fatalf("outcome=%s", out)
	}
	if got := h.tr.last(); got != format.Escape(ReplyTryAgain) {
		t.Fatalf("reply=%q", got)
	}
	if !reflect.DeepEqual(h.rows.user("u1"), beforeRow) {
		t.Fatalf("row changed: %v", h.rows.user("u1"))
	}
	if !reflect.DeepEqual(h.hist.Entries("u1"), beforeHist) {
		t.Fatalf("history changed: %+v", h.hist.Entries("u1"))
	}
	if h.ledger.InFlight("u1") != 0 {
		t.Fatal("reservation not released")
	}
	if len(h.logs.recs) != 0 {
		t.Fatal("no log row expected")
	}
}

func TestHandle_Text_EmptyAnswerIsGenerationFailure(t *testing.T) {
	h := newHarness(t)
	h.ai.reply = "   "
	if out := h.svc.Handle(context.Background(), textIn("u1", "q")); out != OutcomeGenerationFailed {
		t.Fatalf("outcome=%s", out)
	}
	if got := h.rows.user("u1"); got[1] != "0" {
		t.Fatalf("used=%s", got[1])
	}
}

func TestHandle_Text_LedgerUnavailable(t *testing.T) {
	h := newHarness(t)
	h.rows.findErr = errors.New("sheet down")
	if out := h.svc.Handle(context.Background(), textIn("u1", "q")); out != OutcomeLedgerUnavailable {
		t.Fatalf("outcome=%s", out)
	}
	if got := h.tr.last(); got != format.Escape(ReplySystemError) {
		t.Fatalf("reply=%q", got)
	}
	if h.ai.callCount() != 0 {
		t.Fatal("AI must not be called")
	}
}

func TestHandle_Text_MalformedRowIsLedgerUnavailable(t *testing.T) {
	h := newHarness(t)
	h.rows.seedUser("u1", "lots", "10")
	if out := h.svc.Handle(context.Background(), textIn("u1", "q")); out != OutcomeLedgerUnavailable {
		t.Fatalf("outcome=%s", out)
	}
}

func TestHandle_Text_DeliveryFailureSkipsPersist(t *testing.T) {
	h := newHarness(t)
	h.tr.sendErr = errors.New("chat gone")
	if out := h.svc.Handle(context.Background(), textIn("u1", "q")); out != OutcomeDeliveryFailed {
		t.Fatalf("outcome=%s", out)
	}
	if got := h.rows.user("u1"); got[1] != "0" {
		t.Fatalf("used=%s, want 0", got[1])
	}
	if len(h.hist.Entries("u1")) != 0 || len(h.logs.recs) != 0 {
		t.Fatal("nothing may be persisted after a failed delivery")
	}
	if h.ledger.InFlight("u1") != 0 {
		t.Fatal("reservation not released")
	}
}

func TestHandle_Text_PersistSurvivesCanceledContext(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	h.svc.Transport = cancelOnSend{h.tr, cancel}

	if out := h.svc.Handle(ctx, textIn("u1", "q")); out != OutcomeAnswered {
		t.Fatalf("outcome=%s", out)
	}
	if got := h.rows.user("u1"); got[1] != "1" {
		t.Fatalf("used=%s, want 1", got[1])
	}
}

// cancelOnSend cancels the request context once the answer is delivered.
type cancelOnSend struct {
	*fakeTransport
	cancel context.CancelFunc
}

func (c cancelOnSend) SendText(ctx context.Context, chatID int64, markup string) error {
	err := c.fakeTransport.SendText(ctx, chatID, markup)
	c.cancel()
	return err
}

func TestHandle_Text_LogFailureIsSwallowed(t *testing.T) {
	h := newHarness(t)
	h.logs.err = errors.New("logs sheet full")
	if out := h.svc.Handle(context.Background(), textIn("u1", "q")); out != OutcomeAnswered {
		t.Fatalf("outcome=%s", out)
	}
}

func TestHandle_Text_BlankIgnored(t *testing.T) {
	h := newHarness(t)
	if out := h.svc.Handle(context.Background(), textIn("u1", "  \n ")); out != OutcomeIgnored {
		t.Fatalf("outcome=%s", out)
	}
	if len(h.tr.texts) != 0 || h.rows.user("u1") != nil {
		t.Fatal("blank message must not reply or create a user")
	}
}

// ----- Photo path -----

func TestHandle_Photo_Answers(t *testing.T) {
	h := newHarness(t)
	h.ai.reply = "A cat."
	if out := h.svc.Handle(context.Background(), photoIn("u1", "  my cat ")); out != OutcomeAnswered {
		t.Fatalf("outcome=%s", out)
	}
	if h.photos.ref != "file-1" {
		t.Fatalf("fetched ref=%q", h.photos.ref)
	}
	if h.ai.img == nil || len(h.ai.img.Data) != 3 {
		t.Fatal("image not passed to AI")
	}
	if got := h.ai.prompts[0]; got != "What is in this image? Explain briefly and clearly. User caption: my cat" {
		t.Fatalf("prompt=%q", got)
	}
	if !reflect.DeepEqual(h.tr.actions, []ChatAction{ActionUploadPhoto}) {
		t.Fatalf("actions=%v", h.tr.actions)
	}
	want := []domain.ConversationEntry{
		{Role: domain.RoleUser, Content: "Sent a photo. Caption: my cat", Kind: domain.KindPhoto},
		{Role: domain.RoleAssistant, Content: "A cat.", Kind: domain.KindText},
	}
	if got := h.hist.Entries("u1"); !reflect.DeepEqual(got, want) {
		t.Fatalf("history=%+v", got)
	}
	if got := h.rows.user("u1"); got[1] != "1" {
		t.Fatalf("used=%s", got[1])
	}
	if len(h.logs.recs) != 1 || h.logs.recs[0].Request != "Sent a photo. Caption: my cat" {
		t.Fatalf("logs=%+v", h.logs.recs)
	}
}

func TestHandle_Photo_PromptWithHistory(t *testing.T) {
	h := newHarness(t)
	h.hist.Append("u1", domain.RoleUser, "hi", domain.KindText)
	h.svc.Handle(context.Background(), photoIn("u1", ""))
	want := "Recent chat summary:\nUser: hi\n\nWhat is in this image? Explain briefly and clearly."
	if got := h.ai.prompts[0]; got != want {
		t.Fatalf("prompt=%q", got)
	}
}

func TestHandle_Photo_FetchFailure(t *testing.T) {
	h := newHarness(t)
	h.photos.err = errors.New("404")
	if out := h.svc.Handle(context.Background(), photoIn("u1", "")); out != OutcomeGenerationFailed {
		t.Fatalf("outcome=%s", out)
	}
	if got := h.tr.last(); got != format.Escape(ReplyPhotoError) {
		t.Fatalf("reply=%q", got)
	}
	if h.ai.callCount() != 0 {
		t.Fatal("AI must not be called without an image")
	}
	if got := h.rows.user("u1"); got[1] != "0" {
		t.Fatalf("used=%s", got[1])
	}
}

func TestHandle_Photo_QuotaExceeded(t *testing.T) {
	h := newHarness(t)
	h.rows.seedUser("u1", "10", "10")
	if out := h.svc.Handle(context.Background(), photoIn("u1", "")); out != OutcomeQuotaExceeded {
		t.Fatalf("outcome=%s", out)
	}
	if got := h.tr.last(); got != format.Escape(ReplyPhotoQuotaExceeded) {
		t.Fatalf("reply=%q", got)
	}
}

// ----- Commands -----

func TestHandle_Start(t *testing.T) {
	h := newHarness(t)
	h.svc.BotName = "<Bot>"
	if out := h.svc.Handle(context.Background(), cmdIn("u1", "start", "/start")); out != OutcomeGreeted {
		t.Fatalf("outcome=%s", out)
	}
	if got := h.tr.last(); got != "hi! i am &lt;Bot&gt;. I am here to answer your questions and analyze images." {
		t.Fatalf("greeting=%q", got)
	}
}

func TestHandle_UnknownCommandIgnored(t *testing.T) {
	h := newHarness(t)
	if out := h.svc.Handle(context.Background(), cmdIn("u1", "help", "/help")); out != OutcomeIgnored {
		t.Fatalf("outcome=%s", out)
	}
	if len(h.tr.texts) != 0 {
		t.Fatal("no reply expected")
	}
}

func TestRedeem(t *testing.T) {
	cases := []struct {
		name      string
		in        domain.Inbound
		want      Outcome
		reply     string
		wantLimit string
	}{
		{"args", cmdIn("u1", "code", "/code ABC123", "ABC123"), OutcomeRedeemed, ReplyCodeAccepted(10), "20"},
		{"alias", cmdIn("u1", "kod", "/kod 1234", "1234"), OutcomeRedeemed, ReplyCodeAccepted(10), "20"},
		{"glued", cmdIn("u1", "code1234", "/code1234"), OutcomeRedeemed, ReplyCodeAccepted(10), "20"},
		{"empty", cmdIn("u1", "code", "/code"), OutcomeEmptyCode, ReplyEmptyCode, "10"},
		{"invalid", cmdIn("u1", "code", "/code nope", "nope"), OutcomeInvalidCode, ReplyInvalidCode, "10"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.rows.seedUser("u1", "10", "10")
			if out := h.svc.Handle(context.Background(), tc.in); out != tc.want {
				t.Fatalf("outcome=%s, want %s", out, tc.want)
			}
			if got := h.tr.last(); got != format.Escape(tc.reply) {
				t.Fatalf("reply=%q", got)
			}
			row := h.rows.user("u1")
			if row[1] != "10" || row[2] != tc.wantLimit {
				t.Fatalf("row=%v, want used=10 limit=%s", row, tc.wantLimit)
			}
			if len(h.hist.Entries("u1")) != 0 || h.ai.callCount() != 0 {
				t.Fatal("redemption must not touch history or the AI")
			}
		})
	}
}

func TestRedeem_CreatesUserFirst(t *testing.T) {
	h := newHarness(t)
	h.svc.Handle(context.Background(), cmdIn("fresh", "code", "/code", ""))
	if got := h.rows.user("fresh"); !reflect.DeepEqual(got, []string{"fresh", "0", "10"}) {
		t.Fatalf("row=%v", got)
	}
}

func TestRedeem_LedgerUnavailable(t *testing.T) {
	h := newHarness(t)
	h.rows.findErr = errors.New("down")
	if out := h.svc.Handle(context.Background(), cmdIn("u1", "code", "/code 1234", "1234")); out != OutcomeLedgerUnavailable {
		t.Fatalf("outcome=%s", out)
	}
	if got := h.tr.last(); got != format.Escape(ReplySystemError) {
		t.Fatalf("reply=%q", got)
	}
}

func TestRedeem_CustomBonus(t *testing.T) {
	h := newHarness(t)
	h.svc.BonusAmount = 3
	h.svc.Handle(context.Background(), cmdIn("u1", "code", "/code 1234", "1234"))
	if got := h.rows.user("u1"); got[2] != "13" {
		t.Fatalf("limit=%s", got[2])
	}
	if !strings.Contains(h.tr.last(), "3 rights") {
		t.Fatalf("reply=%q", h.tr.last())
	}
}

// ----- Boundary -----

func TestHandle_PanicRecovered(t *testing.T) {
	h := newHarness(t)
	h.ai.panicV = "boom"
	if out := h.svc.Handle(context.Background(), textIn("u1", "q")); out != OutcomePanic {
		t.Fatalf("outcome=%s", out)
	}
	if got := h.tr.last(); got != format.Escape(ReplyTryAgain) {
		t.Fatalf("reply=%q", got)
	}
	if h.ledger.InFlight("u1") != 0 {
		t.Fatal("reservation leaked after panic")
	}
	if got := h.rows.user("u1"); got[1] != "0" {
		t.Fatalf("used=%s", got[1])
	}
}

func TestHandle_UnknownKindIgnored(t *testing.T) {
	h := newHarness(t)
	if out := h.svc.Handle(context.Background(), domain.Inbound{Kind: domain.MessageKind(99)}); out != OutcomeIgnored {
		t.Fatalf("outcome=%s", out)
	}
}

// ----- Concurrency -----

func TestHandle_ConcurrentSameUser(t *testing.T) {
	h := newHarness(t)
	h.rows.seedUser("u1", "8", "10")
	h.ai.entered = make(chan struct{}, 2)
	h.ai.gate = make(chan struct{})
	ctx := context.Background()

	var wg sync.WaitGroup
	outs := make([]Outcome, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outs[i] = h.svc.Handle(ctx, textIn("u1", "q"))
		}(i)
	}
	// both requests hold a slot and are waiting on the AI
	<-h.ai.entered
	<-h.ai.entered

	if out := h.svc.Handle(ctx, textIn("u1", "third")); out != OutcomeQuotaExceeded {
		t.Fatalf("third outcome=%s, want quota_exceeded", out)
	}

	close(h.ai.gate)
	wg.Wait()

	for i, o := range outs {
		if o != OutcomeAnswered {
			t.Fatalf("request %d outcome=%s", i, o)
		}
	}
	if got := h.rows.user("u1"); got[1] != "10" {
		t.Fatalf("used=%s, want 10", got[1])
	}
	if out := h.svc.Handle(ctx, textIn("u1", "fourth")); out != OutcomeQuotaExceeded {
		t.Fatalf("fourth outcome=%s", out)
	}
}
