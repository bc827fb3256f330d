package purchase

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"cntrlx-store/internal/domain"
	"cntrlx-store/internal/entitlement"
	"cntrlx-store/internal/payment"
	purchaserepo "cntrlx-store/internal/repository/purchase"
	"github.com/shopspring/decimal"
)

type stubProvider struct {
	event       *payment.Event
	parseErr    error
	sessions    map[string]*payment.Session
	getErr      error
	lineFetches int
}

func (s *stubProvider) ParseWebhook(payload []byte, signature string) (*payment.Event, error) {
	if s.parseErr != nil {
		return nil, s.parseErr
	}
	return s.event, nil
}

func (s *stubProvider) GetSession(_ context.Context, id string, withLineItems bool) (*payment.Session, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	sess, ok := s.sessions[id]
	if !ok {
		return nil, payment.ErrSessionNotFound
	}
	out := *sess
	if withLineItems {
		s.lineFetches++
	} else {
		out.LineItems = nil
	}
	return &out, nil
}

type failingRepo struct{ purchaserepo.Repository }

func (failingRepo) Insert(context.Context, purchaserepo.CreateInput) (*domain.Purchase, bool, error) {
	return nil, false, errors.New("connection refused")
}

func (failingRepo) Get(context.Context, string, string) (*domain.Purchase, error) {
	return nil, domain.ErrNotFound
}

var now = time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

func apexMetadata(t *testing.T, userID string) map[string]string {
	t.Helper()
	md, err := payment.EncodeItems([]domain.PurchasedItem{
		{ProductID: "apex", Name: "Apex Zen Script", Price: decimal.NewFromInt(15)},
	})
	if err != nil {
		t.Fatalf("encode items: %v", err)
	}
	if userID != "" {
		md[payment.MetaUserID] = userID
	}
	return md
}

func paidSession(id string, md map[string]string) *payment.Session {
	return &payment.Session{ID: id, Paid: true, PaymentStatus: "paid", Metadata: md}
}

func newService(repo purchaserepo.Repository, p *stubProvider) *Service {
	return New(repo, p, 24*time.Hour, WithClock(func() time.Time { return now }))
}

func expectReason(t *testing.T, err error, kind domain.Kind, reason string) {
	t.Helper()
	var de *domain.Error
	if !errors.As(err, &de) {
		t.Fatalf("expected domain error, got %v", err)
	}
	if de.Kind != kind || de.Reason != reason {
		t.Fatalf("expected %d/%s, got %d/%s", kind, reason, de.Kind, de.Reason)
	}
}

func mustGet(t *testing.T, repo purchaserepo.Repository, userID, sessionID string) *domain.Purchase {
	t.Helper()
	p, err := repo.Get(context.Background(), userID, sessionID)
	if err != nil {
		t.Fatalf("get %s/%s: %v", userID, sessionID, err)
	}
	return p
}

func TestHandleWebhook_RecordsOnce(t *testing.T) {
	repo := purchaserepo.NewMemory()
	p := &stubProvider{event: &payment.Event{
		ID:      "evt_1",
		Type:    payment.EventCheckoutCompleted,
		Session: paidSession("cs_1", apexMetadata(t, "user-a")),
	}}
	svc := newService(repo, p)

	res, err := svc.HandleWebhook(context.Background(), []byte(`{}`), "t=1,v1=x")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Received || !res.Recorded {
		t.Fatalf("expected received and recorded, got %+v", res)
	}

	res, err = svc.HandleWebhook(context.Background(), []byte(`{}`), "t=1,v1=x")
	if err != nil {
		t.Fatalf("unexpected error on redelivery: %v", err)
	}
	if !res.Received || res.Recorded {
		t.Fatalf("redelivery must be acknowledged without recording, got %+v", res)
	}
	if repo.Len() != 1 {
		t.Fatalf("expected 1 purchase, got %d", repo.Len())
	}

	got := mustGet(t, repo, "user-a", "cs_1")
	if len(got.Items) != 1 || got.Items[0].ProductID != "apex" {
		t.Fatalf("unexpected items %+v", got.Items)
	}
}

func TestHandleWebhook_UsesClientReferenceWhenMetadataLacksUser(t *testing.T) {
	repo := purchaserepo.NewMemory()
	sess := paidSession("cs_ref", apexMetadata(t, ""))
	sess.ClientReferenceID = "user-a"
	p := &stubProvider{event: &payment.Event{Type: payment.EventCheckoutCompleted, Session: sess}}

	res, err := newService(repo, p).HandleWebhook(context.Background(), []byte(`{}`), "sig")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Recorded {
		t.Fatalf("expected purchase to be recorded, got %+v", res)
	}
	got := mustGet(t, repo, "user-a", "cs_ref")
	if !entitlement.Derive(got.Items).Has(entitlement.Apex) {
		t.Fatalf("expected apex entitlement, got %+v", got.Items)
	}
}

func TestHandleWebhook_Acknowledges(t *testing.T) {
	cases := map[string]*payment.Event{
		"other event":  {Type: "payment_intent.created"},
		"no session":   {Type: payment.EventCheckoutCompleted},
		"unpaid":       {Type: payment.EventCheckoutCompleted, Session: &payment.Session{ID: "cs_1", PaymentStatus: "unpaid", Metadata: map[string]string{"user_id": "u"}}},
		"missing user": {Type: payment.EventCheckoutAsyncPaymentSucceed, Session: paidSession("cs_1", map[string]string{})},
	}
	for name, ev := range cases {
		t.Run(name, func(t *testing.T) {
			repo := purchaserepo.NewMemory()
			svc := newService(repo, &stubProvider{event: ev})
			res, err := svc.HandleWebhook(context.Background(), []byte(`{}`), "sig")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !res.Received || res.Recorded {
				t.Fatalf("expected acknowledgement only, got %+v", res)
			}
			if repo.Len() != 0 {
				t.Fatalf("expected nothing recorded, got %d", repo.Len())
			}
		})
	}
}

func TestHandleWebhook_Rejections(t *testing.T) {
	repo := purchaserepo.NewMemory()

	_, err := newService(repo, &stubProvider{}).HandleWebhook(context.Background(), []byte(`{}`), "")
	expectReason(t, err, domain.KindValidation, domain.ReasonInvalidSignature)

	_, err = newService(repo, &stubProvider{parseErr: payment.ErrInvalidSignature}).HandleWebhook(context.Background(), []byte(`{}`), "bad")
	expectReason(t, err, domain.KindValidation, domain.ReasonInvalidSignature)

	_, err = newService(repo, &stubProvider{parseErr: payment.ErrNotConfigured}).HandleWebhook(context.Background(), []byte(`{}`), "sig")
	expectReason(t, err, domain.KindConfiguration, domain.ReasonConfiguration)

	p := &stubProvider{event: &payment.Event{
		Type:    payment.EventCheckoutCompleted,
		Session: paidSession("cs_1", apexMetadata(t, "user-a")),
	}}
	_, err = newService(failingRepo{}, p).HandleWebhook(context.Background(), []byte(`{}`), "sig")
	expectReason(t, err, domain.KindUpstream, domain.ReasonUpstream)
}

func TestHandleWebhook_FallsBackToLineItems(t *testing.T) {
	repo := purchaserepo.NewMemory()
	full := paidSession("cs_legacy", map[string]string{payment.MetaUserID: "user-a"})
	full.LineItems = []payment.SessionLineItem{
		{ProductID: "cod", Name: "COD Zen Script", AmountTotal: 2000},
		{Name: "VISION-X Computer Vision", AmountTotal: 50000},
	}
	webhookSession := *full
	webhookSession.LineItems = nil
	p := &stubProvider{
		event:    &payment.Event{Type: payment.EventCheckoutCompleted, Session: &webhookSession},
		sessions: map[string]*payment.Session{"cs_legacy": full},
	}

	if _, err := newService(repo, p).HandleWebhook(context.Background(), []byte(`{}`), "sig"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.lineFetches != 1 {
		t.Fatalf("expected one line item fetch, got %d", p.lineFetches)
	}

	got := mustGet(t, repo, "user-a", "cs_legacy")
	if len(got.Items) != 2 {
		t.Fatalf("expected 2 items, got %+v", got.Items)
	}
	if !got.Items[0].Price.Equal(decimal.NewFromInt(20)) || !got.Items[1].Price.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("unexpected prices %s, %s", got.Items[0].Price, got.Items[1].Price)
	}

	flags := entitlement.Derive(got.Items)
	if !flags.Has(entitlement.COD) || !flags.Has(entitlement.VisionX) {
		t.Fatalf("expected cod and vision-x entitlements, got %v", flags.Map())
	}
}

func TestRecover(t *testing.T) {
	ctx := context.Background()
	repo := purchaserepo.NewMemory()
	unpaid := &payment.Session{ID: "cs_unpaid", PaymentStatus: "unpaid", Metadata: apexMetadata(t, "user-a")}
	p := &stubProvider{sessions: map[string]*payment.Session{
		"cs_1":      paidSession("cs_1", apexMetadata(t, "user-a")),
		"cs_unpaid": unpaid,
	}}
	svc := newService(repo, p)

	_, err := svc.Recover(ctx, "", "cs_1")
	expectReason(t, err, domain.KindAuthRequired, domain.ReasonAuthRequired)

	_, err = svc.Recover(ctx, "user-a", "")
	expectReason(t, err, domain.KindValidation, domain.ReasonInvalidRequest)

	_, err = svc.Recover(ctx, "user-a", "cs_missing")
	expectReason(t, err, domain.KindNotFound, domain.ReasonSessionNotFound)

	_, err = svc.Recover(ctx, "user-b", "cs_1")
	expectReason(t, err, domain.KindOwnership, domain.ReasonNotOwner)
	if repo.Len() != 0 {
		t.Fatalf("another user's session must never be recorded")
	}

	_, err = svc.Recover(ctx, "user-a", "cs_unpaid")
	expectReason(t, err, domain.KindValidation, domain.ReasonPaymentIncomplete)

	res, err := svc.Recover(ctx, "user-a", "cs_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Recovered || res.ItemCount != 1 {
		t.Fatalf("expected recovery of 1 item, got %+v", res)
	}

	res, err = svc.Recover(ctx, "user-a", "cs_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Recovered || res.Reason != RecoverAlreadyExists {
		t.Fatalf("expected already_exists, got %+v", res)
	}
	if repo.Len() != 1 {
		t.Fatalf("expected 1 purchase, got %d", repo.Len())
	}
}

func TestRecover_OwnershipFromClientReference(t *testing.T) {
	ctx := context.Background()
	sess := paidSession("cs_ref", apexMetadata(t, ""))
	sess.ClientReferenceID = "user-a"
	repo := purchaserepo.NewMemory()
	svc := newService(repo, &stubProvider{sessions: map[string]*payment.Session{"cs_ref": sess}})

	_, err := svc.Recover(ctx, "user-b", "cs_ref")
	expectReason(t, err, domain.KindOwnership, domain.ReasonNotOwner)

	res, err := svc.Recover(ctx, "user-a", "cs_ref")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Recovered {
		t.Fatalf("expected recovery, got %+v", res)
	}
}

func TestRecover_ProviderFault(t *testing.T) {
	svc := newService(purchaserepo.NewMemory(), &stubProvider{getErr: payment.ErrUnavailable})
	_, err := svc.Recover(context.Background(), "user-a", "cs_1")
	expectReason(t, err, domain.KindUpstream, domain.ReasonUpstream)

	svc = newService(purchaserepo.NewMemory(), &stubProvider{getErr: payment.ErrNotConfigured})
	_, err = svc.Recover(context.Background(), "user-a", "cs_1")
	expectReason(t, err, domain.KindConfiguration, domain.ReasonConfiguration)
}

func TestList(t *testing.T) {
	ctx := context.Background()
	repo := purchaserepo.NewMemory()
	apex := []domain.PurchasedItem{{ProductID: "apex", Name: "Apex Zen Script", Price: decimal.NewFromInt(15)}}
	for _, in := range []purchaserepo.CreateInput{
		{UserID: "u", SessionID: "cs_old", Items: apex, CreatedAt: now.Add(-48 * time.Hour)},
		{UserID: "u", SessionID: "cs_new", Items: apex, CreatedAt: now.Add(-time.Hour)},
	} {
		if _, _, err := repo.Insert(ctx, in); err != nil {
			t.Fatalf("insert %s: %v", in.SessionID, err)
		}
	}

	views, err := newService(repo, &stubProvider{}).List(ctx, "u")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("expected 2 views, got %d", len(views))
	}

	latest := views[0]
	if latest.SessionID != "cs_new" || latest.Expired {
		t.Fatalf("expected unexpired cs_new first, got %s expired=%v", latest.SessionID, latest.Expired)
	}
	if !latest.ExpiresAt.Equal(now.Add(23 * time.Hour)) {
		t.Fatalf("unexpected expiry %s", latest.ExpiresAt)
	}
	if !latest.Entitlements.Has(entitlement.Apex) || latest.Entitlements.Has(entitlement.COD) {
		t.Fatalf("unexpected entitlements %v", latest.Entitlements.Map())
	}
	if views[1].SessionID != "cs_old" || !views[1].Expired {
		t.Fatalf("expected expired cs_old second, got %s expired=%v", views[1].SessionID, views[1].Expired)
	}

	_, err = newService(repo, &stubProvider{}).List(ctx, "")
	expectReason(t, err, domain.KindAuthRequired, domain.ReasonAuthRequired)
}

func TestVerifySession(t *testing.T) {
	ctx := context.Background()
	p := &stubProvider{sessions: map[string]*payment.Session{
		"cs_1":      paidSession("cs_1", apexMetadata(t, "user-a")),
		"cs_unpaid": {ID: "cs_unpaid", PaymentStatus: "unpaid", Metadata: apexMetadata(t, "user-a")},
	}}
	svc := newService(purchaserepo.NewMemory(), p)

	v, err := svc.VerifySession(ctx, "user-a", "cs_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v.Paid || len(v.Items) != 1 || !v.Entitlements.Has(entitlement.Apex) {
		t.Fatalf("unexpected verification %+v", v)
	}

	_, err = svc.VerifySession(ctx, "user-a", "cs_unpaid")
	expectReason(t, err, domain.KindValidation, domain.ReasonPaymentIncomplete)

	_, err = svc.VerifySession(ctx, "user-b", "cs_1")
	expectReason(t, err, domain.KindOwnership, domain.ReasonNotOwner)
}

func TestDebug(t *testing.T) {
	ctx := context.Background()
	repo := purchaserepo.NewMemory()
	if _, _, err := repo.Insert(ctx, purchaserepo.CreateInput{UserID: "u", SessionID: "cs_1"}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	d, err := newService(repo, &stubProvider{}).Debug(ctx, "u", "cs_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.UserID != "u" || d.PurchaseCount != 1 || !d.SessionFound {
		t.Fatalf("unexpected diagnostics %+v", d)
	}
	if !reflect.DeepEqual(d.Sessions, []string{"cs_1"}) {
		t.Fatalf("unexpected sessions %v", d.Sessions)
	}

	d, err = newService(repo, &stubProvider{}).Debug(ctx, "u", "cs_other")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.SessionFound {
		t.Fatalf("expected cs_other to be reported missing")
	}
}
