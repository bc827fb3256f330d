package download

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"cntrlx-store/internal/assets"
	"cntrlx-store/internal/domain"
	purchaserepo "cntrlx-store/internal/repository/purchase"
	"github.com/klauspost/compress/zip"
	"github.com/shopspring/decimal"
)

var created = time.Date(2026, 4, 1, 9, 30, 0, 0, time.UTC)

type fixture struct {
	repo  *purchaserepo.Memory
	store *assets.Local
	dir   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	for name, body := range map[string]string{
		"Cntrl-X-Apex.gpc":                "apex-bytes",
		"Cntrl-X-Arc.gpc":                 "arc",
		"Cntrl-X-COD.gpc":                 "cod",
		"Cntrl-X-Fortnite.gpc":            "fortnite",
		"Cntrl-X-Rust.gpc":                "rust",
		"Cntrl-X-Siege.gpc":               "siege",
		"Cntrl-X-2K.gpc":                  "2k",
		"Vision-X-Tempo/main.py":          "print('x')",
		"Vision-X-Tempo/models/best.onnx": "weights",
	} {
		p := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	store, err := assets.NewLocal(dir)
	if err != nil {
		t.Fatalf("open assets: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return &fixture{repo: purchaserepo.NewMemory(), store: store, dir: dir}
}

func (f *fixture) record(t *testing.T, userID, sessionID string, items ...domain.PurchasedItem) {
	t.Helper()
	_, _, err := f.repo.Insert(context.Background(), purchaserepo.CreateInput{
		UserID: userID, SessionID: sessionID, Items: items, CreatedAt: created,
	})
	if err != nil {
		t.Fatalf("record %s: %v", sessionID, err)
	}
}

func (f *fixture) service(at time.Time) *Service {
	return New(f.repo, f.store, 24*time.Hour, WithClock(func() time.Time { return at }))
}

func item(id, name string, price int64) domain.PurchasedItem {
	return domain.PurchasedItem{ProductID: id, Name: name, Price: decimal.NewFromInt(price)}
}

func expectKind(t *testing.T, err error, kind domain.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error of kind %d, got nil", kind)
	}
	if got := domain.KindOf(err); got != kind {
		t.Fatalf("expected kind %d, got %d (%v)", kind, got, err)
	}
}

func archiveNames(t *testing.T, d *Download) []string {
	t.Helper()
	var buf bytes.Buffer
	if err := d.WriteTo(context.Background(), &buf); err != nil {
		t.Fatalf("write archive: %v", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("read archive: %v", err)
	}
	names := make([]string, 0, len(zr.File))
	for _, zf := range zr.File {
		names = append(names, zf.Name)
	}
	return names
}

func TestPrepare_Script(t *testing.T) {
	f := newFixture(t)
	f.record(t, "user-a", "cs_1", item("apex", "Apex Zen Script", 15))
	svc := f.service(created.Add(time.Hour))

	d, err := svc.Prepare(context.Background(), Request{UserID: "user-a", SessionID: "cs_1", Type: TypeScript, Script: "apex"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Filename != "Cntrl-X-Apex.gpc" || d.ContentType != "application/octet-stream" {
		t.Fatalf("unexpected download %s (%s)", d.Filename, d.ContentType)
	}
	if d.Size != int64(len("apex-bytes")) {
		t.Fatalf("unexpected size %d", d.Size)
	}
	if got := d.ContentDisposition(); got != `attachment; filename="Cntrl-X-Apex.gpc"` {
		t.Fatalf("unexpected disposition %q", got)
	}

	var buf bytes.Buffer
	if err := d.WriteTo(context.Background(), &buf); err != nil {
		t.Fatalf("write: %v", err)
	}
	if buf.String() != "apex-bytes" {
		t.Fatalf("unexpected body %q", buf.String())
	}

	_, err = svc.Prepare(context.Background(), Request{UserID: "user-a", SessionID: "cs_1", Type: TypeScript, Script: "cod"})
	expectKind(t, err, domain.KindEntitlement)
}

func TestPrepare_ExpiryBoundary(t *testing.T) {
	f := newFixture(t)
	f.record(t, "user-a", "cs_1", item("apex", "Apex Zen Script", 15))
	req := Request{UserID: "user-a", SessionID: "cs_1", Type: TypeScript, Script: "apex"}

	if _, err := f.service(created.Add(24*time.Hour-time.Second)).Prepare(context.Background(), req); err != nil {
		t.Fatalf("one second before the window ends: %v", err)
	}
	if _, err := f.service(created.Add(24*time.Hour)).Prepare(context.Background(), req); err != nil {
		t.Fatalf("exactly at the window end: %v", err)
	}

	_, err := f.service(created.Add(24*time.Hour+time.Second)).Prepare(context.Background(), req)
	expectKind(t, err, domain.KindExpired)
}

func TestPrepare_GateOrder(t *testing.T) {
	f := newFixture(t)
	f.record(t, "user-a", "cs_1", item("apex", "Apex Zen Script", 15))
	expired := f.service(created.Add(48 * time.Hour))

	// Another user's expired, unentitled request still only sees ownership.
	_, err := expired.Prepare(context.Background(), Request{UserID: "user-b", SessionID: "cs_1", Type: TypeScript, Script: "cod"})
	expectKind(t, err, domain.KindOwnership)

	// Expiry is reported before entitlement.
	_, err = expired.Prepare(context.Background(), Request{UserID: "user-a", SessionID: "cs_1", Type: TypeScript, Script: "cod"})
	expectKind(t, err, domain.KindExpired)

	_, err = expired.Prepare(context.Background(), Request{SessionID: "cs_1", Type: TypeScript, Script: "apex"})
	expectKind(t, err, domain.KindAuthRequired)
}

func TestPrepare_OwnershipIsolation(t *testing.T) {
	f := newFixture(t)
	f.record(t, "user-a", "cs_1", item("apex", "Apex Zen Script", 15))
	svc := f.service(created.Add(time.Hour))

	_, err := svc.Prepare(context.Background(), Request{UserID: "user-b", SessionID: "cs_1", Type: TypeScript, Script: "apex"})
	expectKind(t, err, domain.KindOwnership)

	_, err = svc.Prepare(context.Background(), Request{UserID: "user-b", SessionID: "cs_nope", Type: TypeScript, Script: "apex"})
	expectKind(t, err, domain.KindOwnership)
}

func TestPrepare_InvalidRequests(t *testing.T) {
	f := newFixture(t)
	svc := f.service(created)
	cases := []Request{
		{UserID: "u", Type: TypeScript, Script: "apex"},
		{UserID: "u", SessionID: "cs_1"},
		{UserID: "u", SessionID: "cs_1", Type: "firmware"},
		{UserID: "u", SessionID: "cs_1", Type: TypeScript, Script: "minecraft"},
		{UserID: "u", SessionID: "cs_1", Type: TypeScript},
	}
	for _, req := range cases {
		_, err := svc.Prepare(context.Background(), req)
		expectKind(t, err, domain.KindValidation)
	}
}

func TestPrepare_AllScriptsArchive(t *testing.T) {
	f := newFixture(t)
	f.record(t, "user-a", "cs_bundle", item("all-scripts", "All Zen Scripts Bundle", 100))
	svc := f.service(created.Add(time.Hour))

	d, err := svc.Prepare(context.Background(), Request{UserID: "user-a", SessionID: "cs_bundle", Type: TypeAllScripts})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Filename != "Cntrl-X-All-Scripts.zip" || d.ContentType != "application/zip" {
		t.Fatalf("unexpected download %s (%s)", d.Filename, d.ContentType)
	}

	want := []string{
		"Cntrl-X-Apex.gpc", "Cntrl-X-Arc.gpc", "Cntrl-X-COD.gpc", "Cntrl-X-Fortnite.gpc",
		"Cntrl-X-Rust.gpc", "Cntrl-X-Siege.gpc", "Cntrl-X-2K.gpc",
	}
	if got := archiveNames(t, d); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected entries %v", got)
	}

	// The bundle does not grant individual scripts.
	_, err = svc.Prepare(context.Background(), Request{UserID: "user-a", SessionID: "cs_bundle", Type: TypeScript, Script: "apex"})
	expectKind(t, err, domain.KindEntitlement)
}

func TestPrepare_MissingAsset(t *testing.T) {
	f := newFixture(t)
	f.record(t, "user-a", "cs_bundle", item("all-scripts", "All Zen Scripts Bundle", 100))
	f.record(t, "user-a", "cs_rust", item("rust", "Rust Zen Script", 20))
	if err := os.Remove(filepath.Join(f.dir, "Cntrl-X-Rust.gpc")); err != nil {
		t.Fatalf("remove: %v", err)
	}
	svc := f.service(created.Add(time.Hour))

	_, err := svc.Prepare(context.Background(), Request{UserID: "user-a", SessionID: "cs_bundle", Type: TypeAllScripts})
	expectKind(t, err, domain.KindAssetMissing)

	_, err = svc.Prepare(context.Background(), Request{UserID: "user-a", SessionID: "cs_rust", Type: TypeScript, Script: "rust"})
	expectKind(t, err, domain.KindAssetMissing)
}

func TestPrepare_VisionX(t *testing.T) {
	f := newFixture(t)
	f.record(t, "user-a", "cs_vx", domain.PurchasedItem{Name: "VISION-X Computer Vision", Price: decimal.NewFromInt(500)})
	svc := f.service(created.Add(time.Hour))

	d, err := svc.Prepare(context.Background(), Request{UserID: "user-a", SessionID: "cs_vx", Type: TypeVisionX})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Filename != "Vision-X-Tempo.zip" {
		t.Fatalf("unexpected filename %s", d.Filename)
	}
	want := []string{"Vision-X-Tempo/main.py", "Vision-X-Tempo/models/best.onnx"}
	if got := archiveNames(t, d); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected entries %v", got)
	}

	if err := os.RemoveAll(filepath.Join(f.dir, "Vision-X-Tempo")); err != nil {
		t.Fatalf("remove: %v", err)
	}
	_, err = svc.Prepare(context.Background(), Request{UserID: "user-a", SessionID: "cs_vx", Type: TypeVisionX})
	expectKind(t, err, domain.KindAssetMissing)
}
