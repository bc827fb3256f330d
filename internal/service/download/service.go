package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"cntrlx-store/internal/assets"
	"cntrlx-store/internal/domain"
	"cntrlx-store/internal/entitlement"
)

// Type selects what a download request asks for.
type Type string

const (
	TypeScript     Type = "script"
	TypeAllScripts Type = "all-scripts"
	TypeVisionX    Type = "vision-x"
)

type script struct {
	file string
	flag entitlement.Flag
}

var scripts = map[string]script{
	"control-x": {"CONTROL+X.gpc", entitlement.ControlX},
	"2k":        {"Cntrl-X-2K.gpc", entitlement.TwoK},
	"cod":       {"Cntrl-X-COD.gpc", entitlement.COD},
	"apex":      {"Cntrl-X-Apex.gpc", entitlement.Apex},
	"arc":       {"Cntrl-X-Arc.gpc", entitlement.Arc},
	"fortnite":  {"Cntrl-X-Fortnite.gpc", entitlement.Fortnite},
	"siege":     {"Cntrl-X-Siege.gpc", entitlement.Siege},
	"rust":      {"Cntrl-X-Rust.gpc", entitlement.Rust},
}

// bundleScripts are packed into the all-scripts archive, in this order.
var bundleScripts = []string{"apex", "arc", "cod", "fortnite", "rust", "siege", "2k"}

const (
	bundleArchive  = "Cntrl-X-All-Scripts.zip"
	visionXDir     = "Vision-X-Tempo"
	visionXArchive = "Vision-X-Tempo.zip"
)

type purchaseGetter interface {
	Get(ctx context.Context, userID, sessionID string) (*domain.Purchase, error)
}

// Service releases purchased assets. Checks run in a fixed order so a
// caller who does not own a session learns nothing else about it.
type Service struct {
	purchases purchaseGetter
	store     assets.Store
	window    time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func New(purchases purchaseGetter, store assets.Store, window time.Duration, opts ...Option) *Service {
	s := &Service{
		purchases: purchases,
		store:     store,
		window:    window,
		now:       time.Now,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Request identifies the asset a user wants from one of their purchases.
type Request struct {
	UserID    string
	SessionID string
	Type      Type
	// Script is the product id of the script for TypeScript.
	Script string
}

// Download is an asset cleared for streaming.
type Download struct {
	Filename    string
	ContentType string
	// Size is the byte length for single files and -1 for archives.
	Size int64

	store   assets.Store
	single  string
	entries []assets.Entry
}

// ContentDisposition returns the attachment header value.
func (d *Download) ContentDisposition() string {
	return fmt.Sprintf("attachment; filename=%q", d.Filename)
}

// WriteTo streams the asset body to w.
func (d *Download) WriteTo(ctx context.Context, w io.Writer) error {
	if d.single != "" {
		rc, err := d.store.Open(ctx, d.single)
		if err != nil {
			return fmt.Errorf("open %s: %w", d.single, err)
		}
		defer rc.Close()
		if _, err := io.Copy(w, rc); err != nil {
			return fmt.Errorf("stream %s: %w", d.single, err)
		}
		return nil
	}
	return assets.WriteZip(ctx, w, d.store, d.entries)
}

// Prepare runs every gate for req and returns the asset to stream.
func (s *Service) Prepare(ctx context.Context, req Request) (*Download, error) {
	if req.UserID == "" {
		return nil, domain.AuthRequired("Sign in required")
	}
	required, err := requiredFlag(req)
	if err != nil {
		return nil, err
	}

	p, err := s.purchases.Get(ctx, req.UserID, req.SessionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.Ownership()
		}
		return nil, domain.Upstream("Failed to look up purchase", err)
	}

	if p.Expired(s.now(), s.window) {
		return nil, domain.Expired(fmt.Sprintf(
			"Download window has expired. Downloads are available for %s after purchase", humanWindow(s.window)))
	}

	if !entitlement.Derive(p.Items).Has(required) {
		return nil, domain.NotEntitled("This purchase does not include the requested download")
	}

	d, err := s.locate(ctx, req)
	if err != nil {
		if assets.IsNotExist(err) {
			s.logger.ErrorContext(ctx, "asset missing", "type", req.Type, "script", req.Script, "err", err)
			return nil, domain.AssetMissing("The requested file is temporarily unavailable", err)
		}
		return nil, domain.Upstream("Failed to read asset store", err)
	}
	s.logger.InfoContext(ctx, "download released",
		"user_id", req.UserID, "session_id", req.SessionID, "type", req.Type, "file", d.Filename)
	return d, nil
}

func requiredFlag(req Request) (entitlement.Flag, error) {
	if req.SessionID == "" {
		return "", domain.Validation(domain.ReasonInvalidRequest, "session_id is required")
	}
	switch req.Type {
	case TypeScript:
		sc, ok := scripts[strings.ToLower(strings.TrimSpace(req.Script))]
		if !ok {
			return "", domain.Validation(domain.ReasonInvalidRequest, "Unknown script")
		}
		return sc.flag, nil
	case TypeAllScripts:
		return entitlement.AllBundle, nil
	case TypeVisionX:
		return entitlement.VisionX, nil
	case "":
		return "", domain.Validation(domain.ReasonInvalidRequest, "type is required")
	default:
		return "", domain.Validation(domain.ReasonInvalidRequest, "Unknown download type")
	}
}

func (s *Service) locate(ctx context.Context, req Request) (*Download, error) {
	switch req.Type {
	case TypeScript:
		sc := scripts[strings.ToLower(strings.TrimSpace(req.Script))]
		size, err := s.store.Stat(ctx, sc.file)
		if err != nil {
			return nil, fmt.Errorf("asset %s: %w", sc.file, err)
		}
		return &Download{
			Filename:    sc.file,
			ContentType: "application/octet-stream",
			Size:        size,
			store:       s.store,
			single:      sc.file,
		}, nil

	case TypeAllScripts:
		entries := make([]assets.Entry, 0, len(bundleScripts))
		for _, id := range bundleScripts {
			f := scripts[id].file
			entries = append(entries, assets.Entry{Source: f, Name: f})
		}
		if err := assets.CheckAll(ctx, s.store, entries); err != nil {
			return nil, err
		}
		return s.archive(bundleArchive, entries), nil

	default:
		names, err := s.store.List(ctx, visionXDir)
		if err != nil {
			return nil, fmt.Errorf("asset dir %s: %w", visionXDir, err)
		}
		entries := make([]assets.Entry, 0, len(names))
		for _, n := range names {
			entries = append(entries, assets.Entry{Source: n, Name: n})
		}
		return s.archive(visionXArchive, entries), nil
	}
}

func (s *Service) archive(name string, entries []assets.Entry) *Download {
	return &Download{
		Filename:    name,
		ContentType: "application/zip",
		Size:        -1,
		store:       s.store,
		entries:     entries,
	}
}

func humanWindow(d time.Duration) string {
	if d%time.Hour == 0 {
		return fmt.Sprintf("%d hours", int(d/time.Hour))
	}
	return d.String()
}
