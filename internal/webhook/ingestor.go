package webhook

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/savecodenow/internal/savecode"
	"github.com/JakeFAU/savecodenow/internal/telemetry"
)

// DefaultCooldown is how long a webhook-created request suppresses new ones
// for the same origin.
const DefaultCooldown = time.Minute

const keyLockStripes = 32

// Creator submits save requests. The lifecycle manager satisfies it.
type Creator interface {
	Create(ctx context.Context, visitType, originURL string, sub savecode.Submitter) (savecode.SaveRequest, error)
}

// Lister finds recent requests for the cooldown check.
type Lister interface {
	ListRequests(ctx context.Context, filter savecode.ListFilter, page savecode.Page) ([]savecode.SaveRequest, error)
}

// Options wires an Ingestor.
type Options struct {
	Creator        Creator
	Lister         Lister
	Clock          savecode.Clock
	Logger         *zap.Logger
	Adapters       []Adapter
	Secret         string
	Cooldown       time.Duration
	AllowedSchemes []string
}

// Result describes how a delivery was handled.
type Result struct {
	Request savecode.SaveRequest
	// Reused is set when the cooldown returned an existing request.
	Reused bool
}

// Ingestor handles webhook deliveries.
type Ingestor struct {
	creator        Creator
	lister         Lister
	clock          savecode.Clock
	logger         *zap.Logger
	adapters       map[string]Adapter
	secret         string
	allowedSchemes []string
	cooldown       atomic.Int64

	keyLocks [keyLockStripes]sync.Mutex
}

// NewIngestor validates opts and builds an Ingestor. A negative cooldown is
// rejected; zero disables it.
func NewIngestor(opts Options) (*Ingestor, error) {
	if opts.Creator == nil || opts.Lister == nil {
		return nil, errors.New("webhook: creator and lister are required")
	}
	if opts.Clock == nil {
		return nil, errors.New("webhook: clock is required")
	}
	if opts.Cooldown < 0 {
		return nil, errors.New("webhook: cooldown must be >= 0")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	in := &Ingestor{
		creator:        opts.Creator,
		lister:         opts.Lister,
		clock:          opts.Clock,
		logger:         logger,
		adapters:       make(map[string]Adapter, len(opts.Adapters)),
		secret:         opts.Secret,
		allowedSchemes: opts.AllowedSchemes,
	}
	for _, a := range opts.Adapters {
		if a == nil {
			continue
		}
		if _, dup := in.adapters[a.Name()]; dup {
			return nil, fmt.Errorf("webhook: duplicate adapter %q", a.Name())
		}
		in.adapters[a.Name()] = a
	}
	in.cooldown.Store(int64(opts.Cooldown))
	return in, nil
}

// SetCooldown changes the cooldown at runtime.
func (in *Ingestor) SetCooldown(d time.Duration) {
	if d < 0 {
		d = 0
	}
	in.cooldown.Store(int64(d))
}

// Cooldown returns the current cooldown.
func (in *Ingestor) Cooldown() time.Duration {
	return time.Duration(in.cooldown.Load())
}

// Adapters lists the registered adapter names.
func (in *Ingestor) Adapters() []string {
	out := make([]string, 0, len(in.adapters))
	for name := range in.adapters {
		out = append(out, name)
	}
	return out
}

// Ingest handles one delivery for the named adapter.
func (in *Ingestor) Ingest(ctx context.Context, adapterName string, headers http.Header, body []byte) (Result, error) {
	adapter, ok := in.adapters[adapterName]
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownAdapter, adapterName)
	}
	logger := in.logger.With(zap.String("adapter", adapterName))

	if in.secret != "" {
		if err := VerifySignature(in.secret, headers.Get(SignatureHeader), body); err != nil {
			telemetry.ObserveWebhook(adapterName, "unauthorized")
			logger.Warn("webhook signature rejected")
			return Result{}, err
		}
	}

	origin, err := adapter.Parse(headers, body)
	if err != nil {
		if errors.Is(err, ErrIgnoredEvent) {
			telemetry.ObserveWebhook(adapterName, "ignored")
			logger.Debug("webhook event ignored", zap.Error(err))
			return Result{}, err
		}
		telemetry.ObserveWebhook(adapterName, "invalid")
		return Result{}, err
	}
	normalized, err := savecode.NormalizeOriginURL(origin.OriginURL, in.allowedSchemes)
	if err != nil {
		telemetry.ObserveWebhook(adapterName, "invalid")
		return Result{}, err
	}
	logger = logger.With(zap.String("visit_type", origin.VisitType), zap.String("origin_url", normalized))

	key := savecode.OriginKey{VisitType: origin.VisitType, OriginURL: normalized}
	unlock := in.lock(key)
	defer unlock()

	if recent, found, err := in.recent(ctx, key); err != nil {
		telemetry.ObserveWebhook(adapterName, "error")
		return Result{}, err
	} else if found {
		telemetry.ObserveWebhook(adapterName, "cooldown")
		logger.Debug("webhook within cooldown, reusing request", zap.Int64("request_id", recent.ID))
		return Result{Request: recent, Reused: true}, nil
	}

	req, err := in.creator.Create(ctx, origin.VisitType, normalized, savecode.Submitter{Webhook: adapterName})
	switch {
	case errors.Is(err, savecode.ErrForbiddenOrigin):
		telemetry.ObserveWebhook(adapterName, "rejected")
		return Result{Request: req}, err
	case err != nil:
		telemetry.ObserveWebhook(adapterName, "error")
		return Result{}, err
	}
	telemetry.ObserveWebhook(adapterName, "created")
	logger.Info("webhook save request created", zap.Int64("request_id", req.ID), zap.String("status", string(req.Status)))
	return Result{Request: req}, nil
}

func (in *Ingestor) recent(ctx context.Context, key savecode.OriginKey) (savecode.SaveRequest, bool, error) {
	cooldown := in.Cooldown()
	if cooldown <= 0 {
		return savecode.SaveRequest{}, false, nil
	}
	fromWebhook := true
	since := in.clock.Now().Add(-cooldown)
	found, err := in.lister.ListRequests(ctx, savecode.ListFilter{
		VisitType:   key.VisitType,
		OriginURL:   key.OriginURL,
		FromWebhook: &fromWebhook,
		Since:       &since,
	}, savecode.Page{Limit: 1})
	if err != nil {
		return savecode.SaveRequest{}, false, fmt.Errorf("cooldown lookup: %w", err)
	}
	if len(found) == 0 {
		return savecode.SaveRequest{}, false, nil
	}
	return found[0], true, nil
}

func (in *Ingestor) lock(key savecode.OriginKey) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key.String()))
	mu := &in.keyLocks[h.Sum32()%keyLockStripes]
	mu.Lock()
	return mu.Unlock
}
