// Package refund is the posting-fee refund policy engine.
//
// Flow:
//  1. Seller publishes a listing and pays the posting fee → PostPayment anchor
//  2. Listing lifecycle ends (seller archives it or it expires unsold)
//  3. The engine classifies the post into a refund scenario and a rate
//  4. A Refund row is created, then the wallet payout runs (or an admin
//     approves it first on the manual path)
//
// Classification is priority ordered: a fraud signal blocks everything at
// rate zero, chat activity on the post overrides the time-based scenarios,
// and otherwise the rate depends on how long the listing lived after review.
// The rate is snapshotted onto the Refund row so later policy edits never
// change an already settled refund. At most one Refund exists per post.
package refund

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/voltmarket/voltmarket/internal/listing"
	"github.com/voltmarket/voltmarket/internal/metrics"
	"github.com/voltmarket/voltmarket/internal/money"
	"github.com/voltmarket/voltmarket/internal/policy"
	"github.com/voltmarket/voltmarket/internal/servicetype"
	"github.com/voltmarket/voltmarket/internal/wallet"
)

var (
	ErrRefundNotFound      = errors.New("refund: not found")
	ErrForbidden           = errors.New("refund: caller is not the post's seller")
	ErrPostPaymentNotFound = errors.New("refund: post payment not found")
	ErrPostPaymentExists   = errors.New("refund: post payment already collected")
	ErrAlreadyRefunded     = errors.New("refund: post already refunded")
	ErrNotEligible         = errors.New("refund: post not eligible for refund")
	ErrInvalidStatus       = errors.New("refund: invalid status for operation")
	ErrInvalidRate         = errors.New("refund: rate must be between 0 and 100")
)

// Scenario classifies why a post is being refunded.
type Scenario string

const (
	ScenarioFraud        Scenario = "FRAUD"
	ScenarioChatActivity Scenario = "CHAT_ACTIVITY"
	ScenarioCancelEarly  Scenario = "CANCEL_EARLY"
	ScenarioCancelLate   Scenario = "CANCEL_LATE"
	ScenarioExpired      Scenario = "EXPIRED"
)

// Status tracks a refund through its settlement.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusRefunded Status = "REFUNDED"
	StatusFailed   Status = "FAILED"
	StatusRejected Status = "REJECTED"
)

// FraudStatus is the external fraud signal for a post.
type FraudStatus string

const (
	FraudNone      FraudStatus = "NONE"
	FraudSuspected FraudStatus = "SUSPECTED"
	FraudConfirmed FraudStatus = "CONFIRMED"
)

// PostPayment anchors the fee a seller paid to publish a post. It is written
// once when the fee is collected and never mutated afterwards.
type PostPayment struct {
	PostID              string          `json:"postId"`
	AccountID           string          `json:"accountId"`
	AmountPaid          decimal.Decimal `json:"amountPaid"`
	WalletTransactionID string          `json:"walletTransactionId"`
	CreatedAt           time.Time       `json:"createdAt"`
}

// Refund is one settlement decision for a post. PolicyRatePercent is the
// snapshot taken at classification time.
type Refund struct {
	ID                  string          `json:"id"`
	PostID              string          `json:"postId"`
	AccountID           string          `json:"accountId"`
	Scenario            Scenario        `json:"scenario"`
	PolicyRatePercent   int64           `json:"policyRatePercent"`
	AmountOriginal      decimal.Decimal `json:"amountOriginal"`
	AmountRefund        decimal.Decimal `json:"amountRefund"`
	Status              Status          `json:"status"`
	Reason              string          `json:"reason,omitempty"`
	WalletTransactionID string          `json:"walletTransactionId,omitempty"`
	RefundedAt          *time.Time      `json:"refundedAt,omitempty"`
	CreatedAt           time.Time       `json:"createdAt"`
	UpdatedAt           time.Time       `json:"updatedAt"`
}

// Store persists post payments and refunds. CreateRefund must enforce the
// one-refund-per-post invariant and return ErrAlreadyRefunded on a second
// insert, even under concurrent callers.
type Store interface {
	CreatePostPayment(ctx context.Context, p *PostPayment) error
	GetPostPayment(ctx context.Context, postID string) (*PostPayment, error)
	CreateRefund(ctx context.Context, r *Refund) error
	GetRefund(ctx context.Context, id string) (*Refund, error)
	GetRefundByPost(ctx context.Context, postID string) (*Refund, error)
	UpdateRefund(ctx context.Context, r *Refund) error
	// UpdateRefundIf applies the update only while the row is still in
	// status from, returning ErrInvalidStatus when another settler got
	// there first. This is the atomic claim guarding the wallet payout.
	UpdateRefundIf(ctx context.Context, r *Refund, from Status) error
	ListRefunds(ctx context.Context, status Status, limit int) ([]*Refund, error)
	// ListUnrefundedPostIDs returns posts whose fee was collected but that
	// have no Refund row yet, oldest payment first.
	ListUnrefundedPostIDs(ctx context.Context, limit int) ([]string, error)
}

// FraudChecker supplies the external fraud signal for a post.
type FraudChecker interface {
	FraudStatus(ctx context.Context, postID string) (FraudStatus, error)
}

// ChatActivityChecker reports whether any conversation on the post has
// exchanged messages.
type ChatActivityChecker interface {
	HasActivity(ctx context.Context, postID string) (bool, error)
}

// NopFraudChecker reports every post as clean.
type NopFraudChecker struct{}

func (NopFraudChecker) FraudStatus(ctx context.Context, postID string) (FraudStatus, error) {
	return FraudNone, nil
}

// NopChatActivityChecker reports no chat activity on any post.
type NopChatActivityChecker struct{}

func (NopChatActivityChecker) HasActivity(ctx context.Context, postID string) (bool, error) {
	return false, nil
}

// ListingReader exposes the listing lookups the engine needs.
type ListingReader interface {
	Get(ctx context.Context, id string) (*listing.Listing, error)
}

// WalletService moves the refunded funds.
type WalletService interface {
	Deduct(ctx context.Context, ownerID string, amount decimal.Decimal, serviceTypeCode, description string, related wallet.Ref) (*wallet.Wallet, *wallet.Transaction, error)
	Refund(ctx context.Context, ownerID string, amount decimal.Decimal, serviceTypeCode, description string, related wallet.Ref) (*wallet.Wallet, *wallet.Transaction, error)
}

// PolicyProvider reads the refund policy configuration.
type PolicyProvider interface {
	Current(ctx context.Context) (policy.Config, error)
	CommissionRateFor(ctx context.Context, price decimal.Decimal) (int64, error)
}

// Engine classifies posts and settles their refunds.
type Engine struct {
	store    Store
	listings ListingReader
	wallets  WalletService
	policies PolicyProvider
	fraud    FraudChecker
	chat     ChatActivityChecker
	now      func() time.Time
	locks    sync.Map // per-refund ID locks serializing settlement
}

// NewEngine creates a refund engine. Nil fraud/chat checkers fall back to
// the no-op implementations.
func NewEngine(store Store, listings ListingReader, wallets WalletService, policies PolicyProvider, fraud FraudChecker, chat ChatActivityChecker) *Engine {
	if fraud == nil {
		fraud = NopFraudChecker{}
	}
	if chat == nil {
		chat = NopChatActivityChecker{}
	}
	return &Engine{
		store:    store,
		listings: listings,
		wallets:  wallets,
		policies: policies,
		fraud:    fraud,
		chat:     chat,
		now:      time.Now,
	}
}

// CollectPostingFee debits the seller for the post's publication fee and
// writes the PostPayment anchor the engine later refunds against. The fee is
// the tiered commission rate applied to the listing price. A non-empty
// callerID must match the post's seller.
func (e *Engine) CollectPostingFee(ctx context.Context, postID, callerID string) (*PostPayment, error) {
	if _, err := e.store.GetPostPayment(ctx, postID); err == nil {
		return nil, ErrPostPaymentExists
	} else if !errors.Is(err, ErrPostPaymentNotFound) {
		return nil, err
	}

	l, err := e.listings.Get(ctx, postID)
	if err != nil {
		return nil, err
	}
	if callerID != "" && callerID != l.SellerID {
		return nil, ErrForbidden
	}
	rate, err := e.policies.CommissionRateFor(ctx, l.Price)
	if err != nil {
		return nil, err
	}
	fee := money.ApplyPercent(l.Price, rate)
	if !fee.IsPositive() {
		return nil, fmt.Errorf("refund: zero posting fee for post %s: %w", postID, wallet.ErrInvalidAmount)
	}

	_, tx, err := e.wallets.Deduct(ctx, l.SellerID, fee, servicetype.CodePostPayment,
		fmt.Sprintf("posting fee for %s", postID), wallet.Ref{Type: "post", ID: postID})
	if err != nil {
		return nil, err
	}

	p := &PostPayment{
		PostID:              postID,
		AccountID:           l.SellerID,
		AmountPaid:          fee,
		WalletTransactionID: tx.ID,
		CreatedAt:           e.now(),
	}
	if err := e.store.CreatePostPayment(ctx, p); err != nil {
		// Fee was taken but the anchor insert failed. Return it so we do
		// not leave the seller charged with nothing to refund against.
		if _, _, rerr := e.wallets.Refund(ctx, l.SellerID, fee, servicetype.CodePostRefund,
			fmt.Sprintf("posting fee reversal for %s", postID), wallet.Ref{Type: "post", ID: postID}); rerr != nil {
			log.Printf("CRITICAL: posting fee %s taken from %s but anchor insert and reversal both failed: insert=%v reversal=%v",
				fee, l.SellerID, err, rerr)
		}
		return nil, err
	}
	return p, nil
}

// Classify decides the refund scenario and rate for a listing, first match
// wins. Fraud beats everything, chat activity beats the time-based rules.
func (e *Engine) Classify(ctx context.Context, l *listing.Listing) (Scenario, int64, error) {
	cfg, err := e.policies.Current(ctx)
	if err != nil {
		return "", 0, err
	}

	fs, err := e.fraud.FraudStatus(ctx, l.ID)
	if err != nil {
		return "", 0, fmt.Errorf("refund: fraud check for %s: %w", l.ID, err)
	}
	if fs == FraudSuspected || fs == FraudConfirmed {
		return ScenarioFraud, 0, nil
	}

	active, err := e.chat.HasActivity(ctx, l.ID)
	if err != nil {
		return "", 0, fmt.Errorf("refund: chat activity check for %s: %w", l.ID, err)
	}
	if active {
		return ScenarioChatActivity, cfg.ChatActivityRatePercent, nil
	}

	if l.ReviewedAt == nil {
		return "", 0, ErrNotEligible
	}
	days := int64(e.now().Sub(*l.ReviewedAt).Hours() / 24)

	switch l.Status {
	case listing.StatusArchived:
		if days < int64(cfg.EarlyCancelDays) {
			return ScenarioCancelEarly, cfg.CancelEarlyRatePercent, nil
		}
		return ScenarioCancelLate, cfg.CancelLateRatePercent, nil
	case listing.StatusPublished:
		if days >= int64(cfg.LifecycleDays) {
			return ScenarioExpired, cfg.ExpiredRatePercent, nil
		}
		return "", 0, ErrNotEligible
	default:
		return "", 0, ErrNotEligible
	}
}

// rateFor maps a scenario to its configured rate. The switch is exhaustive
// over the Scenario values.
func rateFor(cfg policy.Config, sc Scenario) (int64, error) {
	switch sc {
	case ScenarioFraud:
		return 0, nil
	case ScenarioChatActivity:
		return cfg.ChatActivityRatePercent, nil
	case ScenarioCancelEarly:
		return cfg.CancelEarlyRatePercent, nil
	case ScenarioCancelLate:
		return cfg.CancelLateRatePercent, nil
	case ScenarioExpired:
		return cfg.ExpiredRatePercent, nil
	default:
		return 0, fmt.Errorf("refund: unknown scenario %q", sc)
	}
}

// ScanOnce runs one pass of the automatic refund scan. Failures on a single
// post are logged and skipped so they never halt the rest of the batch. It
// returns how many refund rows were created.
func (e *Engine) ScanOnce(ctx context.Context) (int, error) {
	postIDs, err := e.store.ListUnrefundedPostIDs(ctx, 500)
	if err != nil {
		return 0, err
	}

	created := 0
	for _, postID := range postIDs {
		if err := e.processPost(ctx, postID); err != nil {
			if errors.Is(err, ErrNotEligible) || errors.Is(err, ErrAlreadyRefunded) {
				continue
			}
			log.Printf("refund scan: post %s: %v", postID, err)
			continue
		}
		created++
	}
	return created, nil
}

func (e *Engine) processPost(ctx context.Context, postID string) error {
	payment, err := e.store.GetPostPayment(ctx, postID)
	if err != nil {
		return err
	}
	l, err := e.listings.Get(ctx, postID)
	if err != nil {
		return err
	}
	sc, rate, err := e.Classify(ctx, l)
	if err != nil {
		return err
	}

	r := e.buildRefund(payment, sc, rate)
	if sc == ScenarioFraud {
		// Blocked outright. Record the decision so the post is never
		// re-scanned, but move no funds.
		r.Status = StatusRejected
		r.Reason = "fraud signal on post"
		if err := e.store.CreateRefund(ctx, r); err != nil {
			return err
		}
		metrics.RefundsTotal.WithLabelValues(string(r.Scenario), string(r.Status)).Inc()
		return nil
	}

	if err := e.store.CreateRefund(ctx, r); err != nil {
		return err
	}
	return e.execute(ctx, r)
}

// CreateManual opens a refund for admin review. A scenario override skips
// classification and uses that scenario's configured rate; a custom rate
// overrides the rate entirely. With dryRun the preview is returned without
// touching storage.
func (e *Engine) CreateManual(ctx context.Context, postID string, scenarioOverride Scenario, customRate *int64, dryRun bool) (*Refund, error) {
	if customRate != nil && (*customRate < 0 || *customRate > 100) {
		return nil, ErrInvalidRate
	}

	payment, err := e.store.GetPostPayment(ctx, postID)
	if err != nil {
		return nil, err
	}
	if _, err := e.store.GetRefundByPost(ctx, postID); err == nil {
		return nil, ErrAlreadyRefunded
	} else if !errors.Is(err, ErrRefundNotFound) {
		return nil, err
	}

	var sc Scenario
	var rate int64
	if scenarioOverride != "" {
		cfg, err := e.policies.Current(ctx)
		if err != nil {
			return nil, err
		}
		sc = scenarioOverride
		if rate, err = rateFor(cfg, sc); err != nil {
			return nil, err
		}
	} else {
		l, err := e.listings.Get(ctx, postID)
		if err != nil {
			return nil, err
		}
		if sc, rate, err = e.Classify(ctx, l); err != nil {
			return nil, err
		}
	}
	if customRate != nil {
		rate = *customRate
	}

	r := e.buildRefund(payment, sc, rate)
	if dryRun {
		return r, nil
	}
	if err := e.store.CreateRefund(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// refundLock returns a mutex for the given refund ID.
func (e *Engine) refundLock(id string) *sync.Mutex {
	v, _ := e.locks.LoadOrStore(id, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// Approve executes a manual refund's payout. PENDING rows settle normally;
// FAILED rows may be retried once the ledger problem is fixed, since a
// FAILED payout never moved funds.
func (e *Engine) Approve(ctx context.Context, refundID string) (*Refund, error) {
	mu := e.refundLock(refundID)
	mu.Lock()
	defer mu.Unlock()

	r, err := e.store.GetRefund(ctx, refundID)
	if err != nil {
		return nil, err
	}
	if r.Status != StatusPending && r.Status != StatusFailed {
		return nil, ErrInvalidStatus
	}
	if err := e.execute(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// Reject closes a pending refund without moving funds.
func (e *Engine) Reject(ctx context.Context, refundID, reason string) (*Refund, error) {
	mu := e.refundLock(refundID)
	mu.Lock()
	defer mu.Unlock()

	r, err := e.store.GetRefund(ctx, refundID)
	if err != nil {
		return nil, err
	}
	if r.Status != StatusPending {
		return nil, ErrInvalidStatus
	}
	r.Status = StatusRejected
	r.Reason = reason
	r.UpdatedAt = e.now()
	if err := e.store.UpdateRefundIf(ctx, r, StatusPending); err != nil {
		return nil, err
	}
	metrics.RefundsTotal.WithLabelValues(string(r.Scenario), string(r.Status)).Inc()
	return r, nil
}

// Get returns one refund.
func (e *Engine) Get(ctx context.Context, id string) (*Refund, error) {
	return e.store.GetRefund(ctx, id)
}

// GetByPost returns the refund settled for a post, if any.
func (e *Engine) GetByPost(ctx context.Context, postID string) (*Refund, error) {
	return e.store.GetRefundByPost(ctx, postID)
}

// List returns refunds, optionally filtered to one status.
func (e *Engine) List(ctx context.Context, status Status, limit int) ([]*Refund, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	return e.store.ListRefunds(ctx, status, limit)
}

// PostPaymentFor returns the fee anchor for a post.
func (e *Engine) PostPaymentFor(ctx context.Context, postID string) (*PostPayment, error) {
	return e.store.GetPostPayment(ctx, postID)
}

func (e *Engine) buildRefund(payment *PostPayment, sc Scenario, rate int64) *Refund {
	now := e.now()
	return &Refund{
		ID:                "ref_" + uuid.NewString(),
		PostID:            payment.PostID,
		AccountID:         payment.AccountID,
		Scenario:          sc,
		PolicyRatePercent: rate,
		AmountOriginal:    payment.AmountPaid,
		AmountRefund:      money.ApplyPercent(payment.AmountPaid, rate),
		Status:            StatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// execute settles a refund against the wallet and records the outcome on
// the row. The status-conditional flip to REFUNDED is the claim: only the
// settler that wins it reaches the wallet, so racing approvers can never
// both pay out. Payout failure flips the row to FAILED for manual follow
// up; a FAILED payout moved no funds, so Approve may retry it.
func (e *Engine) execute(ctx context.Context, r *Refund) error {
	from := r.Status
	now := e.now()
	r.Status = StatusRefunded
	r.RefundedAt = &now
	r.UpdatedAt = now
	if err := e.store.UpdateRefundIf(ctx, r, from); err != nil {
		r.Status = from
		r.RefundedAt = nil
		return err
	}

	if r.AmountRefund.IsPositive() {
		_, tx, err := e.wallets.Refund(ctx, r.AccountID, r.AmountRefund, servicetype.CodePostRefund,
			fmt.Sprintf("posting fee refund for %s (%s %d%%)", r.PostID, r.Scenario, r.PolicyRatePercent),
			wallet.Ref{Type: "refund", ID: r.ID})
		if err != nil {
			r.Status = StatusFailed
			r.Reason = err.Error()
			r.RefundedAt = nil
			r.UpdatedAt = e.now()
			if uerr := e.store.UpdateRefund(ctx, r); uerr != nil {
				log.Printf("CRITICAL: refund %s payout failed and status update failed: payout=%v update=%v", r.ID, err, uerr)
			}
			metrics.RefundsTotal.WithLabelValues(string(r.Scenario), string(r.Status)).Inc()
			return nil
		}
		r.WalletTransactionID = tx.ID
		if err := e.store.UpdateRefund(ctx, r); err != nil {
			log.Printf("CRITICAL: refund %s paid out but transaction id not recorded: %v", r.ID, err)
		}
	}
	metrics.RefundsTotal.WithLabelValues(string(r.Scenario), string(r.Status)).Inc()
	return nil
}
