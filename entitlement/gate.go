// Package entitlement decides whether a synchronous request gets clean output,
// watermarked output or a paywall.
package entitlement

import (
	"context"
	"errors"
	"time"

	"snaptosize/failures"
	"snaptosize/logger"
	"snaptosize/metrics"
	"snaptosize/utils"
)

type Mode string

const (
	ModePro  Mode = "pro"
	ModeDemo Mode = "demo"
)

// browserTokenLength is the size of tokens issued to first-time demo callers.
const browserTokenLength = 32

var log = logger.With("gate")

// Decision is the gate's answer. Identity is the identity to record usage
// against; it carries Token when one was issued.
type Decision struct {
	Mode     Mode
	Token    string
	Identity Identity
}

// Watermarked reports whether output must carry the label.
func (d Decision) Watermarked() bool {
	return d.Mode != ModePro
}

// Gate combines the oracle with the usage ledger.
type Gate struct {
	oracle Oracle
	ledger *Ledger
	now    func() time.Time
}

func NewGate(oracle Oracle, ledger *Ledger) *Gate {
	return &Gate{oracle: oracle, ledger: ledger, now: time.Now}
}

// Unlock verifies a completed checkout and returns the handle to use as the
// session token from now on.
func (g *Gate) Unlock(ctx context.Context, sessionID string) (string, error) {
	if sessionID == "" {
		return "", failures.New(failures.KindInputMissing, "checkout session id is required")
	}
	ok, handle, err := g.oracle.UnlockFromSession(ctx, sessionID)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		metrics.OracleCalls.WithLabelValues("unavailable").Inc()
		log.Warnf("unlock of checkout session failed: %v", err)
		return "", failures.Wrap(failures.KindOracleUnavailable, err, "subscription provider is unavailable, try again shortly")
	}
	if !ok {
		metrics.OracleCalls.WithLabelValues("negative").Inc()
		return "", failures.New(failures.KindPaywall, "checkout is not paid or the subscription is inactive")
	}
	metrics.OracleCalls.WithLabelValues("entitled").Inc()
	log.Infof("unlocked session for %s", mask(handle))
	return handle, nil
}

// consult asks the oracle about the session handle. Unavailability counts as
// not entitled and is logged apart from a negative answer.
func (g *Gate) consult(ctx context.Context, id Identity) (bool, error) {
	if id.SessionToken == "" {
		return false, nil
	}
	ok, err := g.oracle.IsEntitled(ctx, id.SessionToken)
	if err != nil && ctx.Err() != nil {
		return false, ctx.Err()
	}
	switch {
	case err != nil && errors.Is(err, ErrProviderUnavailable):
		metrics.OracleCalls.WithLabelValues("unavailable").Inc()
		log.Warnf("oracle unavailable for %s, treating as not entitled: %v", id, err)
	case err != nil:
		metrics.OracleCalls.WithLabelValues("unavailable").Inc()
		log.Warnf("oracle failed for %s, treating as not entitled: %v", id, err)
	case ok:
		metrics.OracleCalls.WithLabelValues("entitled").Inc()
		return true, nil
	default:
		metrics.OracleCalls.WithLabelValues("negative").Inc()
		log.Debugf("oracle says %s is not entitled", id)
	}
	return false, nil
}

// Entitled reports whether id may use pro-only features. The ledger is not consulted.
func (g *Gate) Entitled(ctx context.Context, id Identity) (bool, error) {
	return g.consult(ctx, id)
}

// Check returns pro for entitled identities. Otherwise it returns demo when
// every present component is outside the cooldown, and a paywall error when not.
func (g *Gate) Check(ctx context.Context, id Identity) (Decision, error) {
	entitled, err := g.consult(ctx, id)
	if err != nil {
		return Decision{}, err
	}
	if entitled {
		metrics.GateDecisions.WithLabelValues(string(ModePro)).Inc()
		log.Debugf("pro access for %s", id)
		return Decision{Mode: ModePro, Identity: id}, nil
	}

	fresh, err := g.ledger.Fresh(id, g.now())
	if err != nil {
		return Decision{}, failures.Wrap(failures.KindInternal, err, "usage ledger unavailable")
	}
	if !fresh {
		metrics.GateDecisions.WithLabelValues("paywall").Inc()
		log.Infof("free use exhausted for %s", id)
		return Decision{}, failures.New(failures.KindPaywall, "the free export is used up for today; subscribe for unlimited, unwatermarked packs")
	}

	d := Decision{Mode: ModeDemo, Identity: id}
	if id.BrowserToken == "" {
		token, err := utils.GenerateToken(browserTokenLength)
		if err != nil {
			return Decision{}, failures.Wrap(failures.KindInternal, err, "cannot issue browser token")
		}
		d.Token = token
		d.Identity.BrowserToken = token
	}
	metrics.GateDecisions.WithLabelValues(string(ModeDemo)).Inc()
	log.Debugf("demo access for %s", d.Identity)
	return d, nil
}

// MarkUsed records a completed free use. Pro decisions record nothing.
func (g *Gate) MarkUsed(ctx context.Context, d Decision) error {
	if d.Mode == ModePro {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := g.ledger.MarkUsed(d.Identity, g.now()); err != nil {
		return failures.Wrap(failures.KindInternal, err, "cannot record usage")
	}
	return nil
}
