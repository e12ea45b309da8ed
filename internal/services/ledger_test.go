package services

import (
	"testing"
	"time"

	"github.com/samber/do"
	"github.com/stretchr/testify/assert"
)

func TestLedgerLockOutlivesRailCall(t *testing.T) {
	policy := DefaultPolicy()
	assert.Greater(t, ledgerLockExpiry(policy), policy.RailTimeout)
	assert.Equal(t, 60*time.Second, ledgerLockExpiry(policy))

	policy.RailTimeout = 2 * time.Minute
	assert.Equal(t, 2*time.Minute+LEDGER_LOCK_MARGIN, ledgerLockExpiry(policy))

	policy.RailTimeout = time.Millisecond
	assert.Equal(t, LEDGER_LOCK_EXPIRY, ledgerLockExpiry(policy))
}

func TestServiceLedgerUsesPolicyExpiry(t *testing.T) {
	env := newTestEnv(t)
	ledger := do.MustInvoke[*ServiceLedger](env.container)
	policy := do.MustInvoke[Policy](env.container)
	assert.Equal(t, ledgerLockExpiry(policy), ledger.lockExpiry)
}
