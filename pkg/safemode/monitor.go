package safemode

import (
	"io"
	"strings"

	"github.com/richmills3/bitcoin-sv/internal/logger"
	"github.com/richmills3/bitcoin-sv/pkg/alert"
	"github.com/richmills3/bitcoin-sv/pkg/chain"
	"github.com/richmills3/bitcoin-sv/pkg/config"
	"github.com/richmills3/bitcoin-sv/pkg/webhook"
)

// Monitor maintains the safe-mode assessment over the block-index DAG. It is
// a passive object: consensus processing calls Check after every change to
// the index or the active chain, holding the chain lock.
//
// Lock order: the chain lock is always acquired before the fork-table lock,
// never the other way around.
type Monitor struct {
	cfg    *config.SafeModeConfig
	chain  *chain.ChainState
	alerts alert.Notifier
	log    *logger.Logger

	// onChange observes every changed result (metrics, websocket pushes).
	// Called with both locks held; must not block.
	onChange func(*Result)

	// mu guards everything below
	mu          chain.Mutex
	forks       *forkTable
	lastResult  *Result
	lastSeenTip *chain.BlockIndex
	level       Level
	webhooks    *webhook.Dispatcher // constructed lazily on first emission
}

// NewMonitor creates a monitor bound to a chain state
func NewMonitor(cfg *config.SafeModeConfig, c *chain.ChainState, alerts alert.Notifier, log *logger.Logger) *Monitor {
	return &Monitor{
		cfg:    cfg,
		chain:  c,
		alerts: alerts,
		log:    log,
		forks:  newForkTable(),
	}
}

// SetChangeHook registers an observer for changed results
func (m *Monitor) SetChangeHook(fn func(*Result)) {
	m.onChange = fn
}

// Level returns the current process-wide safe-mode level
func (m *Monitor) Level() Level {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level
}

// ForkCount returns the number of tracked fork tips
func (m *Monitor) ForkCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.forks.len()
}

// Check re-evaluates the safe-mode state. newIdx is the block index that
// triggered the call, or nil for an unspecified change (which forces a full
// fork-table rebuild). Caller holds the chain lock.
func (m *Monitor) Check(newIdx *chain.BlockIndex) {
	m.chain.Lock.AssertHeld()

	if newIdx != nil && newIdx.IsGenesis() {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// The remembered tip having left the active chain means a reorg
	// happened since the last check
	reorgHappened := m.lastSeenTip != nil && !m.chain.Contains(m.lastSeenTip)

	if reorgHappened || newIdx == nil {
		m.forks.rebuild(m.cfg, m.chain)
	} else {
		m.forks.insertNew(m.cfg, m.chain, newIdx)
	}

	m.forks.revalidate(m.chain)
	m.forks.prune(m.cfg, m.chain)

	newResult := newResult(m.chain.Tip())
	for tip, base := range m.forks.forks {
		effectiveTip := excludeIgnoredBlocks(tip, base)
		if effectiveTip == nil {
			continue
		}
		level := shouldTriggerSafeMode(m.cfg, m.chain, effectiveTip, base)
		if level == LevelNone {
			continue
		}
		// The document shows the tip the node actually saw, even when a
		// truncated tip drove the classification
		newResult.addFork(tip, base, level)
	}

	changed := !newResult.Equal(m.lastResult)
	if m.lastResult == nil {
		// The first assessment only counts as a change when it finds
		// something to report
		changed = newResult.MaxLevel != LevelNone || len(newResult.Forks) > 0
	}
	if changed && m.cfg.WebhookAddress != "" {
		if doc, err := newResult.MarshalDocument(m.chain, false); err != nil {
			m.log.WithError(err).Error("Failed to serialise safe-mode status")
		} else {
			m.notifyWebhook(doc)
			m.log.WithField("status", string(doc)).Warn("Safe mode status changed")
		}
	}

	m.lastResult = newResult
	m.lastSeenTip = m.chain.Tip()

	if m.level != newResult.MaxLevel {
		m.level = newResult.MaxLevel
		m.log.WithField("level", m.level.String()).Warn("Safe mode level changed")

		if m.level == LevelValid {
			msg := "Warning: Large-work fork detected, forking after block:"
			for _, f := range newResult.sortedForks() {
				if f.Base.Parent != nil {
					msg += " " + f.Base.Parent.Hash.String()
				}
			}
			m.alerts.Alert(msg)
		}
	}

	if changed && m.onChange != nil {
		m.onChange(newResult)
	}
}

// Clear resets the monitor: the fork table, the remembered tip and the
// cached result are all dropped, so the next Check rebuilds from scratch and,
// like the first check after startup, re-emits the status document when it
// finds a fork or a non-NONE level. Does not require the chain lock.
func (m *Monitor) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastSeenTip = nil
	m.lastResult = nil
	m.forks = newForkTable()
	m.log.Info("Safe mode state cleared")
}

// WriteStatus serialises the cached result of the last check to the sink.
// Caller holds the chain lock.
func (m *Monitor) WriteStatus(w io.Writer, pretty bool) error {
	m.chain.Lock.AssertHeld()

	m.mu.Lock()
	defer m.mu.Unlock()

	res := m.lastResult
	if res == nil {
		res = newResult(nil)
	}
	return res.WriteDocument(w, m.chain, pretty)
}

// Shutdown stops the webhook dispatcher, draining queued notifications
func (m *Monitor) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.webhooks != nil {
		m.webhooks.Stop()
		m.webhooks = nil
	}
}

// notifyWebhook enqueues the compact document, CRLF-terminated, to the
// configured endpoint. Delivery is asynchronous; this never blocks on I/O.
func (m *Monitor) notifyWebhook(doc []byte) {
	if m.webhooks == nil {
		m.webhooks = webhook.NewDispatcher(webhook.Config{
			Address:      m.cfg.WebhookAddress,
			Timeout:      m.cfg.WebhookTimeout,
			QueueSize:    m.cfg.WebhookQueueSize,
			MaxRetries:   m.cfg.WebhookMaxRetries,
			RetryBackoff: m.cfg.WebhookRetryBackoff,
		}, m.log)
	}

	body := make([]byte, 0, len(doc)+2)
	body = append(body, doc...)
	body = append(body, '\r', '\n')
	m.webhooks.Submit(body)
}

// StatusString returns the cached result rendered as a string, for the API
// and the operator CLI. Caller holds the chain lock.
func (m *Monitor) StatusString(pretty bool) (string, error) {
	var sb strings.Builder
	if err := m.WriteStatus(&sb, pretty); err != nil {
		return "", err
	}
	return sb.String(), nil
}
