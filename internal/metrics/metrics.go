// Package metrics counts session and message events with Prometheus.
//
// A nil *Metrics is valid and records nothing, so services can be built
// without a registry.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"sesame/internal/domain"
)

// Roles for SessionBuilt.
const (
	RoleInitiator = "initiator"
	RoleResponder = "responder"
)

// Metrics holds the collectors for one protocol instance.
type Metrics struct {
	sessionsBuilt     *prometheus.CounterVec
	messagesEncrypted *prometheus.CounterVec
	messagesDecrypted *prometheus.CounterVec
	decryptFailures   *prometheus.CounterVec
}

// New creates the collectors and registers them with reg when reg is not nil.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		sessionsBuilt: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sesame",
			Name:      "sessions_built_total",
			Help:      "Sessions created by handshake role",
		}, []string{"role"}),
		messagesEncrypted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sesame",
			Name:      "messages_encrypted_total",
			Help:      "Messages encrypted by message type",
		}, []string{"type"}),
		messagesDecrypted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sesame",
			Name:      "messages_decrypted_total",
			Help:      "Messages decrypted by message type",
		}, []string{"type"}),
		decryptFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sesame",
			Name:      "decrypt_failures_total",
			Help:      "Failed decryptions by reason",
		}, []string{"reason"}),
	}
	if reg != nil {
		for _, c := range m.collectors() {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.sessionsBuilt, m.messagesEncrypted, m.messagesDecrypted, m.decryptFailures}
}

// SessionBuilt counts a new session state for role.
func (m *Metrics) SessionBuilt(role string) {
	if m == nil {
		return
	}
	m.sessionsBuilt.WithLabelValues(role).Inc()
}

// MessageEncrypted counts an outgoing message.
func (m *Metrics) MessageEncrypted(t domain.MessageType) {
	if m == nil {
		return
	}
	m.messagesEncrypted.WithLabelValues(t.String()).Inc()
}

// MessageDecrypted counts an incoming message that authenticated.
func (m *Metrics) MessageDecrypted(t domain.MessageType) {
	if m == nil {
		return
	}
	m.messagesDecrypted.WithLabelValues(t.String()).Inc()
}

// DecryptFailed counts a failed decryption under the reason derived from err.
func (m *Metrics) DecryptFailed(err error) {
	if m == nil {
		return
	}
	m.decryptFailures.WithLabelValues(Reason(err)).Inc()
}

var reasons = []struct {
	err    error
	reason string
}{
	{domain.ErrUntrustedIdentity, "untrusted_identity"},
	{domain.ErrNoSession, "no_session"},
	{domain.ErrNoUsablePreKey, "no_usable_prekey"},
	{domain.ErrDuplicateMessage, "duplicate"},
	{domain.ErrMessageTooOld, "too_old"},
	{domain.ErrMessageTooNew, "too_new"},
	{domain.ErrInvalidMessage, "invalid"},
}

// Reason maps err to a low-cardinality label value.
func Reason(err error) string {
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return "other"
}
