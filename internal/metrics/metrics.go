package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "automailer"

// Skip reasons recorded by ContactsSkipped.
const (
	ReasonInvalidEmail = "invalid_email"
)

// Metrics groups the counters exported during a run. All methods are safe
// on a nil receiver so components can run without instrumentation.
type Metrics struct {
	Contacts         prometheus.Counter
	ContactsSkipped  *prometheus.CounterVec
	SendAttempts     prometheus.Counter
	EmailsSent       prometheus.Counter
	EmailsFailed     prometheus.Counter
	AttachmentErrors prometheus.Counter
	QueueDepth       prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Contacts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "contacts_total",
			Help:      "Contact rows taken off the queue.",
		}),
		ContactsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "contacts_skipped_total",
			Help:      "Contact rows dropped before transmission.",
		}, []string{"reason"}),
		SendAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_attempts_total",
			Help:      "Transmission attempts, including retries.",
		}),
		EmailsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "emails_sent_total",
			Help:      "Emails accepted by the transport.",
		}),
		EmailsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "emails_failed_total",
			Help:      "Emails abandoned after every attempt failed.",
		}),
		AttachmentErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attachment_errors_total",
			Help:      "Attachments skipped because they could not be read.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Contact rows waiting to be prepared.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.Contacts,
			m.ContactsSkipped,
			m.SendAttempts,
			m.EmailsSent,
			m.EmailsFailed,
			m.AttachmentErrors,
			m.QueueDepth,
		)
	}
	return m
}

// SetQueueDepth records the current queue depth.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

// IncContacts counts a dequeued contact row.
func (m *Metrics) IncContacts() {
	if m == nil {
		return
	}
	m.Contacts.Inc()
}

// IncSkipped counts a contact dropped for reason.
func (m *Metrics) IncSkipped(reason string) {
	if m == nil {
		return
	}
	m.ContactsSkipped.WithLabelValues(reason).Inc()
}

// IncAttempts counts one transmission attempt.
func (m *Metrics) IncAttempts() {
	if m == nil {
		return
	}
	m.SendAttempts.Inc()
}

// IncSent counts a delivered email.
func (m *Metrics) IncSent() {
	if m == nil {
		return
	}
	m.EmailsSent.Inc()
}

// IncFailed counts an abandoned email.
func (m *Metrics) IncFailed() {
	if m == nil {
		return
	}
	m.EmailsFailed.Inc()
}

// IncAttachmentErrors counts an unreadable attachment.
func (m *Metrics) IncAttachmentErrors() {
	if m == nil {
		return
	}
	m.AttachmentErrors.Inc()
}
