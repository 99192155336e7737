package credflow

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/credflow/internal/audit"
	"github.com/MrEthical07/credflow/internal/outbox"
	"github.com/MrEthical07/credflow/jwt"
	"github.com/MrEthical07/credflow/notify"
	"github.com/MrEthical07/credflow/password"
	"github.com/MrEthical07/credflow/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Builder assembles an [Engine]. A Builder is single-use: configure it, call
// Build once and discard it.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	users     UserStore
	notifier  Notifier
	auditSink AuditSink
	logger    *zap.Logger
	registry  prometheus.Registerer
	now       func() time.Time

	built bool
}

// New returns a Builder holding [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithUserStore(users UserStore) *Builder {
	b.users = users
	return b
}

// WithNotifier sets the email sender. Without one, notifications are logged
// (recipient and template only).
func (b *Builder) WithNotifier(n Notifier) *Builder {
	b.notifier = n
	return b
}

// WithAuditSink sets the audit sink and enables auditing.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithMetricsRegisterer enables Prometheus counters on reg.
func (b *Builder) WithMetricsRegisterer(reg prometheus.Registerer) *Builder {
	b.registry = reg
	b.config.Metrics.Enabled = true
	return b
}

// WithClock overrides the clock used for token issuance and validation.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build validates the configuration and starts the notification and audit
// workers. Call [Engine.Close] to drain them.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.users == nil {
		return nil, errors.New("user store required")
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("credflow")

	hasher, err := password.NewArgon2(password.Config{
		Memory:           cfg.Password.Memory,
		Time:             cfg.Password.Time,
		Parallelism:      cfg.Password.Parallelism,
		SaltLength:       cfg.Password.SaltLength,
		KeyLength:        cfg.Password.KeyLength,
		MaxPasswordBytes: cfg.Password.MaxBytes,
		Pepper:           cfg.Password.Pepper,
	})
	if err != nil {
		return nil, err
	}
	if cfg.Password.Pepper == "" {
		logger.Warn("no password pepper configured, using the built-in default")
	}

	codec, err := jwt.NewCodec(jwt.Config{
		Issuer:  cfg.Tokens.Issuer,
		Leeway:  cfg.Tokens.Leeway,
		Access:  jwt.KeyConfig{Secret: cfg.Tokens.AccessSecret, TTL: cfg.Tokens.AccessTTL},
		Refresh: jwt.KeyConfig{Secret: cfg.Tokens.RefreshSecret, TTL: cfg.Tokens.RefreshTTL},
		Signup:  jwt.KeyConfig{Secret: cfg.Tokens.SignupSecret, TTL: cfg.Tokens.SignupTTL},
		Reset:   jwt.KeyConfig{Secret: cfg.Tokens.ResetSecret, TTL: cfg.Tokens.ResetTTL},
		Now:     now,
	})
	if err != nil {
		return nil, err
	}

	var metrics *Metrics
	if cfg.Metrics.Enabled {
		reg := b.registry
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		metrics, err = NewMetrics(reg, cfg.Metrics.Namespace)
		if err != nil {
			return nil, err
		}
	}

	sender := b.notifier
	if sender == nil {
		sender = notify.NewLogSender(logger)
	}
	notifier := outbox.New[notify.Message](outbox.Config{
		Name:            outboxNotify,
		BufferSize:      cfg.Outbox.BufferSize,
		DropIfFull:      cfg.Outbox.DropIfFull,
		DeliveryTimeout: cfg.Outbox.DeliveryTimeout,
		OnDrop:          func() { metrics.drop(outboxNotify) },
	}, sender.Send, logger)

	var auditor *outbox.Dispatcher[audit.Event]
	if cfg.Audit.Enabled || b.auditSink != nil {
		sink := b.auditSink
		if sink == nil {
			sink = audit.NewZapSink(logger)
		}
		bufferSize := cfg.Audit.BufferSize
		if bufferSize <= 0 {
			bufferSize = defaultConfig().Audit.BufferSize
		}
		auditor = outbox.New[audit.Event](outbox.Config{
			Name:       outboxAudit,
			BufferSize: bufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
			OnDrop:     func() { metrics.drop(outboxAudit) },
		}, func(ctx context.Context, event audit.Event) error {
			sink.Emit(ctx, event)
			return nil
		}, logger)
	}

	b.built = true

	return &Engine{
		config:   cfg,
		users:    b.users,
		sessions: session.NewStore(b.redis, cfg.Session.RedisPrefix),
		hasher:   hasher,
		codec:    codec,
		notifier: notifier,
		audit:    auditor,
		metrics:  metrics,
		stats:    newFlowCounter(),
		logger:   logger,
		now:      now,
	}, nil
}
