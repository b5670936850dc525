// Package app wires the bridge components from config for the server and the sync CLI.
package app

import (
	"context"
	"crypto"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"lms-bridge/internal/audit"
	auditrepo "lms-bridge/internal/audit/repository"
	"lms-bridge/internal/bridge"
	catalogrepo "lms-bridge/internal/catalog/repository"
	catalogservice "lms-bridge/internal/catalog/service"
	"lms-bridge/internal/config"
	"lms-bridge/internal/db"
	enrollmentrepo "lms-bridge/internal/enrollment/repository"
	identityservice "lms-bridge/internal/identity/service"
	"lms-bridge/internal/lms"
	"lms-bridge/internal/metrics"
	"lms-bridge/internal/policy/engine"
	"lms-bridge/internal/security"
	"lms-bridge/internal/server/interceptors"
	"lms-bridge/internal/sso"
	"lms-bridge/internal/telemetry"
	otelsetup "lms-bridge/internal/telemetry/otel"
	"lms-bridge/internal/telemetry/producer"
	userrepo "lms-bridge/internal/user/repository"
)

const (
	serviceName = "lms-bridge"
	// accessTTL applies to tokens issued by the seed tool.
	accessTTL = time.Hour
)

// App holds the shared components. Build the bridge surface with BuildBridge.
type App struct {
	Config    *config.Config
	Log       *logrus.Logger
	DB        *sql.DB
	Metrics   *metrics.Metrics
	Telemetry *otelsetup.Providers
	Events    telemetry.EventEmitter
	Audit     *audit.Logger
	LMS       *lms.Client
	Catalog   *catalogservice.Orchestrator

	Users   *userrepo.PostgresRepository
	Courses *catalogrepo.PostgresRepository

	producer *producer.KafkaProducer
}

// New opens the database, telemetry and external client and builds the catalog orchestrator.
// Call Close when done.
func New(ctx context.Context, cfg *config.Config, log *logrus.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log, Metrics: metrics.New()}
	ok := false
	defer func() {
		if !ok {
			a.Close(context.Background())
		}
	}()

	var err error
	a.Telemetry, err = otelsetup.NewProviders(ctx, otelsetup.Options{
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: serviceName,
		Environment: cfg.Env,
		Insecure:    cfg.OTLPInsecure,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	a.Telemetry.SetGlobal()

	a.producer, err = producer.NewKafkaProducer(cfg.KafkaBrokersList(), cfg.EventsKafkaTopic)
	if err != nil {
		return nil, fmt.Errorf("kafka: %w", err)
	}
	emitters := []telemetry.EventEmitter{otelsetup.NewEventEmitter(a.Telemetry.LoggerProvider)}
	if a.producer != nil {
		emitters = append(emitters, a.producer)
	}
	a.Events = telemetry.Multi(emitters...)

	a.DB, err = db.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	a.Audit = audit.NewLogger(auditrepo.NewPostgresRepository(a.DB), interceptors.ClientIP, log).
		WithActor(interceptors.Actor)
	a.Users = userrepo.NewPostgresRepository(a.DB)
	a.Courses = catalogrepo.NewPostgresRepository(a.DB)

	a.LMS, err = lms.NewClient(lms.Options{
		BaseURL: cfg.LMSBaseURL,
		Token:   cfg.LMSToken,
		Timeout: cfg.LMSTimeoutDuration(),
		Logger:  log,
		Metrics: a.Metrics,
	})
	if err != nil {
		return nil, err
	}

	reconciler := catalogservice.NewReconciler(a.LMS, a.Courses, catalogservice.Options{
		Workers:         cfg.SyncWorkers,
		DefaultCurrency: cfg.DefaultCurrency,
		Logger:          log,
		Metrics:         a.Metrics,
		Audit:           a.Audit,
		Events:          a.Events,
	})
	a.Catalog = catalogservice.NewOrchestrator(reconciler, catalogservice.OrchestratorOptions{
		Locker:  a.syncLock,
		Logger:  log,
		Metrics: a.Metrics,
		Audit:   a.Audit,
		Events:  a.Events,
	})
	ok = true
	return a, nil
}

// syncLock is the cross-process guard shared by the server and the sync CLI.
func (a *App) syncLock(ctx context.Context) (func(), bool, error) {
	return db.TryAdvisoryLock(ctx, a.DB, db.LockKey("catalog-sync", ""))
}

// NewProvisioner builds the identity provisioner over the secret store. SECRET_IDENTITY is only
// needed to open stored passwords.
func (a *App) NewProvisioner() (*identityservice.Provisioner, error) {
	cfg := a.Config
	sealer, err := security.NewSealer(cfg.SecretRecipient, cfg.SecretIdentity)
	if err != nil {
		return nil, fmt.Errorf("secret store: %w", err)
	}
	return identityservice.NewProvisioner(a.Users, a.LMS, sealer, identityservice.Options{
		PasswordPrefix: cfg.ExternalPasswordPrefix,
		PasswordSuffix: cfg.ExternalPasswordSuffix,
		AuthMethod:     cfg.ExternalAuthMethod,
		Logger:         a.Log,
		Metrics:        a.Metrics,
		Audit:          a.Audit,
		Events:         a.Events,
	}), nil
}

// BuildBridge builds the provisioner, SSO minter and access policy and returns the bridge service
// with the policy engine (for readiness checks). The secret store recipient and the SSO shared
// secret must be configured.
func (a *App) BuildBridge(ctx context.Context) (*bridge.Service, *engine.OPAEvaluator, error) {
	cfg := a.Config
	provisioner, err := a.NewProvisioner()
	if err != nil {
		return nil, nil, err
	}
	minter, err := sso.NewMinter(sso.Options{
		LoginURL:      cfg.SSOURL(),
		Secret:        cfg.SSOSharedSecret,
		TTL:           cfg.SSOTTLDuration(),
		TokenParam:    cfg.SSOTokenParam,
		RedirectParam: cfg.SSORedirectParam,
		Logger:        a.Log,
		Metrics:       a.Metrics,
		Audit:         a.Audit,
		Events:        a.Events,
	})
	if err != nil {
		return nil, nil, err
	}
	policy, err := engine.NewOPAEvaluator(ctx, "")
	if err != nil {
		return nil, nil, fmt.Errorf("policy: %w", err)
	}
	svc := bridge.NewService(bridge.Deps{
		Catalog:     a.Catalog,
		Platform:    a.LMS,
		Provisioner: provisioner,
		Minter:      minter,
		Users:       a.Users,
		Courses:     a.Courses,
		Enrollments: enrollmentrepo.NewPostgresRepository(a.DB),
		AuditLogs:   auditrepo.NewPostgresRepository(a.DB),
		Policy:      policy,
		Logger:      a.Log,
	})
	return svc, policy, nil
}

// NewTokenProvider builds the access token verifier from the JWT_* settings. The private key is
// optional and only needed to issue tokens (seed tool); without a public key its public half is used.
func NewTokenProvider(cfg *config.Config) (*security.TokenProvider, error) {
	var signer crypto.Signer
	if cfg.JWTPrivateKey != "" {
		priv, err := security.ParsePrivateKey(cfg.JWTPrivateKey)
		if err != nil {
			return nil, fmt.Errorf("JWT_PRIVATE_KEY: %w", err)
		}
		signer = priv
	}
	var pub crypto.PublicKey
	switch {
	case cfg.JWTPublicKey != "":
		k, err := security.ParsePublicKey(cfg.JWTPublicKey)
		if err != nil {
			return nil, fmt.Errorf("JWT_PUBLIC_KEY: %w", err)
		}
		pub = k
	case signer != nil:
		pub = signer.Public()
	default:
		return nil, errors.New("JWT_PUBLIC_KEY is required")
	}
	return security.NewTokenProvider(signer, pub, cfg.JWTIssuer, cfg.JWTAudience, accessTTL), nil
}

// Close releases everything New opened, in reverse order. Safe on a partially built App.
func (a *App) Close(ctx context.Context) {
	if a.DB != nil {
		_ = a.DB.Close()
	}
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.Log.WithError(err).Warn("kafka producer close failed")
		}
	}
	if a.Telemetry != nil {
		if err := a.Telemetry.Shutdown(ctx); err != nil {
			a.Log.WithError(err).Warn("telemetry shutdown failed")
		}
	}
}
